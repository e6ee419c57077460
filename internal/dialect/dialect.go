// Package dialect describes how each supported backend spells a spatial
// filter fragment and how the fragment is marked inside a foreign filter.
package dialect

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mohammed-shakir/spatial-filter/internal/filter"
)

type Kind int

const (
	KindInvalid Kind = iota
	GenericSQL
	SensorThings
)

func (k Kind) String() string {
	switch k {
	case GenericSQL:
		return "generic_sql"
	case SensorThings:
		return "sensorthings"
	}
	return "invalid"
}

func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "generic_sql", "generic", "sql":
		return GenericSQL, nil
	case "sensorthings", "sta":
		return SensorThings, nil
	}
	return KindInvalid, fmt.Errorf("unknown dialect %q", s)
}

// Placeholder names shared by the templates.
const (
	FieldPredicate  = "predicate"
	FieldGeometry   = "geom"
	FieldWKT        = "wkt"
	FieldSourceSRID = "srid"
	FieldTargetSRID = "target_srid"
)

// Fields are the values substituted into, or recovered from, a fragment.
type Fields struct {
	Predicate     string
	GeometryField string
	WKT           string
	SourceSRID    int
	TargetSRID    int
}

// Dialect is the fixed rule set of one backend family.
type Dialect struct {
	Kind Kind

	// StartMarker and StopMarker delimit the owned region in a foreign filter.
	StartMarker string
	StopMarker  string

	// Connector joins the owned region to foreign text.
	Connector string
	// ConnectorInside places the connector after the start marker, inside the
	// owned region, instead of between the foreign text and the start marker.
	ConnectorInside bool

	// InlineReprojection means the backend reprojects the literal itself; when
	// false the geometry is reprojected client-side and carries no SRID.
	InlineReprojection bool
	// SinglePartOnly backends reject multi-part geometry literals.
	SinglePartOnly bool

	tokens   map[filter.Predicate]string
	normCase func(string) string
	tmpl     template
}

const (
	genericStart = "/* SpatialFilter Plugin Start */"
	genericStop  = "/* SpatialFilter Plugin Stop */"

	staStartToken = "SpatialFilter Plugin Start"
	staStopToken  = "SpatialFilter Plugin Stop"
)

var generic = Dialect{
	Kind:               GenericSQL,
	StartMarker:        genericStart,
	StopMarker:         genericStop,
	Connector:          " AND ",
	ConnectorInside:    true,
	InlineReprojection: true,
	// DISJOINT cannot use a spatial index, its negated INTERSECTS can
	tokens: map[filter.Predicate]string{
		filter.Intersects: "ST_INTERSECTS",
		filter.Within:     "ST_WITHIN",
		filter.Disjoint:   "NOT ST_INTERSECTS",
	},
	normCase: strings.ToUpper,
	tmpl: newTemplate(
		ph(FieldPredicate, `[A-Za-z_ ]+?`),
		lit("("),
		ph(FieldGeometry, `.+?`),
		lit(", ST_TRANSFORM(ST_GeomFromText('"),
		ph(FieldWKT, `[^']+`),
		lit("', "),
		ph(FieldSourceSRID, `\d+`),
		lit("), "),
		ph(FieldTargetSRID, `\d+`),
		lit("))"),
	),
}

// SensorThings has no comment syntax, so the markers are always-true clauses.
var sensorThings = Dialect{
	Kind:            SensorThings,
	StartMarker:     sentinel(staStartToken) + " and ",
	StopMarker:      " and " + sentinel(staStopToken),
	Connector:       " and ",
	ConnectorInside: false,
	SinglePartOnly:  true,
	tokens: map[filter.Predicate]string{
		filter.Intersects: "st_intersects",
		filter.Within:     "st_within",
		filter.Disjoint:   "not st_intersects",
	},
	normCase: strings.ToLower,
	tmpl: newTemplate(
		ph(FieldPredicate, `[A-Za-z_ ]+?`),
		lit("("),
		ph(FieldGeometry, `.+?`),
		lit(", geography'"),
		ph(FieldWKT, `[^']+`),
		lit("')"),
	),
}

func sentinel(token string) string {
	return "'" + token + "' eq '" + token + "'"
}

// Get returns the dialect for a kind.
func Get(k Kind) (Dialect, error) {
	switch k {
	case GenericSQL:
		return generic, nil
	case SensorThings:
		return sensorThings, nil
	}
	return Dialect{}, fmt.Errorf("unknown dialect kind %d", int(k))
}

// MustGet is Get for the two compiled-in kinds.
func MustGet(k Kind) Dialect {
	d, err := Get(k)
	if err != nil {
		panic(err)
	}
	return d
}

func All() []Dialect {
	return []Dialect{generic, sensorThings}
}

func (d Dialect) String() string {
	return d.Kind.String()
}

// PredicateToken is the wire spelling of a predicate.
func (d Dialect) PredicateToken(p filter.Predicate) (string, error) {
	t, ok := d.tokens[p]
	if !ok {
		return "", fmt.Errorf("dialect %s: no token for predicate %s", d.Kind, p)
	}
	return t, nil
}

// LookupPredicate maps a token back to a predicate after case and whitespace
// normalisation. The negated intersects form maps to Disjoint.
func (d Dialect) LookupPredicate(token string) (filter.Predicate, bool) {
	norm := d.normCase(strings.Join(strings.Fields(token), " "))
	for p, t := range d.tokens {
		if t == norm {
			return p, true
		}
	}
	return filter.PredicateInvalid, false
}

// Fill renders the fragment template.
func (d Dialect) Fill(f Fields) string {
	values := map[string]string{
		FieldPredicate: f.Predicate,
		FieldGeometry:  f.GeometryField,
		FieldWKT:       f.WKT,
	}
	if d.InlineReprojection {
		values[FieldSourceSRID] = strconv.Itoa(f.SourceSRID)
		values[FieldTargetSRID] = strconv.Itoa(f.TargetSRID)
	}
	return d.tmpl.fill(values)
}

// Match reads a fragment back into its fields. ok is false when the fragment
// does not follow the template.
func (d Dialect) Match(fragment string) (Fields, bool) {
	m, ok := d.tmpl.match(fragment)
	if !ok {
		return Fields{}, false
	}
	f := Fields{
		Predicate:     m[FieldPredicate],
		GeometryField: m[FieldGeometry],
		WKT:           m[FieldWKT],
	}
	if d.InlineReprojection {
		var err error
		if f.SourceSRID, err = strconv.Atoi(m[FieldSourceSRID]); err != nil {
			return Fields{}, false
		}
		if f.TargetSRID, err = strconv.Atoi(m[FieldTargetSRID]); err != nil {
			return Fields{}, false
		}
	}
	return f, true
}
