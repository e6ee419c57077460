// Package codec renders filter definitions into backend fragments, embeds them
// into foreign filter strings and reads them back out.
package codec

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mohammed-shakir/spatial-filter/internal/core/geom"
	"github.com/mohammed-shakir/spatial-filter/internal/core/observability"
	"github.com/mohammed-shakir/spatial-filter/internal/dialect"
	"github.com/mohammed-shakir/spatial-filter/internal/filter"
)

var (
	ErrMalformedEmbedding = errors.New("codec: start marker without matching stop marker")
	ErrTemplateMismatch   = errors.New("codec: fragment does not match dialect template")
	ErrInvalidTarget      = errors.New("codec: invalid render target")
)

// Embedding is the owned fragment found in a filter string plus the foreign
// text left once the marked region is cut out.
type Embedding struct {
	Fragment  string
	Remainder string
}

type Codec struct {
	log *slog.Logger
}

func New(logger *slog.Logger) *Codec {
	if logger == nil {
		logger = slog.Default()
	}
	return &Codec{log: logger}
}

// Render produces the fragment for def against a dataset whose geometry column
// is geomField and whose CRS is target. The result knows nothing about the
// dataset's existing filter.
func (c *Codec) Render(def filter.Definition, d dialect.Dialect, geomField string, target geom.CRS) (string, error) {
	if err := def.Validate(); err != nil {
		observability.ObserveCodecOp("render", d.Kind.String(), err)
		return "", err
	}
	geomField = strings.TrimSpace(geomField)
	if geomField == "" {
		err := fmt.Errorf("%w: empty geometry field", ErrInvalidTarget)
		observability.ObserveCodecOp("render", d.Kind.String(), err)
		return "", err
	}
	if !target.IsValid() {
		err := fmt.Errorf("%w: target crs %q", ErrInvalidTarget, target)
		observability.ObserveCodecOp("render", d.Kind.String(), err)
		return "", err
	}
	token, err := d.PredicateToken(def.Predicate)
	if err != nil {
		observability.ObserveCodecOp("render", d.Kind.String(), err)
		return "", err
	}

	g := def.EffectiveGeometry()
	fields := dialect.Fields{Predicate: token, GeometryField: geomField}

	if d.InlineReprojection {
		fields.SourceSRID = def.CRS.SRID()
		fields.TargetSRID = target.SRID()
	} else {
		if d.SinglePartOnly && g.IsMultiPart() {
			var dropped int
			g, dropped = g.SinglePart()
			c.log.Warn("multi-part geometry coerced to single part",
				"dialect", d.Kind.String(), "filter", def.Name, "dropped_parts", dropped)
		}
		g, err = g.Reproject(def.CRS, target)
		if err != nil {
			observability.ObserveCodecOp("render", d.Kind.String(), err)
			return "", fmt.Errorf("reproject filter geometry: %w", err)
		}
	}
	fields.WKT = g.WKT()

	frag := d.Fill(fields)
	c.log.Debug("rendered fragment", "dialect", d.Kind.String(), "fragment", frag)
	observability.ObserveCodecOp("render", d.Kind.String(), nil)
	return frag, nil
}

// Inject embeds fragment into current, replacing a previous embedding for the
// same dialect. Foreign text is kept byte for byte. On a malformed embedding
// current is returned unchanged together with the error.
func (c *Codec) Inject(current, fragment string, d dialect.Dialect) (string, error) {
	base := current
	if strings.Contains(current, d.StartMarker) {
		rem, err := c.Remove(current, d)
		if err != nil {
			observability.ObserveCodecOp("inject", d.Kind.String(), err)
			return current, err
		}
		base = rem
	}

	conn := ""
	if base != "" {
		conn = d.Connector
	}
	var out string
	if d.ConnectorInside {
		out = base + d.StartMarker + conn + fragment + d.StopMarker
	} else {
		out = base + conn + d.StartMarker + fragment + d.StopMarker
	}
	observability.ObserveCodecOp("inject", d.Kind.String(), nil)
	return out, nil
}

// Extract locates the owned region. ok is false when the start marker is absent.
func (c *Codec) Extract(s string, d dialect.Dialect) (Embedding, bool, error) {
	start := strings.Index(s, d.StartMarker)
	if start < 0 {
		return Embedding{}, false, nil
	}
	inner := start + len(d.StartMarker)
	rel := strings.Index(s[inner:], d.StopMarker)
	if rel < 0 {
		c.log.Warn("filter carries a start marker without stop marker; treating it as foreign",
			"dialect", d.Kind.String())
		observability.ObserveCodecOp("extract", d.Kind.String(), ErrMalformedEmbedding)
		return Embedding{}, false, fmt.Errorf("%w at offset %d", ErrMalformedEmbedding, start)
	}
	stop := inner + rel

	frag := s[inner:stop]
	if d.ConnectorInside {
		frag = strings.TrimPrefix(frag, d.Connector)
	}

	left, right := s[:start], s[stop+len(d.StopMarker):]
	if !d.ConnectorInside {
		left = strings.TrimSuffix(left, d.Connector)
	}
	if left == "" {
		right = strings.TrimPrefix(right, d.Connector)
	}

	observability.ObserveCodecOp("extract", d.Kind.String(), nil)
	return Embedding{Fragment: frag, Remainder: left + right}, true, nil
}

// Remove drops the owned region and returns the foreign remainder. Strings
// without an embedding are returned as is.
func (c *Codec) Remove(s string, d dialect.Dialect) (string, error) {
	e, ok, err := c.Extract(s, d)
	if err != nil {
		return s, err
	}
	if !ok {
		return s, nil
	}
	return e.Remainder, nil
}

// ParseFragment reads a fragment back into a name-less definition. The
// bounding box flag cannot be recovered and is always false. Dialects without
// inline reprojection carry no SRID, so datasetCRS is assumed for them.
func (c *Codec) ParseFragment(fragment string, d dialect.Dialect, datasetCRS geom.CRS) (filter.Definition, error) {
	f, ok := d.Match(strings.TrimSpace(fragment))
	if !ok {
		observability.ObserveCodecOp("parse", d.Kind.String(), ErrTemplateMismatch)
		return filter.Definition{}, fmt.Errorf("%w: %s", ErrTemplateMismatch, d.Kind)
	}
	p, ok := d.LookupPredicate(f.Predicate)
	if !ok {
		observability.ObserveCodecOp("parse", d.Kind.String(), ErrTemplateMismatch)
		return filter.Definition{}, fmt.Errorf("%w: unknown predicate %q", ErrTemplateMismatch, f.Predicate)
	}
	g, err := geom.FromWKT(f.WKT)
	if err != nil {
		observability.ObserveCodecOp("parse", d.Kind.String(), ErrTemplateMismatch)
		return filter.Definition{}, fmt.Errorf("%w: %v", ErrTemplateMismatch, err)
	}

	crs := datasetCRS
	if d.InlineReprojection {
		crs = geom.CRSFromSRID(f.SourceSRID)
	}
	observability.ObserveCodecOp("parse", d.Kind.String(), nil)
	return filter.Definition{Geometry: g, CRS: crs, Predicate: p}, nil
}

// Restore extracts and parses in one step. ok is false when s carries no
// embedding for d.
func (c *Codec) Restore(s string, d dialect.Dialect, datasetCRS geom.CRS) (filter.Definition, bool, error) {
	e, ok, err := c.Extract(s, d)
	if err != nil || !ok {
		return filter.Definition{}, false, err
	}
	def, err := c.ParseFragment(e.Fragment, d, datasetCRS)
	if err != nil {
		c.log.Warn("embedded fragment could not be parsed; leaving filter untouched",
			"dialect", d.Kind.String(), "err", err)
		return filter.Definition{}, false, err
	}
	return def, true, nil
}
