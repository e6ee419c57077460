// Package filter holds the backend-agnostic spatial filter definition.
package filter

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/spatial-filter/internal/core/geom"
)

// Definition is one spatial filter: a polygonal geometry in a CRS tested with a predicate.
// It is a value type; geometry handles are immutable so copies never share state.
type Definition struct {
	Name           string
	Geometry       geom.Geometry
	CRS            geom.CRS
	Predicate      Predicate
	UseBoundingBox bool
}

// Default is the filter the controller starts from before a geometry is chosen.
func Default(crs geom.CRS) Definition {
	return Definition{CRS: crs, Predicate: Intersects}
}

// New builds a definition from its persisted field values.
func New(name, wkt, crs string, p Predicate, bbox bool) (Definition, error) {
	g, err := geom.FromWKT(wkt)
	if err != nil {
		return Definition{}, err
	}
	c, err := geom.ParseCRS(crs)
	if err != nil {
		return Definition{}, err
	}
	return Definition{Name: name, Geometry: g, CRS: c, Predicate: p, UseBoundingBox: bbox}, nil
}

// FromExtent builds an intersects filter covering a map extent.
func FromExtent(b orb.Bound, crs geom.CRS, name string) Definition {
	return Definition{
		Name:      name,
		Geometry:  geom.FromOrb(b.ToPolygon()),
		CRS:       crs,
		Predicate: Intersects,
	}
}

// FromGeometries builds an intersects filter from selected polygon features.
func FromGeometries(parts []geom.Geometry, crs geom.CRS, name string) (Definition, error) {
	d := Definition{
		Name:      name,
		Geometry:  geom.Collect(parts...),
		CRS:       crs,
		Predicate: Intersects,
	}
	if err := d.Validate(); err != nil {
		return Definition{}, err
	}
	return d, nil
}

// Validate reports why a definition is not usable, wrapping ErrInvalidDefinition.
func (d Definition) Validate() error {
	if err := d.Geometry.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	if !d.CRS.IsValid() {
		return fmt.Errorf("%w: crs %q is not valid", ErrInvalidDefinition, d.CRS)
	}
	if !d.Predicate.IsValid() {
		return fmt.Errorf("%w: predicate %d", ErrInvalidDefinition, int(d.Predicate))
	}
	return nil
}

func (d Definition) IsValid() bool {
	return d.Validate() == nil
}

// EffectiveGeometry is the geometry actually tested by backends.
func (d Definition) EffectiveGeometry() geom.Geometry {
	if d.UseBoundingBox {
		return d.Geometry.BoundingBox()
	}
	return d.Geometry
}

// Copy returns an independent definition.
func (d Definition) Copy() Definition {
	c := d
	c.Geometry = geom.FromOrb(d.Geometry.Orb())
	return c
}

// Less orders definitions by case-insensitive name for display.
func (d Definition) Less(o Definition) bool {
	return strings.ToUpper(d.Name) < strings.ToUpper(o.Name)
}

func (d Definition) String() string {
	return fmt.Sprintf("%s[%s %s bbox=%t]", d.Name, d.Predicate, d.CRS, d.UseBoundingBox)
}

type definitionJSON struct {
	Name           string `json:"name"`
	WKT            string `json:"wkt"`
	CRS            string `json:"crs"`
	Predicate      string `json:"predicate"`
	UseBoundingBox bool   `json:"bbox"`
}

func (d Definition) MarshalJSON() ([]byte, error) {
	var p string
	if d.Predicate.IsValid() {
		p = d.Predicate.String()
	}
	return json.Marshal(definitionJSON{
		Name:           d.Name,
		WKT:            d.Geometry.WKT(),
		CRS:            d.CRS.String(),
		Predicate:      p,
		UseBoundingBox: d.UseBoundingBox,
	})
}

func (d *Definition) UnmarshalJSON(b []byte) error {
	var v definitionJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	p := PredicateInvalid
	if strings.TrimSpace(v.Predicate) != "" {
		var err error
		if p, err = ParsePredicate(v.Predicate); err != nil {
			return err
		}
	}
	out, err := New(v.Name, v.WKT, v.CRS, p, v.UseBoundingBox)
	if err != nil {
		return err
	}
	*d = out
	return nil
}
