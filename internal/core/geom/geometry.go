package geom

import (
	"errors"
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/project"
)

var ErrInvalidWKT = errors.New("geom: invalid wkt")

// Geometry is an immutable handle around an orb geometry. The zero value is empty.
type Geometry struct {
	g orb.Geometry
}

func FromOrb(g orb.Geometry) Geometry {
	if g == nil {
		return Geometry{}
	}
	return Geometry{g: orb.Clone(g)}
}

// FromWKT parses well-known text. An empty string yields the empty geometry.
func FromWKT(s string) (Geometry, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Geometry{}, nil
	}
	g, err := wkt.Unmarshal(s)
	if err != nil {
		return Geometry{}, fmt.Errorf("%w: %v", ErrInvalidWKT, err)
	}
	if b, ok := g.(orb.Bound); ok {
		g = b.ToPolygon()
	}
	return Geometry{g: g}, nil
}

// MustWKT is FromWKT for literals known to be well formed.
func MustWKT(s string) Geometry {
	g, err := FromWKT(s)
	if err != nil {
		panic(err)
	}
	return g
}

// Collect assembles polygon parts into one polygonal geometry. A single part
// stays a Polygon, several parts become a MultiPolygon.
func Collect(parts ...Geometry) Geometry {
	var polys orb.MultiPolygon
	for _, p := range parts {
		switch t := p.g.(type) {
		case orb.Polygon:
			polys = append(polys, orb.Clone(t).(orb.Polygon))
		case orb.MultiPolygon:
			for _, sub := range t {
				polys = append(polys, orb.Clone(sub).(orb.Polygon))
			}
		}
	}
	switch len(polys) {
	case 0:
		return Geometry{}
	case 1:
		return Geometry{g: polys[0]}
	default:
		return Geometry{g: polys}
	}
}

func (g Geometry) Orb() orb.Geometry {
	if g.g == nil {
		return nil
	}
	return orb.Clone(g.g)
}

func (g Geometry) IsEmpty() bool {
	if g.g == nil {
		return true
	}
	switch t := g.g.(type) {
	case orb.Polygon:
		return len(t) == 0
	case orb.MultiPolygon:
		return len(t) == 0
	case orb.Collection:
		return len(t) == 0
	case orb.LineString:
		return len(t) == 0
	case orb.MultiLineString:
		return len(t) == 0
	case orb.MultiPoint:
		return len(t) == 0
	}
	return false
}

// WKT renders the geometry; the empty geometry renders as "".
func (g Geometry) WKT() string {
	if g.IsEmpty() {
		return ""
	}
	return wkt.MarshalString(g.g)
}

func (g Geometry) TypeName() string {
	if g.g == nil {
		return "Empty"
	}
	return g.g.GeoJSONType()
}

// IsMultiPart reports geometries with more than one part.
func (g Geometry) IsMultiPart() bool {
	switch t := g.g.(type) {
	case orb.MultiPolygon:
		return len(t) > 1
	case orb.MultiLineString:
		return len(t) > 1
	case orb.MultiPoint:
		return len(t) > 1
	case orb.Collection:
		return len(t) > 1
	}
	return false
}

// SinglePart coerces a multi geometry to its single-part type by keeping the
// first part. It returns how many parts were dropped.
func (g Geometry) SinglePart() (Geometry, int) {
	switch t := g.g.(type) {
	case orb.MultiPolygon:
		if len(t) == 0 {
			return Geometry{}, 0
		}
		return Geometry{g: orb.Clone(t[0])}, len(t) - 1
	case orb.MultiLineString:
		if len(t) == 0 {
			return Geometry{}, 0
		}
		return Geometry{g: orb.Clone(t[0])}, len(t) - 1
	case orb.MultiPoint:
		if len(t) == 0 {
			return Geometry{}, 0
		}
		return Geometry{g: t[0]}, len(t) - 1
	case orb.Collection:
		if len(t) == 0 {
			return Geometry{}, 0
		}
		first, dropped := Geometry{g: t[0]}.SinglePart()
		return first, dropped + len(t) - 1
	}
	return g, 0
}

// BoundingBox returns the axis aligned envelope as a polygon.
func (g Geometry) BoundingBox() Geometry {
	if g.IsEmpty() {
		return Geometry{}
	}
	return Geometry{g: g.g.Bound().ToPolygon()}
}

func (g Geometry) Bound() orb.Bound {
	if g.g == nil {
		return orb.Bound{}
	}
	return g.g.Bound()
}

// Equal compares coordinates exactly.
func (g Geometry) Equal(o Geometry) bool {
	if g.IsEmpty() || o.IsEmpty() {
		return g.IsEmpty() == o.IsEmpty()
	}
	return orb.Equal(g.g, o.g)
}

// Reproject transforms between two CRS. The 4326 <-> web mercator pair goes
// through orb/project; every other pair goes through the EPSG definitions of
// github.com/wroge/wgs84, including datum shifts.
func (g Geometry) Reproject(from, to CRS) (Geometry, error) {
	if g.IsEmpty() || from.Equal(to) || (isWebMercator(from) && isWebMercator(to)) {
		return g, nil
	}
	c := orb.Clone(g.g)
	switch {
	case isWGS84(from) && isWebMercator(to):
		return Geometry{g: project.Geometry(c, project.WGS84.ToMercator)}, nil
	case isWebMercator(from) && isWGS84(to):
		return Geometry{g: project.Geometry(c, project.Mercator.ToWGS84)}, nil
	}
	proj, err := epsgProjection(from, to)
	if err != nil {
		return Geometry{}, fmt.Errorf("%w (%s -> %s)", err, from, to)
	}
	return Geometry{g: project.Geometry(c, proj)}, nil
}

// Validate checks that the geometry is a non-empty, simple polygonal geometry.
func (g Geometry) Validate() error {
	if g.IsEmpty() {
		return errors.New("geometry is empty")
	}
	switch t := g.g.(type) {
	case orb.Polygon:
		return validatePolygon(t)
	case orb.MultiPolygon:
		for i, p := range t {
			if err := validatePolygon(p); err != nil {
				return fmt.Errorf("multipolygon[%d]: %w", i, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("geometry type %s is not polygonal", g.TypeName())
	}
}

func (g Geometry) IsValid() bool {
	return g.Validate() == nil
}

func validatePolygon(p orb.Polygon) error {
	if len(p) == 0 {
		return errors.New("polygon has no rings")
	}
	for i, ring := range p {
		if len(ring) < 4 {
			return fmt.Errorf("ring[%d] must have at least 4 points, has %d", i, len(ring))
		}
		if !ring[0].Equal(ring[len(ring)-1]) {
			return fmt.Errorf("ring[%d] is not closed", i)
		}
		if selfIntersects(ring) {
			return fmt.Errorf("ring[%d] self-intersects", i)
		}
	}
	if planar.Area(p) == 0 {
		return errors.New("polygon has zero area")
	}
	return nil
}

// selfIntersects tests every pair of non-adjacent ring segments.
func selfIntersects(r orb.Ring) bool {
	n := len(r) - 1
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if j == i+1 || (i == 0 && j == n-1) {
				continue
			}
			if segmentsIntersect(r[i], r[i+1], r[j], r[j+1]) {
				return true
			}
		}
	}
	return false
}

func segmentsIntersect(p1, p2, q1, q2 orb.Point) bool {
	d1 := orientation(q1, q2, p1)
	d2 := orientation(q1, q2, p2)
	d3 := orientation(p1, p2, q1)
	d4 := orientation(p1, p2, q2)
	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) && ((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	return (d1 == 0 && onSegment(q1, q2, p1)) ||
		(d2 == 0 && onSegment(q1, q2, p2)) ||
		(d3 == 0 && onSegment(p1, p2, q1)) ||
		(d4 == 0 && onSegment(p1, p2, q2))
}

func orientation(a, b, c orb.Point) float64 {
	return (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
}

func onSegment(a, b, p orb.Point) bool {
	return min(a[0], b[0]) <= p[0] && p[0] <= max(a[0], b[0]) &&
		min(a[1], b[1]) <= p[1] && p[1] <= max(a[1], b[1])
}
