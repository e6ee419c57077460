package geom

import (
	"fmt"
	"sync"

	"github.com/paulmach/orb"
	"github.com/wroge/wgs84"
)

// crsDef converts coordinates of one CRS to and from WGS84.
type crsDef interface {
	ToWGS84(a, b, c float64) (x0, y0, z0 float64)
	FromWGS84(x0, y0, z0 float64) (a, b, c float64)
}

var (
	epsgOnce sync.Once
	epsgRepo *wgs84.Repository
)

func lookupEPSG(c CRS) (crsDef, bool) {
	if c.Authority != "EPSG" {
		return nil, false
	}
	code := c.Code
	if isWebMercator(c) {
		code = WebMercator.Code
	}
	epsgOnce.Do(func() { epsgRepo = wgs84.EPSG() })
	def := crsDef(epsgRepo.Code(code))
	return def, def != nil
}

// epsgProjection builds a point projection through WGS84 for any pair of
// codes the EPSG repository knows.
func epsgProjection(from, to CRS) (orb.Projection, error) {
	src, ok := lookupEPSG(from)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a known EPSG code", ErrUnsupportedTransform, from)
	}
	dst, ok := lookupEPSG(to)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a known EPSG code", ErrUnsupportedTransform, to)
	}
	return func(p orb.Point) orb.Point {
		x, y, z := src.ToWGS84(p[0], p[1], 0)
		a, b, _ := dst.FromWGS84(x, y, z)
		return orb.Point{a, b}
	}, nil
}
