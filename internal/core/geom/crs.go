// Package geom adapts github.com/paulmach/orb to the small set of geometry and
// CRS operations the filter codec consumes.
package geom

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidCRS           = errors.New("geom: invalid crs")
	ErrUnsupportedTransform = errors.New("geom: unsupported crs transform")
)

// CRS is an authority:code identifier such as EPSG:4326.
type CRS struct {
	Authority string
	Code      int
}

var (
	WGS84       = CRS{Authority: "EPSG", Code: 4326}
	WebMercator = CRS{Authority: "EPSG", Code: 3857}
)

// Only EPSG codes are accepted: a PostGIS SRID carries no authority, so a
// rendered fragment must map back to the same identifier.
var knownAuthorities = map[string]struct{}{
	"EPSG": {},
}

// ParseCRS parses "EPSG:4326" style identifiers. Authority is case-insensitive.
func ParseCRS(authID string) (CRS, error) {
	s := strings.TrimSpace(authID)
	auth, code, ok := strings.Cut(s, ":")
	if !ok {
		return CRS{}, fmt.Errorf("%w: %q", ErrInvalidCRS, authID)
	}
	n, err := strconv.Atoi(strings.TrimSpace(code))
	if err != nil {
		return CRS{}, fmt.Errorf("%w: %q: %v", ErrInvalidCRS, authID, err)
	}
	c := CRS{Authority: strings.ToUpper(strings.TrimSpace(auth)), Code: n}
	if !c.IsValid() {
		return CRS{}, fmt.Errorf("%w: %q", ErrInvalidCRS, authID)
	}
	return c, nil
}

// CRSFromSRID maps a PostGIS SRID back to its EPSG identifier.
func CRSFromSRID(srid int) CRS {
	return CRS{Authority: "EPSG", Code: srid}
}

func (c CRS) IsValid() bool {
	if c.Code <= 0 {
		return false
	}
	_, ok := knownAuthorities[c.Authority]
	return ok
}

// SRID is the numeric id a PostGIS-like backend expects.
func (c CRS) SRID() int {
	return c.Code
}

func (c CRS) String() string {
	if c.Authority == "" && c.Code == 0 {
		return ""
	}
	return c.Authority + ":" + strconv.Itoa(c.Code)
}

func (c CRS) Equal(o CRS) bool {
	return c.Authority == o.Authority && c.Code == o.Code
}

// mercator aliases that orb/project handles with the spherical mercator formulas
func isWebMercator(c CRS) bool {
	if c.Authority != "EPSG" {
		return false
	}
	switch c.Code {
	case 3857, 900913, 3785:
		return true
	}
	return false
}

func isWGS84(c CRS) bool {
	return c.Authority == "EPSG" && c.Code == 4326
}
