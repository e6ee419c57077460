// Package dataset describes the filterable targets the controller writes to.
package dataset

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/mohammed-shakir/spatial-filter/internal/core/geom"
	"github.com/mohammed-shakir/spatial-filter/internal/dialect"
)

var (
	ErrNotFound  = errors.New("dataset: not found")
	ErrDuplicate = errors.New("dataset: duplicate id")
	ErrInvalid   = errors.New("dataset: invalid")
)

// Target is a dataset whose filter string the codec may rewrite.
type Target interface {
	ID() string
	StorageKind() string
	IsSpatial() bool
	GeometryType() string
	GeometryField() string
	CRS() geom.CRS
	Filter() string
	SetFilter(s string)
}

// Spec is the wire form of a dataset registration.
type Spec struct {
	ID            string `json:"id"`
	Name          string `json:"name,omitempty"`
	Storage       string `json:"storage"`
	Spatial       bool   `json:"spatial"`
	GeometryType  string `json:"geometry_type,omitempty"`
	GeometryField string `json:"geometry_field"`
	CRS           string `json:"crs"`
	Filter        string `json:"filter"`
}

// Dataset is the in-process Target.
type Dataset struct {
	spec Spec
	crs  geom.CRS

	mu     sync.RWMutex
	filter string
}

func New(s Spec) (*Dataset, error) {
	if strings.TrimSpace(s.ID) == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalid)
	}
	var crs geom.CRS
	if s.Spatial {
		c, err := geom.ParseCRS(s.CRS)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalid, s.ID, err)
		}
		crs = c
	}
	return &Dataset{spec: s, crs: crs, filter: s.Filter}, nil
}

func (d *Dataset) ID() string            { return d.spec.ID }
func (d *Dataset) Name() string          { return d.spec.Name }
func (d *Dataset) StorageKind() string   { return d.spec.Storage }
func (d *Dataset) IsSpatial() bool       { return d.spec.Spatial }
func (d *Dataset) GeometryType() string  { return d.spec.GeometryType }
func (d *Dataset) GeometryField() string { return d.spec.GeometryField }
func (d *Dataset) CRS() geom.CRS         { return d.crs }

func (d *Dataset) Filter() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.filter
}

func (d *Dataset) SetFilter(s string) {
	d.mu.Lock()
	d.filter = s
	d.mu.Unlock()
}

// Snapshot returns the current wire form.
func (d *Dataset) Snapshot() Spec {
	s := d.spec
	s.Filter = d.Filter()
	return s
}

// curved geometry types that spatialite-based filtering cannot evaluate
var curvedTypes = map[string]bool{
	"CIRCULARSTRING": true,
	"COMPOUNDCURVE":  true,
	"CURVEPOLYGON":   true,
	"MULTICURVE":     true,
	"MULTISURFACE":   true,
}

// IsCurved reports curved geometry types, ignoring Z/M suffixes.
func IsCurved(geometryType string) bool {
	t := strings.ToUpper(strings.TrimSpace(geometryType))
	for _, suffix := range []string{"ZM", "Z", "M"} {
		if base, ok := strings.CutSuffix(t, suffix); ok && curvedTypes[base] {
			return true
		}
	}
	return curvedTypes[t]
}

// Support reports whether t can carry a filter, and the dialect to use.
// reason explains a rejection.
func Support(t Target) (d dialect.Dialect, ok bool, reason string) {
	d, ok = dialect.ForStorage(t.StorageKind())
	if !ok {
		return dialect.Dialect{}, false, fmt.Sprintf("storage %q is not supported", t.StorageKind())
	}
	if !t.IsSpatial() {
		return dialect.Dialect{}, false, "dataset has no geometry"
	}
	if dialect.IsSQLiteBased(t.StorageKind()) && IsCurved(t.GeometryType()) {
		return dialect.Dialect{}, false, fmt.Sprintf("geometry type %s is not supported by %s filtering", t.GeometryType(), t.StorageKind())
	}
	return d, true, ""
}
