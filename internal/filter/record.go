package filter

import (
	"fmt"
	"math"

	"github.com/mohammed-shakir/spatial-filter/internal/core/geom"
)

// Record is the ordered storage form of a definition:
// name, WKT, CRS authority id, predicate ordinal, bbox flag.
type Record []any

const recordFields = 5

func (d Definition) StorageRecord() Record {
	return Record{d.Name, d.Geometry.WKT(), d.CRS.String(), int64(d.Predicate), d.UseBoundingBox}
}

// FromStorageRecord is the exact inverse of StorageRecord.
func FromStorageRecord(r Record) (Definition, error) {
	if len(r) != recordFields {
		return Definition{}, fmt.Errorf("%w: want %d fields, got %d", ErrMalformedRecord, recordFields, len(r))
	}
	name, ok := r[0].(string)
	if !ok {
		return Definition{}, fmt.Errorf("%w: name is %T", ErrMalformedRecord, r[0])
	}
	wkt, ok := r[1].(string)
	if !ok {
		return Definition{}, fmt.Errorf("%w: wkt is %T", ErrMalformedRecord, r[1])
	}
	authID, ok := r[2].(string)
	if !ok {
		return Definition{}, fmt.Errorf("%w: crs is %T", ErrMalformedRecord, r[2])
	}
	ord, ok := toInt(r[3])
	if !ok {
		return Definition{}, fmt.Errorf("%w: predicate is %T(%v)", ErrMalformedRecord, r[3], r[3])
	}
	if !Predicate(ord).IsValid() {
		return Definition{}, fmt.Errorf("%w: predicate ordinal %d", ErrMalformedRecord, ord)
	}
	bbox, ok := r[4].(bool)
	if !ok {
		return Definition{}, fmt.Errorf("%w: bbox is %T", ErrMalformedRecord, r[4])
	}

	g, err := geom.FromWKT(wkt)
	if err != nil {
		return Definition{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	crs, err := geom.ParseCRS(authID)
	if err != nil {
		return Definition{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return Definition{
		Name:           name,
		Geometry:       g,
		CRS:            crs,
		Predicate:      Predicate(ord),
		UseBoundingBox: bbox,
	}, nil
}

// Equal compares field by field.
func (r Record) Equal(o Record) bool {
	if len(r) != len(o) {
		return false
	}
	for i := range r {
		a, aok := toInt(r[i])
		b, bok := toInt(o[i])
		if aok && bok {
			if a != b {
				return false
			}
			continue
		}
		if r[i] != o[i] {
			return false
		}
	}
	return true
}

// decoders hand back whichever integer width fits the value
func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	}
	return 0, false
}
