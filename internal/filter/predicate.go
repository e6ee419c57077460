package filter

import (
	"fmt"
	"strings"
)

// Predicate is the geometric relation tested against the filter geometry.
// The ordinals are persisted; 0 is reserved.
type Predicate int

const (
	PredicateInvalid Predicate = iota
	Intersects
	Within
	Disjoint
)

var predicateNames = map[Predicate]string{
	Intersects: "INTERSECTS",
	Within:     "WITHIN",
	Disjoint:   "DISJOINT",
}

func Predicates() []Predicate {
	return []Predicate{Intersects, Within, Disjoint}
}

func (p Predicate) IsValid() bool {
	_, ok := predicateNames[p]
	return ok
}

func (p Predicate) String() string {
	if n, ok := predicateNames[p]; ok {
		return n
	}
	return fmt.Sprintf("Predicate(%d)", int(p))
}

// ParsePredicate accepts the display name (any case) or the ordinal.
func ParsePredicate(s string) (Predicate, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for p, n := range predicateNames {
		if n == s || fmt.Sprint(int(p)) == s {
			return p, nil
		}
	}
	return PredicateInvalid, fmt.Errorf("unknown predicate %q", s)
}
