package dialect

import (
	"strings"
	"testing"

	"github.com/mohammed-shakir/spatial-filter/internal/filter"
)

func TestGenericFill_MatchesFixedLayout(t *testing.T) {
	d := MustGet(GenericSQL)
	got := d.Fill(Fields{
		Predicate:     "ST_INTERSECTS",
		GeometryField: "geom",
		WKT:           "POLYGON((0 0,0 1,1 1,1 0,0 0))",
		SourceSRID:    4326,
		TargetSRID:    3857,
	})
	want := "ST_INTERSECTS(geom, ST_TRANSFORM(ST_GeomFromText('POLYGON((0 0,0 1,1 1,1 0,0 0))', 4326), 3857))"
	if got != want {
		t.Fatalf("fill:\n got %s\nwant %s", got, want)
	}
}

func TestSensorThingsFill_CarriesNoSRID(t *testing.T) {
	d := MustGet(SensorThings)
	got := d.Fill(Fields{
		Predicate:     "st_within",
		GeometryField: "location",
		WKT:           "POLYGON((0 0,0 1,1 1,1 0,0 0))",
		SourceSRID:    4326,
		TargetSRID:    3857,
	})
	want := "st_within(location, geography'POLYGON((0 0,0 1,1 1,1 0,0 0))')"
	if got != want {
		t.Fatalf("fill:\n got %s\nwant %s", got, want)
	}
	if strings.Contains(got, "4326") || strings.Contains(got, "3857") {
		t.Fatalf("sensorthings fragment must not carry srids: %s", got)
	}
}

func TestMatch_RecoversFields(t *testing.T) {
	cases := []struct {
		kind Kind
		in   Fields
	}{
		{GenericSQL, Fields{Predicate: "NOT ST_INTERSECTS", GeometryField: `"the geom"`, WKT: "POLYGON((1 2,3 4,5 6,1 2))", SourceSRID: 25832, TargetSRID: 4326}},
		{GenericSQL, Fields{Predicate: "ST_WITHIN", GeometryField: "g", WKT: "MULTIPOLYGON(((0 0,0 1,1 1,0 0)),((5 5,5 6,6 6,5 5)))", SourceSRID: 4326, TargetSRID: 4326}},
		{SensorThings, Fields{Predicate: "not st_intersects", GeometryField: "feature", WKT: "POLYGON((0 0,0 1,1 1,0 0))"}},
	}
	for _, tc := range cases {
		d := MustGet(tc.kind)
		frag := d.Fill(tc.in)
		got, ok := d.Match(frag)
		if !ok {
			t.Fatalf("%s: no match for %q", tc.kind, frag)
		}
		want := tc.in
		if !d.InlineReprojection {
			want.SourceSRID, want.TargetSRID = 0, 0
		}
		if got != want {
			t.Fatalf("%s: got %+v want %+v", tc.kind, got, want)
		}
	}
}

func TestMatch_RejectsForeignText(t *testing.T) {
	cases := []struct {
		kind Kind
		in   string
	}{
		{GenericSQL, "year = 2024"},
		{GenericSQL, "ST_INTERSECTS(geom, ST_GeomFromText('POINT(1 1)', 4326))"},
		{GenericSQL, "ST_INTERSECTS(geom, ST_TRANSFORM(ST_GeomFromText('POINT(1 1)', x), 3857))"},
		{SensorThings, "st_within(location, geography'POINT(1 1)') and year eq 1"},
		{SensorThings, ""},
	}
	for _, tc := range cases {
		if _, ok := MustGet(tc.kind).Match(tc.in); ok {
			t.Fatalf("%s: unexpected match for %q", tc.kind, tc.in)
		}
	}
}

func TestLookupPredicate_CaseAndNegation(t *testing.T) {
	g := MustGet(GenericSQL)
	if p, ok := g.LookupPredicate("not  st_intersects"); !ok || p != filter.Disjoint {
		t.Fatalf("generic negated lookup got %v %v", p, ok)
	}
	if p, ok := g.LookupPredicate("ST_INTERSECTS"); !ok || p != filter.Intersects {
		t.Fatalf("generic intersects lookup got %v %v", p, ok)
	}
	s := MustGet(SensorThings)
	if p, ok := s.LookupPredicate("ST_WITHIN"); !ok || p != filter.Within {
		t.Fatalf("sensorthings within lookup got %v %v", p, ok)
	}
	if _, ok := s.LookupPredicate("st_disjoint"); ok {
		t.Fatalf("st_disjoint must not be a known token")
	}
}

func TestPredicateTokens_DisjointIsNegatedIntersects(t *testing.T) {
	for _, d := range All() {
		dis, err := d.PredicateToken(filter.Disjoint)
		if err != nil {
			t.Fatalf("%s: %v", d, err)
		}
		in, _ := d.PredicateToken(filter.Intersects)
		if !strings.HasSuffix(dis, in) || !strings.EqualFold(strings.Fields(dis)[0], "NOT") {
			t.Fatalf("%s: disjoint token %q is not NOT %s", d, dis, in)
		}
	}
	if _, err := MustGet(GenericSQL).PredicateToken(filter.PredicateInvalid); err == nil {
		t.Fatalf("expected error for reserved predicate ordinal")
	}
}

func TestForStorage(t *testing.T) {
	cases := map[string]Kind{
		"POSTGRESQL DATABASE WITH POSTGIS EXTENSION": GenericSQL,
		"gpkg":                 GenericSQL,
		"SQLite":               GenericSQL,
		"OGC SensorThings API": SensorThings,
	}
	for storage, want := range cases {
		d, ok := ForStorage(storage)
		if !ok || d.Kind != want {
			t.Fatalf("ForStorage(%q) = %v,%v want %v", storage, d.Kind, ok, want)
		}
	}
	if _, ok := ForStorage("ESRI Shapefile"); ok {
		t.Fatalf("shapefile must be unsupported")
	}
	if !IsSQLiteBased("gpkg") || IsSQLiteBased(StoragePostGIS) {
		t.Fatalf("IsSQLiteBased misclassified")
	}
}
