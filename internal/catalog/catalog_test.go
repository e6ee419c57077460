package catalog

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/mohammed-shakir/spatial-filter/internal/catalog/events"
	"github.com/mohammed-shakir/spatial-filter/internal/core/geom"
	"github.com/mohammed-shakir/spatial-filter/internal/filter"
)

const (
	square   = "POLYGON((0 0,0 1,1 1,1 0,0 0))"
	triangle = "POLYGON((0 0,4 0,2 3,0 0))"
)

type recorder struct{ got []events.Event }

func (r *recorder) Publish(e events.Event) { r.got = append(r.got, e) }

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustDef(t *testing.T, name, wkt, crs string, p filter.Predicate, bbox bool) filter.Definition {
	t.Helper()
	d, err := filter.New(name, wkt, crs, p, bbox)
	if err != nil {
		t.Fatalf("filter.New: %v", err)
	}
	return d
}

func newCatalog(t *testing.T) (*Catalog, *MemoryStore, *recorder) {
	t.Helper()
	st := NewMemoryStore()
	rec := &recorder{}
	return New(st, Options{Logger: quiet(), Notifier: rec, Group: "SpatialFilter"}), st, rec
}

func TestSave_LoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, _, rec := newCatalog(t)

	d := mustDef(t, "Parcels", triangle, "EPSG:3006", filter.Within, true)
	res, err := c.Save(ctx, d, Never)
	if err != nil || res != Saved {
		t.Fatalf("Save: res=%v err=%v", res, err)
	}
	got, err := c.Load(ctx, "Parcels")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !got.StorageRecord().Equal(d.StorageRecord()) {
		t.Fatalf("loaded %v want %v", got, d)
	}
	if len(rec.got) != 1 || rec.got[0].Op != events.OpSaved || rec.got[0].Name != "Parcels" || rec.got[0].Group != "SpatialFilter" {
		t.Fatalf("events: %+v", rec.got)
	}
}

func TestSave_Rejections(t *testing.T) {
	ctx := context.Background()
	c, st, _ := newCatalog(t)

	invalid := filter.Definition{Name: "empty", CRS: geom.WGS84, Predicate: filter.Intersects}
	if _, err := c.Save(ctx, invalid, Always); !errors.Is(err, filter.ErrInvalidDefinition) {
		t.Fatalf("want ErrInvalidDefinition, got %v", err)
	}

	unnamed := mustDef(t, "", square, "EPSG:4326", filter.Intersects, false)
	if _, err := c.Save(ctx, unnamed, Always); !errors.Is(err, filter.ErrMissingName) {
		t.Fatalf("want ErrMissingName, got %v", err)
	}

	// invalid and unnamed: validity is checked first
	both := filter.Definition{CRS: geom.WGS84, Predicate: filter.Intersects}
	if _, err := c.Save(ctx, both, Always); !errors.Is(err, filter.ErrInvalidDefinition) {
		t.Fatalf("want ErrInvalidDefinition first, got %v", err)
	}

	keys, _ := st.Keys(ctx)
	if len(keys) != 0 {
		t.Fatalf("store must stay empty, got %v", keys)
	}
}

func TestSave_IdenticalIsNoOp(t *testing.T) {
	ctx := context.Background()
	c, _, rec := newCatalog(t)

	d := mustDef(t, "A", square, "EPSG:4326", filter.Intersects, false)
	if _, err := c.Save(ctx, d, Never); err != nil {
		t.Fatal(err)
	}
	asked := false
	res, err := c.Save(ctx, d.Copy(), func(string) bool { asked = true; return false })
	if err != nil || res != Unchanged {
		t.Fatalf("res=%v err=%v", res, err)
	}
	if asked {
		t.Fatalf("identical save must not ask for confirmation")
	}
	if len(rec.got) != 1 {
		t.Fatalf("unchanged save must not publish, got %d events", len(rec.got))
	}
}

func TestSave_OverwriteNeedsConfirmation(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newCatalog(t)

	first := mustDef(t, "A", square, "EPSG:4326", filter.Intersects, false)
	second := mustDef(t, "A", triangle, "EPSG:4326", filter.Within, false)
	if _, err := c.Save(ctx, first, Never); err != nil {
		t.Fatal(err)
	}

	res, err := c.Save(ctx, second, Never)
	if err != nil || res != Declined {
		t.Fatalf("declined overwrite: res=%v err=%v", res, err)
	}
	got, _ := c.Load(ctx, "A")
	if got.Geometry.WKT() != first.Geometry.WKT() {
		t.Fatalf("declined overwrite changed the entry: %s", got.Geometry.WKT())
	}

	res, err = c.Save(ctx, second, nil)
	if err != nil || res != Declined {
		t.Fatalf("nil confirm must decline: res=%v err=%v", res, err)
	}

	res, err = c.Save(ctx, second, Always)
	if err != nil || res != Saved {
		t.Fatalf("confirmed overwrite: res=%v err=%v", res, err)
	}
	got, _ = c.Load(ctx, "A")
	if got.Predicate != filter.Within || got.Geometry.WKT() != second.Geometry.WKT() {
		t.Fatalf("overwrite not applied: %v", got)
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	c, _, rec := newCatalog(t)
	d := mustDef(t, "A", square, "EPSG:4326", filter.Intersects, false)
	if _, err := c.Save(ctx, d, Never); err != nil {
		t.Fatal(err)
	}

	ok, err := c.Delete(ctx, "A", Never)
	if err != nil || ok {
		t.Fatalf("declined delete: ok=%v err=%v", ok, err)
	}
	if saved, _ := c.IsSaved(ctx, d); !saved {
		t.Fatalf("declined delete removed the entry")
	}

	ok, err = c.Delete(ctx, "A", Always)
	if err != nil || !ok {
		t.Fatalf("delete: ok=%v err=%v", ok, err)
	}
	if _, err := c.Load(ctx, "A"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound after delete, got %v", err)
	}
	if _, err := c.Delete(ctx, "A", Always); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound deleting missing entry, got %v", err)
	}
	if last := rec.got[len(rec.got)-1]; last.Op != events.OpDeleted {
		t.Fatalf("last event %+v", last)
	}
}

func TestLoadAll_SkipsMalformedAndKeepsOrder(t *testing.T) {
	ctx := context.Background()
	var logs bytes.Buffer
	st := NewMemoryStore()
	c := New(st, Options{Logger: slog.New(slog.NewTextHandler(&logs, nil))})

	for _, n := range []string{"b", "a", "c"} {
		if _, err := c.Save(ctx, mustDef(t, n, square, "EPSG:4326", filter.Intersects, false), Never); err != nil {
			t.Fatal(err)
		}
	}
	short, _ := EncodeRecord(filter.Record{"broken", square})
	_ = st.Set(ctx, "broken", short)
	_ = st.Set(ctx, "garbage", []byte{0xc1})

	defs, err := c.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	var names []string
	for _, d := range defs {
		names = append(names, d.Name)
	}
	if strings.Join(names, ",") != "b,a,c" {
		t.Fatalf("names=%v", names)
	}
	if !strings.Contains(logs.String(), "skipping malformed catalog entry") {
		t.Fatalf("expected a warning, logs:\n%s", logs.String())
	}

	SortByName(defs)
	if defs[0].Name != "a" || defs[2].Name != "c" {
		t.Fatalf("sorted: %v", defs)
	}
}

func TestIsSaved(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newCatalog(t)
	d := mustDef(t, "A", square, "EPSG:4326", filter.Intersects, false)

	if ok, _ := c.IsSaved(ctx, d); ok {
		t.Fatalf("not yet saved")
	}
	_, _ = c.Save(ctx, d, Never)
	if ok, _ := c.IsSaved(ctx, d); !ok {
		t.Fatalf("saved entry not reported")
	}
	changed := d.Copy()
	changed.Predicate = filter.Disjoint
	if ok, _ := c.IsSaved(ctx, changed); ok {
		t.Fatalf("modified definition reported as saved")
	}
	if ok, _ := c.IsSaved(ctx, filter.Definition{}); ok {
		t.Fatalf("unnamed definition reported as saved")
	}
}

func TestReconcile_ExactMatchKeepsLivePredicate(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newCatalog(t)
	_, _ = c.Save(ctx, mustDef(t, "Tri", triangle, "EPSG:4326", filter.Intersects, true), Never)

	parsed := mustDef(t, "", triangle, "EPSG:4326", filter.Disjoint, false)
	got, err := c.Reconcile(ctx, parsed)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "Tri" || got.Predicate != filter.Disjoint || got.UseBoundingBox {
		t.Fatalf("reconciled %v", got)
	}
}

func TestReconcile_BoundingBoxMatch(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newCatalog(t)
	entry := mustDef(t, "Tri", triangle, "EPSG:4326", filter.Intersects, false)
	_, _ = c.Save(ctx, entry, Never)

	parsed := filter.Definition{
		Geometry:  entry.Geometry.BoundingBox(),
		CRS:       geom.WGS84,
		Predicate: filter.Within,
	}
	got, err := c.Reconcile(ctx, parsed)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "Tri" || !got.UseBoundingBox || got.Predicate != filter.Within {
		t.Fatalf("reconciled %v", got)
	}
	if got.Geometry.WKT() != entry.Geometry.WKT() {
		t.Fatalf("must carry the entry's own geometry, got %s", got.Geometry.WKT())
	}
}

func TestReconcile_NoMatchAndCRSMismatch(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newCatalog(t)
	_, _ = c.Save(ctx, mustDef(t, "Tri", triangle, "EPSG:4326", filter.Intersects, false), Never)

	parsed := mustDef(t, "", triangle, "EPSG:3857", filter.Intersects, false)
	got, err := c.Reconcile(ctx, parsed)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "" || !got.CRS.Equal(geom.WebMercator) {
		t.Fatalf("CRS mismatch must not match, got %v", got)
	}

	other := mustDef(t, "", square, "EPSG:4326", filter.Intersects, false)
	got, _ = c.Reconcile(ctx, other)
	if got.Name != "" {
		t.Fatalf("unexpected match %v", got)
	}
}

func TestReconcile_TieUsesFirstAndWarns(t *testing.T) {
	ctx := context.Background()
	var logs bytes.Buffer
	c := New(NewMemoryStore(), Options{Logger: slog.New(slog.NewTextHandler(&logs, nil))})
	_, _ = c.Save(ctx, mustDef(t, "first", square, "EPSG:4326", filter.Intersects, false), Never)
	_, _ = c.Save(ctx, mustDef(t, "second", square, "EPSG:4326", filter.Within, false), Never)

	got, err := c.Reconcile(ctx, mustDef(t, "", square, "EPSG:4326", filter.Intersects, false))
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "first" {
		t.Fatalf("got %q want first", got.Name)
	}
	if !strings.Contains(logs.String(), "ambiguous catalog match") {
		t.Fatalf("missing ambiguity warning:\n%s", logs.String())
	}
}

func TestFingerprint_ChangesWithContent(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newCatalog(t)

	empty, err := c.Fingerprint(ctx)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = c.Save(ctx, mustDef(t, "A", square, "EPSG:4326", filter.Intersects, false), Never)
	one, _ := c.Fingerprint(ctx)
	again, _ := c.Fingerprint(ctx)
	if one == empty || one != again {
		t.Fatalf("fingerprints empty=%s one=%s again=%s", empty, one, again)
	}
	_, _ = c.Save(ctx, mustDef(t, "A", square, "EPSG:4326", filter.Within, false), Always)
	changed, _ := c.Fingerprint(ctx)
	if changed == one {
		t.Fatalf("fingerprint did not change after overwrite")
	}
}

func TestCachedStore_ReadThroughAndInvalidate(t *testing.T) {
	ctx := context.Background()
	backing := NewMemoryStore()
	s := NewCachedStore(backing, 4)
	c := New(s, Options{Logger: quiet()})

	d := mustDef(t, "A", square, "EPSG:4326", filter.Intersects, false)
	if _, err := c.Save(ctx, d, Never); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Load(ctx, "A"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Delete(ctx, "A", Always); err != nil {
		t.Fatal(err)
	}
	if _, _, err := backing.Get(ctx, "A"); err != nil {
		t.Fatal(err)
	}
	if _, found, _ := s.Get(ctx, "A"); found {
		t.Fatalf("cache kept a deleted record")
	}

	if same := NewCachedStore(backing, 0); same != Store(backing) {
		t.Fatalf("size 0 must return the backing store")
	}
}

func TestApplyEvent_EvictsStaleCopy(t *testing.T) {
	ctx := context.Background()
	backing := NewMemoryStore()
	c := New(NewCachedStore(backing, 4), Options{Logger: quiet()})

	if _, err := c.Save(ctx, mustDef(t, "A", square, "EPSG:4326", filter.Intersects, false), Never); err != nil {
		t.Fatal(err)
	}
	// another instance rewrites the shared entry
	b, err := EncodeRecord(mustDef(t, "A", square, "EPSG:4326", filter.Within, false).StorageRecord())
	if err != nil {
		t.Fatal(err)
	}
	if err := backing.Set(ctx, "A", b); err != nil {
		t.Fatal(err)
	}
	if got, _ := c.Load(ctx, "A"); got.Predicate != filter.Intersects {
		t.Fatalf("expected the cached copy before the event, got %v", got.Predicate)
	}

	if err := c.ApplyEvent(ctx, events.Event{Op: events.OpSaved, Name: "A", Origin: "other"}); err != nil {
		t.Fatal(err)
	}
	if got, _ := c.Load(ctx, "A"); got.Predicate != filter.Within {
		t.Fatalf("stale copy survived the event: %v", got.Predicate)
	}
}

func TestDecodeRecord_Malformed(t *testing.T) {
	if _, err := DecodeRecord(nil); !errors.Is(err, filter.ErrMalformedRecord) {
		t.Fatalf("empty: %v", err)
	}
	if _, err := DecodeRecord([]byte{0xc1}); !errors.Is(err, filter.ErrMalformedRecord) {
		t.Fatalf("garbage: %v", err)
	}
	b, err := EncodeRecord(mustDef(t, "A", square, "EPSG:4326", filter.Disjoint, true).StorageRecord())
	if err != nil {
		t.Fatal(err)
	}
	r, err := DecodeRecord(b)
	if err != nil {
		t.Fatal(err)
	}
	d, err := filter.FromStorageRecord(r)
	if err != nil {
		t.Fatalf("FromStorageRecord: %v", err)
	}
	if d.Predicate != filter.Disjoint || !d.UseBoundingBox {
		t.Fatalf("decoded %v", d)
	}
}
