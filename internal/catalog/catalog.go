// Package catalog persists named filter definitions and reconciles
// reverse-parsed filters against them.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/spatial-filter/internal/catalog/events"
	"github.com/mohammed-shakir/spatial-filter/internal/core/observability"
	"github.com/mohammed-shakir/spatial-filter/internal/filter"
)

var ErrNotFound = errors.New("catalog: filter not found")

// Confirm asks the user a yes/no question about the named entry. A nil Confirm declines.
type Confirm func(name string) bool

func Always(string) bool { return true }

func Never(string) bool { return false }

type SaveResult int

const (
	Saved SaveResult = iota + 1
	Unchanged
	Declined
)

func (r SaveResult) String() string {
	switch r {
	case Saved:
		return "saved"
	case Unchanged:
		return "unchanged"
	case Declined:
		return "declined"
	}
	return "failed"
}

type Notifier interface {
	Publish(events.Event)
}

type Options struct {
	Logger   *slog.Logger
	Notifier Notifier
	// Group is reported in change events.
	Group string
}

type Catalog struct {
	store  Store
	log    *slog.Logger
	notify Notifier
	group  string
}

func New(store Store, opts Options) *Catalog {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Catalog{store: store, log: opts.Logger, notify: opts.Notifier, group: opts.Group}
}

// Save persists def under its name. Invalid or unnamed definitions are
// reported as errors. Replacing a different entry under the same name needs
// confirmOverwrite to agree.
func (c *Catalog) Save(ctx context.Context, def filter.Definition, confirmOverwrite Confirm) (SaveResult, error) {
	res, err := c.save(ctx, def, confirmOverwrite)
	observability.ObserveCatalogOp("save", err)
	return res, err
}

func (c *Catalog) save(ctx context.Context, def filter.Definition, confirmOverwrite Confirm) (SaveResult, error) {
	if err := def.Validate(); err != nil {
		return 0, err
	}
	if def.Name == "" {
		return 0, filter.ErrMissingName
	}

	rec := def.StorageRecord()
	existing, found, err := c.store.Get(ctx, def.Name)
	if err != nil {
		return 0, fmt.Errorf("catalog get %q: %w", def.Name, err)
	}
	if found {
		if old, derr := DecodeRecord(existing); derr == nil && old.Equal(rec) {
			return Unchanged, nil
		}
		if confirmOverwrite == nil || !confirmOverwrite(def.Name) {
			return Declined, nil
		}
	}

	b, err := EncodeRecord(rec)
	if err != nil {
		return 0, err
	}
	if err := c.store.Set(ctx, def.Name, b); err != nil {
		return 0, fmt.Errorf("catalog set %q: %w", def.Name, err)
	}
	c.log.Info("filter saved", "name", def.Name, "overwrite", found)
	c.publish(events.OpSaved, def.Name)
	return Saved, nil
}

// Delete removes the named entry once confirmDelete agrees. It reports
// whether an entry was removed.
func (c *Catalog) Delete(ctx context.Context, name string, confirmDelete Confirm) (bool, error) {
	ok, err := c.delete(ctx, name, confirmDelete)
	observability.ObserveCatalogOp("delete", err)
	return ok, err
}

func (c *Catalog) delete(ctx context.Context, name string, confirmDelete Confirm) (bool, error) {
	_, found, err := c.store.Get(ctx, name)
	if err != nil {
		return false, fmt.Errorf("catalog get %q: %w", name, err)
	}
	if !found {
		return false, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if confirmDelete == nil || !confirmDelete(name) {
		return false, nil
	}
	if err := c.store.Remove(ctx, name); err != nil {
		return false, fmt.Errorf("catalog remove %q: %w", name, err)
	}
	c.log.Info("filter deleted", "name", name)
	c.publish(events.OpDeleted, name)
	return true, nil
}

// Load returns an independent copy of the named entry.
func (c *Catalog) Load(ctx context.Context, name string) (filter.Definition, error) {
	b, found, err := c.store.Get(ctx, name)
	if err != nil {
		return filter.Definition{}, fmt.Errorf("catalog get %q: %w", name, err)
	}
	if !found {
		return filter.Definition{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	rec, err := DecodeRecord(b)
	if err != nil {
		return filter.Definition{}, fmt.Errorf("catalog entry %q: %w", name, err)
	}
	def, err := filter.FromStorageRecord(rec)
	if err != nil {
		return filter.Definition{}, fmt.Errorf("catalog entry %q: %w", name, err)
	}
	return def, nil
}

// LoadAll returns every readable entry in store order. Malformed entries are
// logged and skipped.
func (c *Catalog) LoadAll(ctx context.Context) ([]filter.Definition, error) {
	names, err := c.store.Keys(ctx)
	if err != nil {
		observability.ObserveCatalogOp("load_all", err)
		return nil, fmt.Errorf("catalog keys: %w", err)
	}
	out := make([]filter.Definition, 0, len(names))
	for _, name := range names {
		def, err := c.Load(ctx, name)
		if errors.Is(err, filter.ErrMalformedRecord) {
			c.log.Warn("skipping malformed catalog entry", "name", name, "err", err)
			continue
		}
		if errors.Is(err, ErrNotFound) {
			// removed between Keys and Get
			continue
		}
		if err != nil {
			observability.ObserveCatalogOp("load_all", err)
			return nil, err
		}
		out = append(out, def)
	}
	observability.ObserveCatalogOp("load_all", nil)
	return out, nil
}

// IsSaved reports whether def is stored, unchanged, under its name.
func (c *Catalog) IsSaved(ctx context.Context, def filter.Definition) (bool, error) {
	if def.Name == "" {
		return false, nil
	}
	b, found, err := c.store.Get(ctx, def.Name)
	if err != nil || !found {
		return false, err
	}
	rec, err := DecodeRecord(b)
	if err != nil {
		return false, nil
	}
	return rec.Equal(def.StorageRecord()), nil
}

// Reconcile recovers the name and bounding box flag of a reverse-parsed
// definition. An exact geometry and CRS match wins over a match against an
// entry's bounding box. The live predicate of parsed is always kept. Without
// any match parsed is returned unchanged.
//
// Several entries can share a geometry; the first one in store order wins and
// the ambiguity is logged.
func (c *Catalog) Reconcile(ctx context.Context, parsed filter.Definition) (filter.Definition, error) {
	entries, err := c.LoadAll(ctx)
	if err != nil {
		observability.ObserveCatalogOp("reconcile", err)
		return parsed, err
	}
	wkt := parsed.Geometry.WKT()

	pick := func(match func(filter.Definition) bool) (filter.Definition, bool) {
		var hits []string
		var first filter.Definition
		for _, e := range entries {
			if !e.CRS.Equal(parsed.CRS) || !match(e) {
				continue
			}
			if len(hits) == 0 {
				first = e
			}
			hits = append(hits, e.Name)
		}
		if len(hits) > 1 {
			c.log.Warn("ambiguous catalog match, using first entry", "candidates", hits, "chosen", first.Name)
		}
		return first, len(hits) > 0
	}

	if e, ok := pick(func(e filter.Definition) bool { return e.Geometry.WKT() == wkt }); ok {
		out := e.Copy()
		out.Predicate = parsed.Predicate
		out.UseBoundingBox = false
		observability.ObserveCatalogOp("reconcile", nil)
		return out, nil
	}
	if e, ok := pick(func(e filter.Definition) bool { return e.Geometry.BoundingBox().WKT() == wkt }); ok {
		out := e.Copy()
		out.Predicate = parsed.Predicate
		out.UseBoundingBox = true
		observability.ObserveCatalogOp("reconcile", nil)
		return out, nil
	}
	observability.ObserveCatalogOp("reconcile", nil)
	return parsed, nil
}

// Fingerprint changes whenever any entry is added, removed or altered.
func (c *Catalog) Fingerprint(ctx context.Context) (string, error) {
	names, err := c.store.Keys(ctx)
	if err != nil {
		return "", fmt.Errorf("catalog keys: %w", err)
	}
	names = slices.Clone(names)
	sort.Strings(names)
	h := xxhash.New()
	for _, n := range names {
		b, found, err := c.store.Get(ctx, n)
		if err != nil {
			return "", fmt.Errorf("catalog get %q: %w", n, err)
		}
		if !found {
			continue
		}
		_, _ = h.WriteString(n)
		_, _ = h.Write([]byte{0})
		_, _ = h.Write(b)
		_, _ = h.Write([]byte{0})
	}
	return strconv.FormatUint(h.Sum64(), 16), nil
}

type evicter interface {
	Evict(name string)
}

// ApplyEvent reacts to a change another instance made to the shared store by
// dropping any locally cached copy of the entry.
func (c *Catalog) ApplyEvent(_ context.Context, ev events.Event) error {
	if e, ok := c.store.(evicter); ok {
		e.Evict(ev.Name)
	}
	c.log.Info("catalog entry changed by another instance", "op", ev.Op, "name", ev.Name, "origin", ev.Origin)
	return nil
}

// SortByName orders definitions case-insensitively by name for display.
func SortByName(defs []filter.Definition) {
	sort.SliceStable(defs, func(i, j int) bool { return defs[i].Less(defs[j]) })
}

func (c *Catalog) publish(op, name string) {
	if c.notify == nil {
		return
	}
	c.notify.Publish(events.Event{Op: op, Group: c.group, Name: name})
}
