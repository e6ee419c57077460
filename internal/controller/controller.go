// Package controller owns the active spatial filter and keeps the registered
// datasets in line with it.
package controller

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/mohammed-shakir/spatial-filter/internal/codec"
	"github.com/mohammed-shakir/spatial-filter/internal/core/geom"
	"github.com/mohammed-shakir/spatial-filter/internal/dataset"
	"github.com/mohammed-shakir/spatial-filter/internal/filter"
	"github.com/mohammed-shakir/spatial-filter/internal/logger"
)

var ErrNoActiveFilter = errors.New("controller: no active filter")

// Reconciler recovers names of reverse-parsed filters; *catalog.Catalog satisfies it.
type Reconciler interface {
	Reconcile(ctx context.Context, parsed filter.Definition) (filter.Definition, error)
}

// Listener is told about every change of the active filter. def is nil when
// the filter was removed.
type Listener func(def *filter.Definition)

// Report summarises one pass over the datasets.
type Report struct {
	Applied []string          `json:"applied"`
	Removed []string          `json:"removed"`
	Skipped map[string]string `json:"skipped,omitempty"`
	Failed  map[string]string `json:"failed,omitempty"`
}

func (r *Report) skip(id, reason string) {
	if r.Skipped == nil {
		r.Skipped = map[string]string{}
	}
	r.Skipped[id] = reason
}

func (r *Report) fail(id string, err error) {
	if r.Failed == nil {
		r.Failed = map[string]string{}
	}
	r.Failed[id] = err.Error()
}

type Controller struct {
	codec      *codec.Codec
	catalog    Reconciler
	datasets   *dataset.Registry
	log        *slog.Logger
	defaultCRS geom.CRS

	mu        sync.Mutex
	active    *filter.Definition
	listeners []Listener
}

func New(c *codec.Codec, rec Reconciler, reg *dataset.Registry, defaultCRS geom.CRS, l *slog.Logger) *Controller {
	if l == nil {
		l = slog.Default()
	}
	return &Controller{
		codec:      c,
		catalog:    rec,
		datasets:   reg,
		log:        l,
		defaultCRS: defaultCRS,
	}
}

// Subscribe registers l for active filter changes. Listeners run under the
// controller lock and must not call back into it.
func (c *Controller) Subscribe(l Listener) {
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()
}

// Active returns a copy of the active filter.
func (c *Controller) Active() (filter.Definition, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return filter.Definition{}, false
	}
	return c.active.Copy(), true
}

// Default is a fresh, not yet usable filter in the configured CRS.
func (c *Controller) Default() filter.Definition {
	return filter.Default(c.defaultCRS)
}

// SetFilter makes an independent copy of def the active filter and applies it.
func (c *Controller) SetFilter(def filter.Definition) (Report, error) {
	if err := def.Validate(); err != nil {
		return Report{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	d := def.Copy()
	c.active = &d
	c.log.Info("active filter set", "name", d.Name, "predicate", d.Predicate.String(), "crs", d.CRS.String())
	return c.refreshLocked(), nil
}

func (c *Controller) SetPredicate(p filter.Predicate) (Report, error) {
	if !p.IsValid() {
		return Report{}, filter.ErrInvalidDefinition
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return Report{}, ErrNoActiveFilter
	}
	c.active.Predicate = p
	return c.refreshLocked(), nil
}

func (c *Controller) SetBoundingBox(on bool) (Report, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return Report{}, ErrNoActiveFilter
	}
	c.active.UseBoundingBox = on
	return c.refreshLocked(), nil
}

// RemoveFilter drops the active filter and strips it from every dataset.
func (c *Controller) RemoveFilter() Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = nil
	c.log.Info("active filter removed")
	return c.refreshLocked()
}

// UpdateDatasets re-applies the active filter everywhere without changing it.
func (c *Controller) UpdateDatasets() Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updateLocked(c.datasets.All())
}

// Clear handles a closed project: the filter is removed and the datasets forgotten.
func (c *Controller) Clear() Report {
	rep := c.RemoveFilter()
	c.datasets.Reset()
	return rep
}

// OnDatasetsAdded registers ts. With a valid active filter it is applied to
// them. Otherwise the first supported dataset already carrying a fragment
// becomes the source of the active filter, reconciled against the catalog.
func (c *Controller) OnDatasetsAdded(ctx context.Context, ts ...dataset.Target) (Report, error) {
	if err := c.datasets.Add(ts...); err != nil {
		return Report{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.hasValidFilterLocked() {
		return c.updateLocked(ts), nil
	}

	var rep Report
	for _, t := range ts {
		d, ok, reason := dataset.Support(t)
		if !ok {
			if dataset.IsCurved(t.GeometryType()) {
				c.log.Warn("dataset geometry type is not supported and will be ignored for filtering",
					"dataset", t.ID(), "storage", t.StorageKind(), "geometry_type", t.GeometryType())
			}
			rep.skip(t.ID(), reason)
			continue
		}
		if !strings.Contains(t.Filter(), d.StartMarker) {
			continue
		}
		parsed, found, err := c.codec.Restore(t.Filter(), d, t.CRS())
		if err != nil || !found {
			// the dataset filter stays as it is; keep looking
			continue
		}
		def := parsed
		if c.catalog != nil {
			if def, err = c.catalog.Reconcile(ctx, parsed); err != nil {
				c.log.Warn("catalog reconcile failed; using parsed filter", "dataset", t.ID(), "err", err)
				def = parsed
			}
		}
		c.active = &def
		c.log.Info("active filter restored from dataset", "dataset", t.ID(), "name", def.Name, "bbox", def.UseBoundingBox)
		return c.refreshLocked(), nil
	}
	return rep, nil
}

func (c *Controller) hasValidFilterLocked() bool {
	return c.active != nil && c.active.IsValid()
}

func (c *Controller) refreshLocked() Report {
	var snapshot *filter.Definition
	if c.active != nil {
		d := c.active.Copy()
		snapshot = &d
	}
	for _, l := range c.listeners {
		l(snapshot)
	}
	return c.updateLocked(c.datasets.All())
}

func (c *Controller) updateLocked(ts []dataset.Target) Report {
	var rep Report
	valid := c.hasValidFilterLocked()
	for _, t := range ts {
		d, ok, reason := dataset.Support(t)
		if !ok {
			rep.skip(t.ID(), reason)
			continue
		}
		lctx := logger.WithDataset(context.Background(), t.ID())
		if valid && !c.datasets.HasException(t.ID()) {
			frag, err := c.codec.Render(*c.active, d, t.GeometryField(), t.CRS())
			if err != nil {
				c.log.WarnContext(lctx, "filter could not be rendered for dataset", "err", err)
				rep.fail(t.ID(), err)
				continue
			}
			out, err := c.codec.Inject(t.Filter(), frag, d)
			if err != nil {
				c.log.WarnContext(lctx, "dataset filter left untouched", "err", err)
				rep.fail(t.ID(), err)
				continue
			}
			t.SetFilter(out)
			rep.Applied = append(rep.Applied, t.ID())
			continue
		}

		if !strings.Contains(t.Filter(), d.StartMarker) {
			continue
		}
		out, err := c.codec.Remove(t.Filter(), d)
		if err != nil {
			c.log.WarnContext(lctx, "dataset filter left untouched", "err", err)
			rep.fail(t.ID(), err)
			continue
		}
		t.SetFilter(out)
		rep.Removed = append(rep.Removed, t.ID())
	}
	c.log.Debug("datasets updated", "applied", len(rep.Applied), "removed", len(rep.Removed), "skipped", len(rep.Skipped))
	return rep
}
