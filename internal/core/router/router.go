// Package router exposes the codec, the catalog and the active filter over HTTP.
package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/spatial-filter/internal/catalog"
	"github.com/mohammed-shakir/spatial-filter/internal/codec"
	"github.com/mohammed-shakir/spatial-filter/internal/controller"
	"github.com/mohammed-shakir/spatial-filter/internal/core/geom"
	"github.com/mohammed-shakir/spatial-filter/internal/dataset"
	"github.com/mohammed-shakir/spatial-filter/internal/dialect"
	"github.com/mohammed-shakir/spatial-filter/internal/filter"
	"github.com/mohammed-shakir/spatial-filter/internal/logger"
)

const maxBody = 4 << 20

type API struct {
	Codec      *codec.Codec
	Catalog    *catalog.Catalog
	Controller *controller.Controller
	Datasets   *dataset.Registry
	Log        *slog.Logger
}

// Mount registers the /v1 routes on r.
func (a *API) Mount(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Post("/render", a.render)
		r.Post("/inject", a.inject)
		r.Post("/extract", a.extract)
		r.Post("/restore", a.restore)

		r.Get("/filters", a.listFilters)
		r.Get("/filters/{name}", a.getFilter)
		r.Put("/filters/{name}", a.putFilter)
		r.Delete("/filters/{name}", a.deleteFilter)

		r.Get("/datasets", a.listDatasets)
		r.Post("/datasets", a.addDatasets)
		r.Post("/datasets/{id}/exception", a.setException)
		r.Post("/datasets/refresh", a.refreshDatasets)

		r.Get("/active", a.getActive)
		r.Put("/active", a.putActive)
		r.Patch("/active", a.patchActive)
		r.Delete("/active", a.deleteActive)
		r.Put("/active/extent", a.putActiveExtent)
		r.Put("/active/selection", a.putActiveSelection)

		r.Post("/project/clear", a.clearProject)
	})
}

type renderRequest struct {
	Definition    filter.Definition `json:"definition"`
	Dialect       string            `json:"dialect"`
	Storage       string            `json:"storage"`
	GeometryField string            `json:"geometry_field"`
	TargetCRS     string            `json:"target_crs"`
}

func (a *API) render(w http.ResponseWriter, r *http.Request) {
	var req renderRequest
	if !a.decode(w, r, &req) {
		return
	}
	d, err := resolveDialect(req.Dialect, req.Storage)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	target, err := geom.ParseCRS(req.TargetCRS)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.GeometryField) == "" {
		writeError(w, http.StatusBadRequest, errors.New("geometry_field is required"))
		return
	}
	frag, err := a.Codec.Render(req.Definition, d, req.GeometryField, target)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"fragment": frag})
}

type injectRequest struct {
	Filter   string `json:"filter"`
	Fragment string `json:"fragment"`
	Dialect  string `json:"dialect"`
	Storage  string `json:"storage"`
}

func (a *API) inject(w http.ResponseWriter, r *http.Request) {
	var req injectRequest
	if !a.decode(w, r, &req) {
		return
	}
	d, err := resolveDialect(req.Dialect, req.Storage)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	out, err := a.Codec.Inject(req.Filter, req.Fragment, d)
	if err != nil {
		writeJSON(w, statusFor(err), map[string]string{"error": err.Error(), "filter": out})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"filter": out})
}

type extractResponse struct {
	Found     bool   `json:"found"`
	Fragment  string `json:"fragment,omitempty"`
	Remainder string `json:"remainder"`
}

func (a *API) extract(w http.ResponseWriter, r *http.Request) {
	var req injectRequest
	if !a.decode(w, r, &req) {
		return
	}
	d, err := resolveDialect(req.Dialect, req.Storage)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	e, ok, err := a.Codec.Extract(req.Filter, d)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, extractResponse{Remainder: req.Filter})
		return
	}
	writeJSON(w, http.StatusOK, extractResponse{Found: true, Fragment: e.Fragment, Remainder: e.Remainder})
}

type restoreRequest struct {
	Filter     string `json:"filter"`
	Dialect    string `json:"dialect"`
	Storage    string `json:"storage"`
	DatasetCRS string `json:"dataset_crs"`
}

type restoreResponse struct {
	Found      bool               `json:"found"`
	Definition *filter.Definition `json:"definition,omitempty"`
}

// restore reverse-parses a filter string and reconciles it with the catalog.
func (a *API) restore(w http.ResponseWriter, r *http.Request) {
	var req restoreRequest
	if !a.decode(w, r, &req) {
		return
	}
	d, err := resolveDialect(req.Dialect, req.Storage)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var crs geom.CRS
	if req.DatasetCRS != "" {
		if crs, err = geom.ParseCRS(req.DatasetCRS); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	parsed, ok, err := a.Codec.Restore(req.Filter, d, crs)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, restoreResponse{})
		return
	}
	def, err := a.Catalog.Reconcile(r.Context(), parsed)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, restoreResponse{Found: true, Definition: &def})
}

func (a *API) listFilters(w http.ResponseWriter, r *http.Request) {
	etag, err := a.Catalog.Fingerprint(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	etag = strconv.Quote(etag)
	w.Header().Set("ETag", etag)
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	defs, err := a.Catalog.LoadAll(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	catalog.SortByName(defs)
	writeJSON(w, http.StatusOK, defs)
}

func (a *API) getFilter(w http.ResponseWriter, r *http.Request) {
	def, err := a.Catalog.Load(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (a *API) putFilter(w http.ResponseWriter, r *http.Request) {
	var def filter.Definition
	if !a.decode(w, r, &def) {
		return
	}
	def.Name = chi.URLParam(r, "name")
	res, err := a.Catalog.Save(r.Context(), def, confirmFromQuery(r, "overwrite"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	status := http.StatusOK
	switch res {
	case catalog.Saved:
		status = http.StatusCreated
	case catalog.Declined:
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{"result": res.String(), "name": def.Name})
}

func (a *API) deleteFilter(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	ok, err := a.Catalog.Delete(r.Context(), name, confirmFromQuery(r, "confirm"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if !ok {
		writeError(w, http.StatusConflict, fmt.Errorf("deleting %q needs confirm=true", name))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) listDatasets(w http.ResponseWriter, _ *http.Request) {
	ts := a.Datasets.All()
	out := make([]dataset.Spec, 0, len(ts))
	for _, t := range ts {
		out = append(out, specOf(t))
	}
	writeJSON(w, http.StatusOK, out)
}

// addDatasets accepts one spec or an array of specs.
func (a *API) addDatasets(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if !a.decode(w, r, &raw) {
		return
	}
	var specs []dataset.Spec
	if t := strings.TrimSpace(string(raw)); strings.HasPrefix(t, "[") {
		if err := json.Unmarshal(raw, &specs); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	} else {
		var s dataset.Spec
		if err := json.Unmarshal(raw, &s); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		specs = append(specs, s)
	}

	ts := make([]dataset.Target, 0, len(specs))
	for _, s := range specs {
		d, err := dataset.New(s)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		ts = append(ts, d)
	}
	rep, err := a.Controller.OnDatasetsAdded(r.Context(), ts...)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rep)
}

func (a *API) setException(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Exception bool `json:"exception"`
	}
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.Datasets.SetException(chi.URLParam(r, "id"), req.Exception); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.Controller.UpdateDatasets())
}

func (a *API) refreshDatasets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.Controller.UpdateDatasets())
}

type activeResponse struct {
	Active *filter.Definition `json:"active"`
	Saved  bool               `json:"saved"`
}

func (a *API) getActive(w http.ResponseWriter, r *http.Request) {
	def, ok := a.Controller.Active()
	if !ok {
		writeJSON(w, http.StatusOK, activeResponse{})
		return
	}
	saved, err := a.Catalog.IsSaved(r.Context(), def)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, activeResponse{Active: &def, Saved: saved})
}

// putActive sets the active filter from the body, or from a catalog entry
// named by ?filter=.
func (a *API) putActive(w http.ResponseWriter, r *http.Request) {
	var def filter.Definition
	if name := r.URL.Query().Get("filter"); name != "" {
		var err error
		if def, err = a.Catalog.Load(r.Context(), name); err != nil {
			a.fail(w, r, err)
			return
		}
	} else if !a.decode(w, r, &def) {
		return
	}
	a.setActive(w, r, def)
}

func (a *API) setActive(w http.ResponseWriter, r *http.Request, def filter.Definition) {
	rep, err := a.Controller.SetFilter(def)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

type patchActiveRequest struct {
	Predicate *string `json:"predicate"`
	BBox      *bool   `json:"bbox"`
}

func (a *API) patchActive(w http.ResponseWriter, r *http.Request) {
	var req patchActiveRequest
	if !a.decode(w, r, &req) {
		return
	}
	var rep controller.Report
	if req.Predicate != nil {
		p, err := filter.ParsePredicate(*req.Predicate)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if rep, err = a.Controller.SetPredicate(p); err != nil {
			a.fail(w, r, err)
			return
		}
	}
	if req.BBox != nil {
		var err error
		if rep, err = a.Controller.SetBoundingBox(*req.BBox); err != nil {
			a.fail(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, rep)
}

func (a *API) deleteActive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.Controller.RemoveFilter())
}

// putActiveExtent builds the filter from ?bbox=x1,y1,x2,y2,EPSG:code.
func (a *API) putActiveExtent(w http.ResponseWriter, r *http.Request) {
	b, crs, err := parseBBOX(r.URL.Query().Get("bbox"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid bbox: %w", err))
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		name = "New filter from extent"
	}
	a.setActive(w, r, filter.FromExtent(b, crs, name))
}

// putActiveSelection builds the filter from selected polygons given as
// GeoJSON geometries, features or a feature collection. ?crs= defaults to EPSG:4326.
func (a *API) putActiveSelection(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("parse json: %w", err))
		return
	}
	parts, err := parseSelection(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	crs := geom.WGS84
	if s := r.URL.Query().Get("crs"); s != "" {
		if crs, err = geom.ParseCRS(s); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		name = "New filter from selection"
	}
	def, err := filter.FromGeometries(parts, crs, name)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.setActive(w, r, def)
}

func (a *API) clearProject(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.Controller.Clear())
}

func parseBBOX(bboxParam string) (orb.Bound, geom.CRS, error) {
	parts := strings.Split(bboxParam, ",")
	if len(parts) != 5 {
		return orb.Bound{}, geom.CRS{}, errors.New("expected 5 comma-separated values: x1,y1,x2,y2,EPSG:code")
	}
	var v [4]float64
	for i, name := range []string{"x1", "y1", "x2", "y2"} {
		f, err := strconv.ParseFloat(strings.TrimSpace(parts[i]), 64)
		if err != nil {
			return orb.Bound{}, geom.CRS{}, fmt.Errorf("%s: %w", name, err)
		}
		v[i] = f
	}
	crs, err := geom.ParseCRS(parts[4])
	if err != nil {
		return orb.Bound{}, geom.CRS{}, err
	}
	if v[2] <= v[0] || v[3] <= v[1] {
		return orb.Bound{}, geom.CRS{}, errors.New("coordinates must satisfy x2>x1 and y2>y1")
	}
	return orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}, crs, nil
}

func parseSelection(raw []byte) ([]geom.Geometry, error) {
	var tmp struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &tmp); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	var gs []orb.Geometry
	switch tmp.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(raw)
		if err != nil {
			return nil, fmt.Errorf("parse feature collection: %w", err)
		}
		for _, f := range fc.Features {
			gs = append(gs, f.Geometry)
		}
	case "Feature":
		f, err := geojson.UnmarshalFeature(raw)
		if err != nil {
			return nil, fmt.Errorf("parse feature: %w", err)
		}
		gs = append(gs, f.Geometry)
	default:
		g, err := geojson.UnmarshalGeometry(raw)
		if err != nil {
			return nil, fmt.Errorf("parse geometry: %w", err)
		}
		gs = append(gs, g.Geometry())
	}

	out := make([]geom.Geometry, 0, len(gs))
	for _, g := range gs {
		switch g.(type) {
		case orb.Polygon, orb.MultiPolygon:
			out = append(out, geom.FromOrb(g))
		default:
			if g == nil {
				return nil, errors.New("feature without geometry")
			}
			return nil, fmt.Errorf(`unsupported GeoJSON "type": %q (must be Polygon or MultiPolygon)`, g.GeoJSONType())
		}
	}
	if len(out) == 0 {
		return nil, errors.New("no features selected")
	}
	return out, nil
}

func resolveDialect(name, storage string) (dialect.Dialect, error) {
	if name != "" {
		k, err := dialect.ParseKind(name)
		if err != nil {
			return dialect.Dialect{}, err
		}
		return dialect.Get(k)
	}
	if d, ok := dialect.ForStorage(storage); ok {
		return d, nil
	}
	return dialect.Dialect{}, fmt.Errorf("either dialect or a supported storage is required (got storage %q)", storage)
}

// confirmFromQuery answers the confirmation prompt from a boolean query flag.
func confirmFromQuery(r *http.Request, key string) catalog.Confirm {
	ok, _ := strconv.ParseBool(r.URL.Query().Get(key))
	if ok {
		return catalog.Always
	}
	return catalog.Never
}

func specOf(t dataset.Target) dataset.Spec {
	if d, ok := t.(*dataset.Dataset); ok {
		return d.Snapshot()
	}
	return dataset.Spec{
		ID:            t.ID(),
		Storage:       t.StorageKind(),
		Spatial:       t.IsSpatial(),
		GeometryType:  t.GeometryType(),
		GeometryField: t.GeometryField(),
		CRS:           t.CRS().String(),
		Filter:        t.Filter(),
	}
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			status = http.StatusBadRequest
		}
		writeError(w, status, fmt.Errorf("decode body: %w", err))
		return false
	}
	return true
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.Log.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "err", err)
	}
	body := map[string]string{"error": err.Error()}
	if id := logger.RequestID(r.Context()); id != "" {
		body["request_id"] = id
	}
	writeJSON(w, status, body)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, catalog.ErrNotFound), errors.Is(err, dataset.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, dataset.ErrDuplicate), errors.Is(err, controller.ErrNoActiveFilter):
		return http.StatusConflict
	case errors.Is(err, filter.ErrInvalidDefinition),
		errors.Is(err, filter.ErrMissingName),
		errors.Is(err, filter.ErrMalformedRecord),
		errors.Is(err, codec.ErrMalformedEmbedding),
		errors.Is(err, codec.ErrTemplateMismatch),
		errors.Is(err, geom.ErrUnsupportedTransform):
		return http.StatusUnprocessableEntity
	case errors.Is(err, geom.ErrInvalidWKT),
		errors.Is(err, geom.ErrInvalidCRS),
		errors.Is(err, dataset.ErrInvalid),
		errors.Is(err, codec.ErrInvalidTarget):
		return http.StatusBadRequest
	}
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
