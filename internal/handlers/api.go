package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"roadwatch/internal/auth"
	"roadwatch/internal/engine"
	"roadwatch/internal/geo"
)

const maxBodyBytes = 4 << 10

type APIHandler struct {
	engine *engine.Engine
	auth   *auth.Authenticator
}

func NewAPIHandler(eng *engine.Engine, authn *auth.Authenticator) *APIHandler {
	return &APIHandler{engine: eng, auth: authn}
}

func (h *APIHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/alerts", h.listAlerts)
	r.Get("/api/alerts/{id}", h.getAlert)
	r.Get("/api/presence", h.listPresence)
	r.Group(func(r chi.Router) {
		r.Use(h.auth.Require)
		r.Post("/api/alerts", h.createAlert)
		r.Post("/api/alerts/{id}/confirm", h.confirmAlert)
		r.Get("/api/quota", h.quota)
	})
}

type alertView struct {
	engine.AlertRecord
	DistanceMiles *float64 `json:"distanceMiles,omitempty"`
}

type alertList struct {
	Alerts []alertView `json:"alerts"`
	Count  int         `json:"count"`
}

func (h *APIHandler) listAlerts(w http.ResponseWriter, r *http.Request) {
	center, area, err := parseArea(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, engine.CodeInvalidLocation, err.Error())
		return
	}
	alerts := h.engine.ListActive(area)
	views := make([]alertView, 0, len(alerts))
	for _, a := range alerts {
		v := alertView{AlertRecord: a}
		if center != nil {
			d := geo.GreatCircleMiles(*center, a.Point)
			v.DistanceMiles = &d
		}
		views = append(views, v)
	}
	if center != nil {
		sort.SliceStable(views, func(i, j int) bool {
			return *views[i].DistanceMiles < *views[j].DistanceMiles
		})
	}
	writeJSON(w, http.StatusOK, alertList{Alerts: views, Count: len(views)})
}

func (h *APIHandler) getAlert(w http.ResponseWriter, r *http.Request) {
	rec, err := h.engine.Alert(chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type presenceList struct {
	Presence []engine.PresenceRecord `json:"presence"`
	Count    int                     `json:"count"`
}

func (h *APIHandler) listPresence(w http.ResponseWriter, r *http.Request) {
	_, area, err := parseArea(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, engine.CodeInvalidLocation, err.Error())
		return
	}
	records := h.engine.ListPresence(area)
	writeJSON(w, http.StatusOK, presenceList{Presence: records, Count: len(records)})
}

type reportRequest struct {
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	ReportType  string   `json:"reportType"`
	Description string   `json:"description"`
}

func (h *APIHandler) createAlert(w http.ResponseWriter, r *http.Request) {
	claim, _ := auth.ClaimFrom(r.Context())
	var req reportRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, engine.CodeBadRequest, err.Error())
		return
	}
	rec, err := h.engine.Report(claim.UserID, engine.AlertReport{
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
		ReportType:  req.ReportType,
		Description: req.Description,
	})
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(h.engine.Remaining(claim.UserID)))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	w.Header().Set("Location", "/api/alerts/"+rec.ID)
	writeJSON(w, http.StatusCreated, rec)
}

func (h *APIHandler) confirmAlert(w http.ResponseWriter, r *http.Request) {
	rec, err := h.engine.Confirm(chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type quotaResponse struct {
	UserID    string `json:"userId"`
	Remaining int    `json:"remaining"`
	Limit     int    `json:"limit"`
	Window    string `json:"window"`
}

func (h *APIHandler) quota(w http.ResponseWriter, r *http.Request) {
	claim, _ := auth.ClaimFrom(r.Context())
	cfg := h.engine.Config()
	writeJSON(w, http.StatusOK, quotaResponse{
		UserID:    claim.UserID,
		Remaining: h.engine.Remaining(claim.UserID),
		Limit:     cfg.ReportLimit,
		Window:    cfg.ReportWindow.String(),
	})
}

// parseArea reads the optional lat/lng/radius query. A center without a
// radius sorts results without filtering them; a radius needs a center.
func parseArea(r *http.Request) (*geo.Point, *geo.Area, error) {
	q := r.URL.Query()
	latRaw, lngRaw, radRaw := q.Get("lat"), q.Get("lng"), q.Get("radius")
	if latRaw == "" && lngRaw == "" {
		if radRaw != "" {
			return nil, nil, errors.New("radius needs lat and lng")
		}
		return nil, nil, nil
	}
	lat, err := strconv.ParseFloat(latRaw, 64)
	if err != nil {
		return nil, nil, fmt.Errorf("lat: %w", geo.ErrLatitude)
	}
	lng, err := strconv.ParseFloat(lngRaw, 64)
	if err != nil {
		return nil, nil, fmt.Errorf("lng: %w", geo.ErrLongitude)
	}
	center := geo.Point{Lat: lat, Lng: lng}
	if err := center.Validate(); err != nil {
		return nil, nil, err
	}
	if radRaw == "" {
		return &center, nil, nil
	}
	radius, err := strconv.ParseFloat(radRaw, 64)
	if err != nil {
		return nil, nil, geo.ErrRadius
	}
	area := &geo.Area{Center: center, RadiusMiles: radius}
	if err := area.Validate(); err != nil {
		return nil, nil, err
	}
	return &center, area, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		return fmt.Errorf("unsupported content type %q", ct)
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid body: %w", err)
	}
	return nil
}

func writeEngineError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), engine.Code(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrInvalidLocation), errors.Is(err, engine.ErrInvalidReport):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
