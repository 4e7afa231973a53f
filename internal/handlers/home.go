package handlers

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"roadwatch/internal/engine"
	"roadwatch/internal/viewmodel"
	"roadwatch/pkg/realtime"
	"roadwatch/views/pages"
)

type HomeHandler struct {
	engine         *engine.Engine
	allowAnonymous bool
}

func NewHomeHandler(eng *engine.Engine, allowAnonymous bool) *HomeHandler {
	return &HomeHandler{engine: eng, allowAnonymous: allowAnonymous}
}

func (h *HomeHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.home)
	r.Get("/healthz", h.health)
}

func (h *HomeHandler) home(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	stats := h.engine.Stats()
	cfg := h.engine.Config()

	alerts := h.engine.ListActive(nil)
	presence := h.engine.ListPresence(nil)
	sort.Slice(presence, func(i, j int) bool {
		return presence[i].DisplayName < presence[j].DisplayName
	})

	data := viewmodel.StatusPage{
		Title:         "Roadwatch",
		Connections:   stats.Connections,
		Observers:     stats.Observers,
		Dropped:       stats.Dropped,
		Alerts:        toAlertRows(alerts, now),
		Presence:      toPresenceRows(presence, now),
		StreamURL:     "/api/stream",
		SocketURL:     socketURL(r),
		GeneratedAt:   now.Format(time.RFC1123),
		AnonymousOK:   h.allowAnonymous,
		ReportLimit:   cfg.ReportLimit,
		ReportWindow:  cfg.ReportWindow.String(),
		AlertLifetime: cfg.BaseTTL.String(),
	}
	render(w, r, pages.StatusPage(data))
}

type healthResponse struct {
	Status string `json:"status"`
	engine.Stats
}

func (h *HomeHandler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Stats: h.engine.Stats()})
}

func toAlertRows(alerts []engine.AlertRecord, now time.Time) []viewmodel.AlertRow {
	rows := make([]viewmodel.AlertRow, 0, len(alerts))
	for _, a := range alerts {
		rows = append(rows, viewmodel.AlertRow{
			ID:            a.ID,
			Category:      string(a.Category),
			Description:   a.Description,
			Latitude:      formatCoord(a.Lat),
			Longitude:     formatCoord(a.Lng),
			Confirmations: a.Confirmations,
			ExpiresIn:     realtime.Remaining(a.ExpiresAt, now).Round(time.Second).String(),
		})
	}
	return rows
}

func toPresenceRows(records []engine.PresenceRecord, now time.Time) []viewmodel.PresenceRow {
	rows := make([]viewmodel.PresenceRow, 0, len(records))
	for _, p := range records {
		row := viewmodel.PresenceRow{
			Name:      p.DisplayName,
			Latitude:  formatCoord(p.Lat),
			Longitude: formatCoord(p.Lng),
			Speed:     "-",
			Heading:   "-",
			SeenAgo:   now.Sub(p.UpdatedAt).Round(time.Second).String() + " ago",
		}
		if p.Speed != nil {
			row.Speed = strconv.FormatFloat(*p.Speed, 'f', 0, 64)
		}
		if p.Heading != nil {
			row.Heading = strconv.FormatFloat(*p.Heading, 'f', 0, 64) + "°"
		}
		rows = append(rows, row)
	}
	return rows
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 5, 64)
}

func socketURL(r *http.Request) string {
	scheme := "ws"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s/ws", scheme, r.Host)
}
