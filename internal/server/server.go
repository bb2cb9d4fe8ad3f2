// Package server exposes review pages, sessions and safety-check webhooks
// over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"

	"github.com/user/wosafety/internal/channel"
	"github.com/user/wosafety/internal/records"
	"github.com/user/wosafety/internal/review"
	"github.com/user/wosafety/internal/state"
	"github.com/user/wosafety/internal/stream"
	"github.com/user/wosafety/internal/types"
	"github.com/user/wosafety/internal/widget"
)

// Checker runs a safety check to completion.
type Checker interface {
	RunSafetyCheck(ctx context.Context, workOrderID types.WorkOrderID) (string, error)
}

// ScheduleGetter looks up a named schedule for the webhook endpoint.
type ScheduleGetter interface {
	Get(name string) (*state.Schedule, error)
}

// Notifier delivers a message to a notify key.
type Notifier func(notifyKey, message string) error

// Options are the collaborators of a Server. Nil stores disable the
// endpoints that need them.
type Options struct {
	WorkOrders types.WorkOrderStore
	Sessions   types.SessionStore
	Records    types.RecordStore
	Schedules  ScheduleGetter
	Pages      *review.Manager
	Checker    Checker
	Notify     Notifier
	Stream     *channel.WSHandler
}

// Server is the HTTP handler for the review API.
type Server struct {
	opts Options
	mux  *http.ServeMux
}

// NewServer creates a Server and registers its routes.
func NewServer(opts Options) *Server {
	s := &Server{opts: opts, mux: http.NewServeMux()}
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("GET /api/workorders", s.handleWorkOrders)
	s.mux.HandleFunc("GET /api/workorders/{id}", s.handleWorkOrder)
	s.mux.HandleFunc("GET /api/workorders/{id}/view", s.withPage(s.handleView))
	s.mux.HandleFunc("DELETE /api/workorders/{id}/view", s.handleCloseView)
	s.mux.HandleFunc("POST /api/workorders/{id}/safety-check", s.withPage(s.handleSafetyCheck))
	s.mux.HandleFunc("POST /api/workorders/{id}/hazard-check", s.withPage(s.handleHazardCheck))
	s.mux.HandleFunc("POST /api/workorders/{id}/location", s.withPage(s.handleLocation))
	s.mux.HandleFunc("POST /api/workorders/{id}/widget/attach", s.withPage(s.handleAttach))
	s.mux.HandleFunc("POST /api/workorders/{id}/widget/detach", s.withPage(s.handleDetach))
	s.mux.HandleFunc("POST /api/workorders/{id}/error/dismiss", s.withPage(s.handleDismiss))

	s.mux.HandleFunc("GET /api/sessions", s.handleSessions)
	s.mux.HandleFunc("GET /api/sessions/{id}/records", s.handleSessionRecords)
	s.mux.HandleFunc("GET /api/sessions/{id}/stream", s.handleSessionStream)

	s.mux.HandleFunc("POST /webhook", s.handleAdHoc)
	s.mux.HandleFunc("POST /webhook/{name}", s.handleNamedSchedule)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWorkOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.opts.WorkOrders.List(r.Context())
	if err != nil {
		slog.Error("list work orders failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleWorkOrder(w http.ResponseWriter, r *http.Request) {
	wo, err := s.opts.WorkOrders.Get(r.Context(), types.WorkOrderID(r.PathValue("id")))
	if err != nil {
		writeLookupError(w, "work order", err)
		return
	}
	writeJSON(w, http.StatusOK, wo)
}

func writeLookupError(w http.ResponseWriter, what string, err error) {
	if errors.Is(err, state.ErrNotFound) {
		writeError(w, http.StatusNotFound, what+" not found")
		return
	}
	slog.Error("lookup failed", "what", what, "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

type pageHandler func(w http.ResponseWriter, r *http.Request, p *review.Page)

// withPage resolves the review page named by the {id} path value, opening
// it on first use.
func (s *Server) withPage(h pageHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.opts.Pages == nil {
			writeError(w, http.StatusServiceUnavailable, "review pages not configured")
			return
		}
		p, err := s.opts.Pages.Page(r.Context(), types.WorkOrderID(r.PathValue("id")))
		if err != nil {
			writeLookupError(w, "work order", err)
			return
		}
		h(w, r, p)
	}
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request, p *review.Page) {
	writeJSON(w, http.StatusOK, p.View())
}

func (s *Server) handleCloseView(w http.ResponseWriter, r *http.Request) {
	if s.opts.Pages == nil || !s.opts.Pages.Close(types.WorkOrderID(r.PathValue("id"))) {
		writeError(w, http.StatusNotFound, "page not open")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSafetyCheck(w http.ResponseWriter, r *http.Request, p *review.Page) {
	sid, err := p.PerformSafetyCheck(r.Context())
	switch {
	case errors.Is(err, review.ErrClosed):
		writeError(w, http.StatusConflict, "page closed")
	case errors.Is(err, review.ErrCheckInProgress), errors.Is(err, review.ErrSuperseded):
		writeError(w, http.StatusConflict, err.Error())
	case stream.IsChannelError(err):
		slog.Warn("safety check stream unavailable", "work_order_id", string(p.WorkOrderID()), "error", err)
		writeJSON(w, http.StatusServiceUnavailable, p.View())
	case err != nil:
		slog.Warn("safety check failed", "work_order_id", string(p.WorkOrderID()), "error", err)
		writeJSON(w, http.StatusBadGateway, p.View())
	default:
		slog.Debug("safety check accepted", "session_id", string(sid))
		writeJSON(w, http.StatusAccepted, p.View())
	}
}

func (s *Server) handleHazardCheck(w http.ResponseWriter, r *http.Request, p *review.Page) {
	_, err := p.PerformHazardCheck(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, p.View())
	case errors.Is(err, review.ErrSectionCollapsed):
		writeError(w, http.StatusConflict, "location section is collapsed")
	case errors.Is(err, review.ErrClosed):
		writeError(w, http.StatusConflict, "page closed")
	case errors.Is(err, review.ErrCheckInProgress), errors.Is(err, review.ErrSuperseded):
		writeError(w, http.StatusConflict, err.Error())
	case review.IsIncompleteLocation(err):
		writeJSON(w, http.StatusUnprocessableEntity, p.View())
	default:
		slog.Warn("hazard check failed", "work_order_id", string(p.WorkOrderID()), "error", err)
		writeJSON(w, http.StatusBadGateway, p.View())
	}
}

type locationRequest struct {
	Expanded bool `json:"expanded"`
}

func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request, p *review.Page) {
	var req locationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	p.SetLocationExpanded(req.Expanded)
	writeJSON(w, http.StatusOK, p.View())
}

type attachResponse struct {
	InstanceID string `json:"instance_id"`
	DOMNodeID  string `json:"dom_node_id"`
	LibraryID  int    `json:"library_id"`
}

func (s *Server) handleAttach(w http.ResponseWriter, r *http.Request, p *review.Page) {
	h, err := p.AttachWidget()
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, attachResponse{InstanceID: h.InstanceID, DOMNodeID: h.DOMNodeID, LibraryID: h.LibraryID})
	case errors.Is(err, widget.ErrNotRenderable):
		writeError(w, http.StatusConflict, err.Error())
	default:
		slog.Error("attach widget failed", "work_order_id", string(p.WorkOrderID()), "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (s *Server) handleDetach(w http.ResponseWriter, r *http.Request, p *review.Page) {
	p.DetachWidget()
	writeJSON(w, http.StatusOK, p.View())
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request, p *review.Page) {
	p.DismissError()
	writeJSON(w, http.StatusOK, p.View())
}

type sessionResponse struct {
	SessionID   string `json:"session_id"`
	WorkOrderID string `json:"work_order_id"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
	RecordCount int64  `json:"record_count"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.opts.Sessions == nil || s.opts.Records == nil {
		writeError(w, http.StatusServiceUnavailable, "session API not configured")
		return
	}
	ctx := r.Context()
	sessions, err := s.opts.Sessions.List(ctx)
	if err != nil {
		slog.Error("list sessions failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	result := make([]sessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		count, err := s.opts.Records.Count(ctx, sess.ID)
		if err != nil {
			slog.Warn("count records failed", "session_id", string(sess.ID), "error", err)
		}
		result = append(result, sessionResponse{
			SessionID:   string(sess.ID),
			WorkOrderID: string(sess.WorkOrderID),
			Status:      sess.Status,
			CreatedAt:   sess.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
			UpdatedAt:   sess.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
			RecordCount: count,
		})
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt > result[j].UpdatedAt
	})
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSessionRecords(w http.ResponseWriter, r *http.Request) {
	if s.opts.Records == nil {
		writeError(w, http.StatusServiceUnavailable, "session API not configured")
		return
	}
	raw, err := s.opts.Records.List(r.Context(), types.SessionID(r.PathValue("id")))
	if err != nil {
		slog.Error("list records failed", "session_id", r.PathValue("id"), "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	merged := records.Merge(nil, raw)
	if merged == nil {
		merged = []types.StreamingRecord{}
	}
	writeJSON(w, http.StatusOK, merged)
}

func (s *Server) handleSessionStream(w http.ResponseWriter, r *http.Request) {
	if s.opts.Stream == nil {
		writeError(w, http.StatusServiceUnavailable, "stream not configured")
		return
	}
	s.opts.Stream.ServeKey(w, r, r.PathValue("id"))
}

// adHocRequest is the JSON body for POST /webhook.
type adHocRequest struct {
	WorkOrderID string `json:"work_order_id"`
	NotifyKey   string `json:"notify_key"`
}

type checkResponse struct {
	WorkOrderID string `json:"work_order_id"`
	Result      string `json:"result"`
}

func (s *Server) handleAdHoc(w http.ResponseWriter, r *http.Request) {
	var req adHocRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.WorkOrderID == "" {
		writeError(w, http.StatusBadRequest, "work_order_id is required")
		return
	}
	s.runCheck(w, r, types.WorkOrderID(req.WorkOrderID), req.NotifyKey)
}

func (s *Server) handleNamedSchedule(w http.ResponseWriter, r *http.Request) {
	if s.opts.Schedules == nil {
		writeError(w, http.StatusServiceUnavailable, "schedules not configured")
		return
	}
	name := r.PathValue("name")
	sc, err := s.opts.Schedules.Get(name)
	if err != nil {
		writeLookupError(w, "schedule", err)
		return
	}
	if !sc.Enabled {
		writeError(w, http.StatusForbidden, "schedule is disabled")
		return
	}
	s.runCheck(w, r, sc.WorkOrderID, sc.NotifyKey)
}

func (s *Server) runCheck(w http.ResponseWriter, r *http.Request, id types.WorkOrderID, notifyKey string) {
	if s.opts.Checker == nil {
		writeError(w, http.StatusServiceUnavailable, "safety checks not configured")
		return
	}
	if _, err := s.opts.WorkOrders.Get(r.Context(), id); err != nil {
		writeLookupError(w, "work order", err)
		return
	}
	result, err := s.opts.Checker.RunSafetyCheck(r.Context(), id)
	if err != nil {
		slog.Error("webhook safety check failed", "work_order_id", string(id), "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if notifyKey != "" && s.opts.Notify != nil {
		if err := s.opts.Notify(notifyKey, result); err != nil {
			slog.Warn("notify failed", "notify_key", notifyKey, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, checkResponse{WorkOrderID: string(id), Result: result})
}
