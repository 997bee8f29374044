package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/slotsync/libs/httpx"
	"github.com/md-rashed-zaman/slotsync/services/slot-service/internal/apperr"
	"github.com/md-rashed-zaman/slotsync/services/slot-service/internal/availability"
	"github.com/md-rashed-zaman/slotsync/services/slot-service/internal/occupancy"
	"github.com/md-rashed-zaman/slotsync/services/slot-service/internal/storage"
	"github.com/md-rashed-zaman/slotsync/services/slot-service/internal/syncjob"
)

const (
	studioHeader = "X-Studio-Id"
	dateLayout   = "2006-01-02"
)

type SlotService interface {
	Generate(ctx context.Context, studioID string, from, to time.Time, minutes int) (storage.UpsertBatch, error)
	Seed(ctx context.Context, studioID string, now time.Time) (storage.UpsertBatch, error)
	Run(ctx context.Context, studioID string, now time.Time) (syncjob.Result, error)
	ReconcileLocal(ctx context.Context, studioID string, from, to, now time.Time) (occupancy.Result, error)
}

type AvailabilityService interface {
	NextAvailable(ctx context.Context, studioID string, now time.Time) (availability.Result, error)
}

type SlotHandler struct {
	slots  SlotService
	avail  AvailabilityService
	logger *slog.Logger
	now    func() time.Time
}

func NewSlotHandler(slots SlotService, avail AvailabilityService, logger *slog.Logger) *SlotHandler {
	return &SlotHandler{slots: slots, avail: avail, logger: logger, now: time.Now}
}

func (h *SlotHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/slots/generate", httpx.RequirePOST(h.Generate))
	mux.HandleFunc("/api/v1/slots/next-available", httpx.RequirePOST(h.NextAvailable))
	mux.HandleFunc("/api/v1/slots/seed-from-hours", httpx.RequirePOST(h.SeedFromHours))
	mux.HandleFunc("/api/v1/slots/sync", httpx.RequirePOST(h.Sync))
	mux.HandleFunc("/api/v1/slots/reconcile", httpx.RequirePOST(h.Reconcile))
}

type studioRequest struct {
	StudioID string `json:"studio_id"`
}

type rangeRequest struct {
	StudioID        string `json:"studio_id"`
	StartDate       string `json:"start_date"`
	EndDate         string `json:"end_date"`
	DurationMinutes int    `json:"duration_minutes"`
}

type slotItem struct {
	ID        string `json:"id"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Booked    bool   `json:"booked"`
}

type generateResponse struct {
	StudioID string     `json:"studio_id"`
	Inserted int        `json:"inserted"`
	Updated  int        `json:"updated"`
	Skipped  int        `json:"skipped"`
	Slots    []slotItem `json:"slots"`
}

type seedResponse struct {
	StudioID string `json:"studio_id"`
	Created  int    `json:"created"`
	Updated  int    `json:"updated"`
	Skipped  int    `json:"skipped"`
}

type syncResponse struct {
	syncjob.Result
	Error string `json:"error,omitempty"`
}

type reconcileResponse struct {
	StudioID string `json:"studio_id"`
	occupancy.Result
}

func (h *SlotHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req rangeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	studioID := studioFrom(r, req.StudioID)
	if req.StartDate == "" || req.EndDate == "" {
		httpx.WriteError(w, http.StatusBadRequest, "start_date and end_date are required")
		return
	}
	from, to, err := parseRange(req.StartDate, req.EndDate)
	if err != nil {
		h.fail(w, err)
		return
	}

	batch, err := h.slots.Generate(r.Context(), studioID, from, to, req.DurationMinutes)
	if err != nil {
		h.fail(w, err)
		return
	}
	resp := generateResponse{
		StudioID: studioID,
		Inserted: batch.Inserted,
		Updated:  batch.Updated,
		Skipped:  len(batch.Warnings),
		Slots:    make([]slotItem, 0, len(batch.Saved)),
	}
	for _, s := range batch.Saved {
		resp.Slots = append(resp.Slots, slotItem{
			ID:        s.ID,
			StartTime: s.Start.Format(time.RFC3339),
			EndTime:   s.End.Format(time.RFC3339),
			Booked:    s.Booked,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *SlotHandler) NextAvailable(w http.ResponseWriter, r *http.Request) {
	var req studioRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	res, err := h.avail.NextAvailable(r.Context(), studioFrom(r, req.StudioID), h.now())
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *SlotHandler) SeedFromHours(w http.ResponseWriter, r *http.Request) {
	var req studioRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	studioID := studioFrom(r, req.StudioID)
	batch, err := h.slots.Seed(r.Context(), studioID, h.now())
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, seedResponse{
		StudioID: studioID,
		Created:  batch.Inserted,
		Updated:  batch.Updated,
		Skipped:  len(batch.Warnings),
	})
}

// Sync runs one pass on demand. When only the external read failed, the
// partial result is returned with 502 so the caller sees what was written.
func (h *SlotHandler) Sync(w http.ResponseWriter, r *http.Request) {
	var req studioRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	res, err := h.slots.Run(r.Context(), studioFrom(r, req.StudioID), h.now())
	if err != nil {
		if apperr.IsExternal(err) {
			h.logger.Warn("sync finished without reconciliation", "studio_id", res.StudioID, "err", err)
			httpx.WriteJSON(w, http.StatusBadGateway, syncResponse{Result: res, Error: err.Error()})
			return
		}
		h.fail(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, syncResponse{Result: res})
}

func (h *SlotHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	var req rangeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	studioID := studioFrom(r, req.StudioID)

	// Zero dates let the job pick the rolling week on the studio's clock.
	var from, to time.Time
	if req.StartDate != "" || req.EndDate != "" {
		var err error
		if from, to, err = parseRange(req.StartDate, req.EndDate); err != nil {
			h.fail(w, err)
			return
		}
	}

	res, err := h.slots.ReconcileLocal(r.Context(), studioID, from, to, h.now())
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, reconcileResponse{StudioID: studioID, Result: res})
}

func (h *SlotHandler) fail(w http.ResponseWriter, err error) {
	var ext *apperr.ExternalServiceError
	switch {
	case errors.Is(err, apperr.ErrValidation):
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, apperr.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &ext):
		httpx.WriteError(w, http.StatusBadGateway, "booking platform unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(w, http.StatusGatewayTimeout, "request timed out")
	default:
		h.logger.Error("slot request failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}

func studioFrom(r *http.Request, body string) string {
	if id := strings.TrimSpace(body); id != "" {
		return id
	}
	return strings.TrimSpace(r.Header.Get(studioHeader))
}

func parseRange(start, end string) (time.Time, time.Time, error) {
	from, err := time.Parse(dateLayout, strings.TrimSpace(start))
	if err != nil {
		return time.Time{}, time.Time{}, apperr.Validation("start_date must be YYYY-MM-DD")
	}
	to, err := time.Parse(dateLayout, strings.TrimSpace(end))
	if err != nil {
		return time.Time{}, time.Time{}, apperr.Validation("end_date must be YYYY-MM-DD")
	}
	return from, to, nil
}
