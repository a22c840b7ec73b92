package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"stayflow/internal/app"
	"stayflow/internal/domain"
)

type Handlers struct {
	Lifecycle *app.LifecycleService
	Sync      *app.SyncService
	Runner    *app.Runner

	// Webhook trust boundary configuration.
	WebhookAllowlist []string
	WebhookSecret    string
	TriggerToken     string
}

type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func (s *Server) MountHandlers(h *Handlers) {
	s.mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) })

	s.mux.Route("/v1/webhooks/octorate", func(r chi.Router) {
		r.Use(IPAllowlist(h.WebhookAllowlist))
		r.Use(Signature(h.WebhookSecret))
		r.Post("/", h.inboundWebhook)
	})

	s.mux.Route("/v1/internal", func(r chi.Router) {
		r.Use(Bearer(h.TriggerToken))
		r.Post("/emails/run", h.runDueEmails)
	})

	s.mux.Route("/v1/reservations", func(r chi.Router) {
		r.Post("/", h.createReservation)
		r.Get("/{id}", h.getReservation)
		r.Get("/{id}/emails", h.listReservationEmails)
		r.Post("/{id}/transition", h.transitionReservation)
		r.Post("/{id}/push", h.pushReservation)
	})
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(problem{Type: "about:blank", Title: title, Status: status, Detail: detail}); err != nil {
		log.Error().Err(err).Msg("write JSON problem response failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("write JSON response failed")
	}
}

// writeError maps the domain taxonomy to HTTP statuses; internals stay in
// the logs, the caller gets a generic detail.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeProblem(w, http.StatusNotFound, "Not Found", "resource not found")
	case errors.Is(err, domain.ErrValidation):
		writeProblem(w, http.StatusBadRequest, "Bad Request", err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		writeProblem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, domain.ErrConcurrentModification):
		writeProblem(w, http.StatusConflict, "Conflict", "reservation was modified concurrently; retry")
	case errors.Is(err, domain.ErrPushInFlight):
		writeProblem(w, http.StatusConflict, "Conflict", "a push for this reservation is already in flight")
	case errors.Is(err, domain.ErrUnauthorized):
		writeProblem(w, http.StatusUnauthorized, "Unauthorized", "")
	default:
		log.Error().Err(err).Msg("internal error")
		writeProblem(w, http.StatusInternalServerError, "Internal Server Error", "")
	}
}

func idParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

// ---- reservation payloads ----

type createReservationRequest struct {
	PropertyID int64  `json:"propertyId"`
	RoomID     int64  `json:"roomId"`
	GuestID    int64  `json:"guestId"`
	ChannelID  *int64 `json:"channelId,omitempty"`
	GuestName  string `json:"guestName"`
	GuestEmail string `json:"guestEmail"`
	CheckIn    string `json:"checkIn"`  // YYYY-MM-DD
	CheckOut   string `json:"checkOut"` // YYYY-MM-DD
	Adults     int    `json:"adults"`
	Children   int    `json:"children"`
	BaseRate   int64  `json:"baseRate"` // minor units
	Taxes      int64  `json:"taxes"`
	Fees       int64  `json:"fees"`
	Currency   string `json:"currency"`
}

type reservationResponse struct {
	ID                 int64   `json:"id"`
	ConfirmationNumber string  `json:"confirmationNumber"`
	PropertyID         int64   `json:"propertyId"`
	Status             string  `json:"status"`
	PaymentStatus      string  `json:"paymentStatus"`
	ExternalSyncStatus string  `json:"externalSyncStatus"`
	ExternalBookingID  *string `json:"externalBookingId,omitempty"`
	CheckIn            string  `json:"checkIn"`
	CheckOut           string  `json:"checkOut"`
}

func toReservationResponse(r domain.Reservation) reservationResponse {
	return reservationResponse{
		ID:                 r.ID,
		ConfirmationNumber: r.ConfirmationNumber,
		PropertyID:         r.PropertyID,
		Status:             string(r.Status),
		PaymentStatus:      string(r.PaymentStatus),
		ExternalSyncStatus: string(r.SyncStatus),
		ExternalBookingID:  r.ExternalBookingID,
		CheckIn:            r.CheckIn.Format("2006-01-02"),
		CheckOut:           r.CheckOut.Format("2006-01-02"),
	}
}

func parseDate(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}

func (h *Handlers) createReservation(w http.ResponseWriter, r *http.Request) {
	var req createReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	checkIn, err := parseDate(req.CheckIn)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Bad Request", "checkIn must be YYYY-MM-DD")
		return
	}
	checkOut, err := parseDate(req.CheckOut)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Bad Request", "checkOut must be YYYY-MM-DD")
		return
	}

	res, err := h.Lifecycle.Create(r.Context(), domain.NewReservation{
		PropertyID: req.PropertyID,
		RoomID:     req.RoomID,
		GuestID:    req.GuestID,
		ChannelID:  req.ChannelID,
		GuestName:  req.GuestName,
		GuestEmail: req.GuestEmail,
		CheckIn:    checkIn,
		CheckOut:   checkOut,
		Adults:     req.Adults,
		Children:   req.Children,
		BaseRate:   req.BaseRate,
		Taxes:      req.Taxes,
		Fees:       req.Fees,
		Currency:   req.Currency,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	// Mirror outward right away when the property has a channel manager.
	// Push failure never fails the creation: the sync status records it and
	// an operator can re-push.
	if _, perr := h.Sync.PushBooking(r.Context(), res.ID); perr != nil {
		log.Error().Int64("reservation_id", res.ID).Err(perr).Msg("initial booking push failed")
	}
	if cur, gerr := h.Lifecycle.Get(r.Context(), res.ID); gerr == nil {
		res = cur
	}

	writeJSON(w, http.StatusCreated, toReservationResponse(res))
}

func (h *Handlers) getReservation(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeProblem(w, http.StatusBadRequest, "Bad Request", "id must be a positive number")
		return
	}
	res, err := h.Lifecycle.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationResponse(res))
}

type scheduledEmailResponse struct {
	ID                int64   `json:"id"`
	EmailType         string  `json:"emailType"`
	ScheduledAt       string  `json:"scheduledAt"`
	Status            string  `json:"status"`
	SkipReason        *string `json:"skipReason,omitempty"`
	ErrorMessage      *string `json:"errorMessage,omitempty"`
	ProviderMessageID *string `json:"providerMessageId,omitempty"`
	SentAt            *string `json:"sentAt,omitempty"`
}

// listReservationEmails exposes the follow-up audit trail, terminal rows
// included.
func (h *Handlers) listReservationEmails(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeProblem(w, http.StatusBadRequest, "Bad Request", "id must be a positive number")
		return
	}
	if _, err := h.Lifecycle.Get(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	rows, err := h.Lifecycle.ListEmails(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]scheduledEmailResponse, 0, len(rows))
	for _, e := range rows {
		item := scheduledEmailResponse{
			ID:                e.ID,
			EmailType:         string(e.EmailType),
			ScheduledAt:       e.ScheduledAt.UTC().Format(time.RFC3339),
			Status:            string(e.Status),
			SkipReason:        e.SkipReason,
			ErrorMessage:      e.ErrorMessage,
			ProviderMessageID: e.ProviderMessageID,
		}
		if e.SentAt != nil {
			s := e.SentAt.UTC().Format(time.RFC3339)
			item.SentAt = &s
		}
		out = append(out, item)
	}
	writeJSON(w, http.StatusOK, out)
}

type transitionRequest struct {
	Status string `json:"status"`
}

func (h *Handlers) transitionReservation(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeProblem(w, http.StatusBadRequest, "Bad Request", "id must be a positive number")
		return
	}
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	target := domain.ReservationStatus(req.Status)
	if !target.Valid() {
		writeProblem(w, http.StatusBadRequest, "Bad Request", "unknown status")
		return
	}

	res, err := h.Lifecycle.Transition(r.Context(), id, target, domain.OriginInternal)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationResponse(res))
}

func (h *Handlers) pushReservation(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeProblem(w, http.StatusBadRequest, "Bad Request", "id must be a positive number")
		return
	}
	out, err := h.Sync.PushBooking(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrExternalSync) {
			writeProblem(w, http.StatusBadGateway, "Bad Gateway", "channel manager push failed")
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// ---- webhook & trigger ----

func (h *Handlers) inboundWebhook(w http.ResponseWriter, r *http.Request) {
	var ev app.InboundEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeProblem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}

	if _, err := h.Sync.HandleInboundEvent(r.Context(), ev); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handlers) runDueEmails(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Runner.RunDueEmails(r.Context(), time.Now().UTC())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
