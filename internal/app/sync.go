package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"stayflow/internal/adapters/observability"
	"stayflow/internal/domain"
)

const (
	pushLeaseTTL   = 30 * time.Second
	eventDedupeTTL = 24 * time.Hour
	webhookRetries = 3
)

// SyncService mirrors reservations into the property's channel manager and
// absorbs its inbound events.
type SyncService struct {
	reservations domain.ReservationStore
	connections  domain.ConnectionStore
	lifecycle    *LifecycleService
	client       domain.ChannelClient
	locker       domain.Locker
	dedupe       domain.Deduper // optional
}

func NewSyncService(
	reservations domain.ReservationStore,
	connections domain.ConnectionStore,
	lifecycle *LifecycleService,
	client domain.ChannelClient,
	locker domain.Locker,
	dedupe domain.Deduper,
) *SyncService {
	return &SyncService{
		reservations: reservations,
		connections:  connections,
		lifecycle:    lifecycle,
		client:       client,
		locker:       locker,
		dedupe:       dedupe,
	}
}

type PushResult struct {
	ChannelManager    string `json:"channelManager"` // "internal" when no connection exists
	Pushed            bool   `json:"pushed"`
	ExternalBookingID string `json:"externalBookingId,omitempty"`
}

// PushBooking mirrors the reservation outward at most once. Properties
// without a channel manager are a success-as-no-op, never an error. The
// gateway does not retry a failed push: overlapping retries against a booking
// API risk duplicate external bookings, so redelivery is the caller's call.
func (s *SyncService) PushBooking(ctx context.Context, reservationID int64) (PushResult, error) {
	r, err := s.reservations.Get(ctx, reservationID)
	if err != nil {
		return PushResult{}, err
	}

	conn, err := s.connections.ActiveByProperty(ctx, r.PropertyID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return PushResult{ChannelManager: "internal"}, nil
		}
		return PushResult{}, err
	}

	if s.client == nil {
		return PushResult{}, fmt.Errorf("%w: channel client not configured", domain.ErrExternalSync)
	}

	// Idempotency against queue redeliveries and double-clicked re-pushes.
	if r.SyncStatus == domain.SyncPushed || r.SyncStatus == domain.SyncConfirmed {
		out := PushResult{ChannelManager: "octorate"}
		if r.ExternalBookingID != nil {
			out.ExternalBookingID = *r.ExternalBookingID
		}
		return out, nil
	}

	// Advisory lease, not a distributed lock: the status guard above and the
	// provider's own duplicate handling back it up.
	key := fmt.Sprintf("push:reservation:%d", r.ID)
	ok, err := s.locker.Acquire(ctx, key, pushLeaseTTL)
	if err != nil {
		return PushResult{}, err
	}
	if !ok {
		return PushResult{}, domain.ErrPushInFlight
	}
	defer func() {
		if rerr := s.locker.Release(context.WithoutCancel(ctx), key); rerr != nil {
			log.Warn().Str("key", key).Err(rerr).Msg("push lease release failed")
		}
	}()

	externalID, err := s.client.CreateBooking(ctx, conn.ExternalAccommodationID, r)
	if err != nil {
		observability.ObservePush("failed")
		if serr := s.reservations.SetSyncStatus(ctx, r.ID, domain.SyncFailed, nil); serr != nil {
			log.Error().Int64("reservation_id", r.ID).Err(serr).Msg("record failed sync status")
		}
		return PushResult{}, fmt.Errorf("%w: %v", domain.ErrExternalSync, err)
	}

	if err := s.reservations.SetSyncStatus(ctx, r.ID, domain.SyncPushed, &externalID); err != nil {
		// The external booking exists; losing the status write must be loud.
		log.Error().Int64("reservation_id", r.ID).Str("external_id", externalID).
			Err(err).Msg("record pushed sync status")
		return PushResult{}, err
	}
	observability.ObservePush("ok")
	log.Info().Int64("reservation_id", r.ID).Str("external_id", externalID).Msg("booking pushed")
	return PushResult{ChannelManager: "octorate", Pushed: true, ExternalBookingID: externalID}, nil
}

// InboundEvent is the normalized webhook payload after transport-level
// authentication (IP allow-list, signature) has passed.
type InboundEvent struct {
	EventType       string `json:"eventType"`
	AccommodationID string `json:"accommodationId"`
	EventID         string `json:"eventId,omitempty"`
	Payload         struct {
		ReservationID     int64  `json:"reservationId,omitempty"`
		ExternalBookingID string `json:"bookingId,omitempty"`
	} `json:"payload"`
}

func mapEventStatus(eventType string) (domain.ReservationStatus, bool) {
	switch eventType {
	case "booking.confirmed":
		return domain.StatusConfirmed, true
	case "booking.cancelled":
		return domain.StatusCancelled, true
	case "booking.no_show":
		return domain.StatusNoShow, true
	}
	return "", false
}

// HandleInboundEvent reconciles one channel manager event into the state
// machine. Duplicate deliveries collapse through the event-id dedupe window
// and the machine's webhook no-op rule; out-of-order delivery has no ordering
// token to resolve with and surfaces as InvalidTransition.
func (s *SyncService) HandleInboundEvent(ctx context.Context, ev InboundEvent) (domain.Reservation, error) {
	if ev.EventType == "" || ev.AccommodationID == "" {
		return domain.Reservation{}, fmt.Errorf("%w: eventType and accommodationId required", domain.ErrValidation)
	}

	conn, err := s.connections.ByAccommodationID(ctx, ev.AccommodationID)
	if err != nil {
		observability.ObserveWebhook(ev.EventType, "unknown_accommodation")
		return domain.Reservation{}, err
	}

	target, ok := mapEventStatus(ev.EventType)
	if !ok {
		observability.ObserveWebhook(ev.EventType, "unknown_type")
		return domain.Reservation{}, fmt.Errorf("%w: unknown event type %q", domain.ErrValidation, ev.EventType)
	}

	r, err := s.resolveReservation(ctx, ev)
	if err != nil {
		observability.ObserveWebhook(ev.EventType, "unknown_reservation")
		return domain.Reservation{}, err
	}
	if r.PropertyID != conn.PropertyID {
		// The event names an accommodation this reservation does not belong
		// to; treat as unknown rather than guessing.
		observability.ObserveWebhook(ev.EventType, "property_mismatch")
		return domain.Reservation{}, domain.ErrNotFound
	}

	out, err := s.lifecycle.transitionWithRetry(ctx, r.ID, target, domain.OriginWebhook, webhookRetries)
	if err != nil {
		observability.ObserveWebhook(ev.EventType, "rejected")
		return domain.Reservation{}, err
	}

	// The event id is recorded only once the event has been applied. A failed
	// apply above leaves redelivery of the same id live; a true duplicate was
	// already absorbed as a self-transition no-op and short-circuits here.
	if s.dedupe != nil && ev.EventID != "" {
		first, derr := s.dedupe.FirstSeen(ctx, "octorate:event:"+ev.EventID, eventDedupeTTL)
		if derr != nil {
			log.Warn().Str("event_id", ev.EventID).Err(derr).Msg("webhook dedupe unavailable")
		} else if !first {
			observability.ObserveWebhook(ev.EventType, "duplicate")
			return out, nil
		}
	}

	if target == domain.StatusConfirmed && out.SyncStatus != domain.SyncConfirmed {
		if serr := s.reservations.SetSyncStatus(ctx, out.ID, domain.SyncConfirmed, nil); serr != nil {
			log.Error().Int64("reservation_id", out.ID).Err(serr).Msg("record confirmed sync status")
		} else {
			out.SyncStatus = domain.SyncConfirmed
		}
	}
	observability.ObserveWebhook(ev.EventType, "applied")
	return out, nil
}

func (s *SyncService) resolveReservation(ctx context.Context, ev InboundEvent) (domain.Reservation, error) {
	if ev.Payload.ReservationID > 0 {
		return s.reservations.Get(ctx, ev.Payload.ReservationID)
	}
	if ev.Payload.ExternalBookingID != "" {
		return s.reservations.GetByExternalBookingID(ctx, ev.Payload.ExternalBookingID)
	}
	return domain.Reservation{}, fmt.Errorf("%w: payload carries no booking reference", domain.ErrValidation)
}
