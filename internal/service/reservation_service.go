package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/divemarket/trip-reservation-service/internal/capacity"
	"github.com/divemarket/trip-reservation-service/internal/eligibility"
	"github.com/divemarket/trip-reservation-service/internal/models"
	"github.com/divemarket/trip-reservation-service/internal/pricing"
	"github.com/divemarket/trip-reservation-service/internal/refund"
	"github.com/divemarket/trip-reservation-service/internal/repository"
	"github.com/divemarket/trip-reservation-service/internal/waitlist"
	"github.com/divemarket/trip-reservation-service/pkg/rabbitmq"
)

var (
	ErrValidation            = errors.New("invalid input")
	ErrTripNotFound          = errors.New("trip not found")
	ErrDiverNotFound         = errors.New("diver profile not found")
	ErrBookingNotFound       = errors.New("booking not found")
	ErrTripNotBookable       = errors.New("trip is not open for booking")
	ErrAlreadyBooked         = errors.New("user already has an active booking for this trip")
	ErrTripNotFull           = errors.New("trip has available capacity, reserve directly instead")
	ErrBookingNotCancellable = errors.New("booking cannot be cancelled in its current state")
	ErrInvalidTransition     = errors.New("invalid booking state transition")
)

// NotEligibleError carries every violated requirement, never a partial list.
type NotEligibleError struct {
	Reasons []string
}

func (e *NotEligibleError) Error() string {
	return "diver is not eligible: " + strings.Join(e.Reasons, "; ")
}

type ReserveRequest struct {
	TripID           uint
	UserID           string
	ParticipantCount int
	EquipmentRental  bool
	IdempotencyKey   string
}

type ClaimOfferRequest struct {
	TripID          uint
	OfferToken      string
	EquipmentRental bool
	IdempotencyKey  string
}

type TripAvailability struct {
	Trip           *models.Trip
	SeatsRemaining int
	QuotaRemaining int
	// Available is the effective headroom: the lesser of seats and quota.
	Available      int
	WaitlistLength int64
}

type ReservationService interface {
	Quote(ctx context.Context, tripID uint, userID string, participantCount int, equipmentRental bool) (*models.PriceBreakdown, error)
	Reserve(ctx context.Context, req ReserveRequest) (*models.Booking, bool, error)
	ConfirmPayment(ctx context.Context, bookingID uint) (*models.Booking, error)
	Expire(ctx context.Context, bookingID uint) (*models.Booking, error)
	Cancel(ctx context.Context, bookingID uint, reason string) (*models.Booking, error)
	CheckIn(ctx context.Context, bookingID uint) (*models.Booking, error)
	Complete(ctx context.Context, bookingID uint) (*models.Booking, error)
	MarkNoShow(ctx context.Context, bookingID uint) (*models.Booking, error)
	GetBooking(ctx context.Context, id uint) (*models.Booking, error)
	ListBookings(ctx context.Context, tripID uint, status *models.BookingStatus) ([]models.Booking, error)
	Availability(ctx context.Context, tripID uint) (*TripAvailability, error)
	JoinWaitlist(ctx context.Context, tripID uint, userID string) (*models.WaitlistEntry, int, error)
	LeaveWaitlist(ctx context.Context, tripID uint, userID string) error
	ClaimOffer(ctx context.Context, req ClaimOfferRequest) (*models.Booking, error)
	SweepExpirations(ctx context.Context) error
}

type reservationService struct {
	bookings repository.BookingRepository
	trips    repository.TripRepository
	divers   repository.DiverRepository
	quotas   repository.SiteQuotaRepository

	tracker  *capacity.Tracker
	waitlist *waitlist.Manager
	calc     *pricing.Calculator
	refunds  *refund.Policy

	publisher  *rabbitmq.Publisher
	pendingTTL time.Duration
}

func NewReservationService(
	bookings repository.BookingRepository,
	trips repository.TripRepository,
	divers repository.DiverRepository,
	quotas repository.SiteQuotaRepository,
	tracker *capacity.Tracker,
	wl *waitlist.Manager,
	calc *pricing.Calculator,
	refunds *refund.Policy,
	publisher *rabbitmq.Publisher,
	pendingTTL time.Duration,
) ReservationService {
	return &reservationService{
		bookings:   bookings,
		trips:      trips,
		divers:     divers,
		quotas:     quotas,
		tracker:    tracker,
		waitlist:   wl,
		calc:       calc,
		refunds:    refunds,
		publisher:  publisher,
		pendingTTL: pendingTTL,
	}
}

// Quote prices a prospective reservation without touching any state.
func (s *reservationService) Quote(ctx context.Context, tripID uint, userID string, participantCount int, equipmentRental bool) (*models.PriceBreakdown, error) {
	if participantCount <= 0 {
		return nil, fmt.Errorf("%w: participant count must be positive", ErrValidation)
	}

	trip, err := s.trips.FindByID(ctx, tripID)
	if err != nil {
		return nil, ErrTripNotFound
	}
	diver, err := s.divers.FindByUserID(ctx, userID)
	if err != nil {
		return nil, ErrDiverNotFound
	}

	breakdown := s.calc.Price(trip, trip.Site, participantCount, equipmentRental, diver)
	return &breakdown, nil
}

// Reserve runs the full gate: eligibility, then pricing, then the atomic
// joint capacity commit. Eligibility and pricing failures happen before the
// transaction and consume nothing. Returns created=false when the
// idempotency key matched an existing booking.
func (s *reservationService) Reserve(ctx context.Context, req ReserveRequest) (*models.Booking, bool, error) {
	if req.ParticipantCount <= 0 {
		return nil, false, fmt.Errorf("%w: participant count must be positive", ErrValidation)
	}
	if req.UserID == "" {
		return nil, false, fmt.Errorf("%w: user id is required", ErrValidation)
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	} else if existing, err := s.bookings.FindByIdempotencyKey(ctx, req.IdempotencyKey); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	now := time.Now()

	trip, err := s.trips.FindByID(ctx, req.TripID)
	if err != nil {
		return nil, false, ErrTripNotFound
	}
	if !trip.Status.Bookable() || now.After(trip.DepartureAt) {
		return nil, false, ErrTripNotBookable
	}

	diver, err := s.divers.FindByUserID(ctx, req.UserID)
	if err != nil {
		return nil, false, ErrDiverNotFound
	}

	if res := eligibility.Check(diver, trip, now); !res.Eligible {
		return nil, false, &NotEligibleError{Reasons: res.Reasons}
	}

	// Price before capacity is committed; the breakdown is frozen onto the
	// booking so later trip price changes never affect it.
	breakdown := s.calc.Price(trip, trip.Site, req.ParticipantCount, req.EquipmentRental, diver)

	var booking *models.Booking
	var becameFull bool

	err = s.bookings.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.bookings.FindActiveByUserAndTrip(ctx, tx, req.UserID, req.TripID); err == nil {
			return ErrAlreadyBooked
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		locked, err := s.tracker.TryReserve(ctx, tx, req.TripID, trip.Site.DailyDiverQuota, req.ParticipantCount)
		if err != nil {
			return err
		}
		becameFull = locked.Status == models.TripFull

		booking = &models.Booking{
			TripID:           req.TripID,
			UserID:           req.UserID,
			ParticipantCount: req.ParticipantCount,
			EquipmentRental:  req.EquipmentRental,
			CommittedCount:   req.ParticipantCount,
			PriceBreakdown:   breakdown,
			Status:           models.StatusPending,
			IdempotencyKey:   req.IdempotencyKey,
		}
		return s.bookings.Create(ctx, tx, booking)
	})
	if err != nil {
		return nil, false, err
	}

	s.publish("booking.pending_payment", map[string]any{
		"booking_id": booking.ID,
		"trip_id":    booking.TripID,
		"user_id":    booking.UserID,
		"amount":     booking.Total,
	})
	if becameFull {
		s.publish("trip.full", map[string]any{"trip_id": trip.ID})
	}

	return booking, true, nil
}

// ConfirmPayment handles the gateway's payment-confirmed event. Capacity was
// already taken at reserve time, so nothing moves here but the status.
// Gateway retries of an already-confirmed booking are a no-op.
func (s *reservationService) ConfirmPayment(ctx context.Context, bookingID uint) (*models.Booking, error) {
	var result *models.Booking
	confirmed := false

	err := s.bookings.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		booking, err := s.bookings.FindByIDForUpdate(ctx, tx, bookingID)
		if err != nil {
			return ErrBookingNotFound
		}
		if booking.Status == models.StatusConfirmed {
			result = booking
			return nil
		}
		if booking.Status != models.StatusPending {
			return fmt.Errorf("%w: %s -> confirmed", ErrInvalidTransition, booking.Status)
		}
		booking.Status = models.StatusConfirmed
		if err := s.bookings.Save(ctx, tx, booking); err != nil {
			return err
		}
		result = booking
		confirmed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if confirmed {
		s.publish("booking.confirmed", map[string]any{
			"booking_id": result.ID,
			"trip_id":    result.TripID,
			"user_id":    result.UserID,
		})
	}
	return result, nil
}

// Cancel computes the refund, releases capacity in both counters and
// promotes the waitlist, all in one transaction so a freed seat cannot be
// double-claimed by a direct reserve racing the promotion.
func (s *reservationService) Cancel(ctx context.Context, bookingID uint, reason string) (*models.Booking, error) {
	now := time.Now()
	var result *models.Booking
	var offers []models.WaitlistEntry

	err := s.bookings.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		booking, err := s.bookings.FindByIDForUpdate(ctx, tx, bookingID)
		if err != nil {
			return ErrBookingNotFound
		}
		if booking.Status != models.StatusPending && booking.Status != models.StatusConfirmed {
			return ErrBookingNotCancellable
		}
		wasConfirmed := booking.Status == models.StatusConfirmed

		trip, released, err := s.releaseCapacity(ctx, tx, booking)
		if err != nil {
			return err
		}

		// A pending booking was never charged; only confirmed money is
		// refundable.
		if wasConfirmed {
			booking.RefundPercentage, booking.RefundAmount = s.refunds.RefundFor(
				booking.Total, trip.CancellationDeadlineHours, trip.DepartureAt, now)
		}

		booking.Status = models.StatusCancelled
		booking.CancelledAt = &now
		booking.CancellationReason = reason
		if err := s.bookings.Save(ctx, tx, booking); err != nil {
			return err
		}

		offers, err = s.waitlist.PromoteNext(ctx, tx, booking.TripID, released, now)
		if err != nil {
			return err
		}
		result = booking
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish("booking.cancelled", map[string]any{
		"booking_id":        result.ID,
		"trip_id":           result.TripID,
		"user_id":           result.UserID,
		"refund_percentage": result.RefundPercentage,
		"refund_amount":     result.RefundAmount,
	})
	s.publishOffers(offers)

	return result, nil
}

// Expire moves a pending booking whose payment window lapsed to expired,
// releasing its capacity and promoting the waitlist.
func (s *reservationService) Expire(ctx context.Context, bookingID uint) (*models.Booking, error) {
	now := time.Now()
	var result *models.Booking
	var offers []models.WaitlistEntry

	err := s.bookings.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		booking, err := s.bookings.FindByIDForUpdate(ctx, tx, bookingID)
		if err != nil {
			return ErrBookingNotFound
		}
		if booking.Status != models.StatusPending {
			return fmt.Errorf("%w: %s -> expired", ErrInvalidTransition, booking.Status)
		}

		_, released, err := s.releaseCapacity(ctx, tx, booking)
		if err != nil {
			return err
		}

		booking.Status = models.StatusExpired
		if err := s.bookings.Save(ctx, tx, booking); err != nil {
			return err
		}

		offers, err = s.waitlist.PromoteNext(ctx, tx, booking.TripID, released, now)
		if err != nil {
			return err
		}
		result = booking
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish("booking.expired", map[string]any{
		"booking_id": result.ID,
		"trip_id":    result.TripID,
		"user_id":    result.UserID,
	})
	s.publishOffers(offers)

	return result, nil
}

func (s *reservationService) CheckIn(ctx context.Context, bookingID uint) (*models.Booking, error) {
	return s.transition(ctx, bookingID, models.StatusConfirmed, models.StatusCheckedIn, nil)
}

func (s *reservationService) Complete(ctx context.Context, bookingID uint) (*models.Booking, error) {
	return s.transition(ctx, bookingID, models.StatusCheckedIn, models.StatusCompleted, nil)
}

// MarkNoShow applies after departure only; the seat was consumed by the trip
// so no capacity is released and no refund is due.
func (s *reservationService) MarkNoShow(ctx context.Context, bookingID uint) (*models.Booking, error) {
	return s.transition(ctx, bookingID, models.StatusConfirmed, models.StatusNoShow, func(trip *models.Trip) error {
		if time.Now().Before(trip.DepartureAt) {
			return fmt.Errorf("%w: trip has not departed yet", ErrInvalidTransition)
		}
		return nil
	})
}

func (s *reservationService) transition(ctx context.Context, bookingID uint, from, to models.BookingStatus, guard func(*models.Trip) error) (*models.Booking, error) {
	var result *models.Booking
	err := s.bookings.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		booking, err := s.bookings.FindByIDForUpdate(ctx, tx, bookingID)
		if err != nil {
			return ErrBookingNotFound
		}
		if booking.Status != from {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, booking.Status, to)
		}
		if guard != nil {
			trip, err := s.trips.FindByIDForUpdate(ctx, tx, booking.TripID)
			if err != nil {
				return err
			}
			if err := guard(trip); err != nil {
				return err
			}
		}
		booking.Status = to
		if err := s.bookings.Save(ctx, tx, booking); err != nil {
			return err
		}
		result = booking
		return nil
	})
	return result, err
}

func (s *reservationService) GetBooking(ctx context.Context, id uint) (*models.Booking, error) {
	booking, err := s.bookings.FindByID(ctx, id)
	if err != nil {
		return nil, ErrBookingNotFound
	}
	return booking, nil
}

func (s *reservationService) ListBookings(ctx context.Context, tripID uint, status *models.BookingStatus) ([]models.Booking, error) {
	return s.bookings.FindByTripID(ctx, tripID, status)
}

func (s *reservationService) Availability(ctx context.Context, tripID uint) (*TripAvailability, error) {
	trip, err := s.trips.FindByID(ctx, tripID)
	if err != nil {
		return nil, ErrTripNotFound
	}

	seats := trip.MaxParticipants - trip.CurrentParticipants

	quotaRemaining := trip.Site.DailyDiverQuota
	if q, err := s.quotas.FindForDay(ctx, trip.SiteID, trip.Date); err == nil {
		quotaRemaining = q.QuotaLimit - q.ReservedCount
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	wl, err := s.waitlist.Length(ctx, tripID)
	if err != nil {
		return nil, err
	}

	available := seats
	if quotaRemaining < available {
		available = quotaRemaining
	}

	return &TripAvailability{
		Trip:           trip,
		SeatsRemaining: seats,
		QuotaRemaining: quotaRemaining,
		Available:      available,
		WaitlistLength: wl,
	}, nil
}

// JoinWaitlist queues the user behind everyone who joined earlier. Joining
// is refused while the trip still has effective capacity: the caller should
// reserve directly instead.
func (s *reservationService) JoinWaitlist(ctx context.Context, tripID uint, userID string) (*models.WaitlistEntry, int, error) {
	if userID == "" {
		return nil, 0, fmt.Errorf("%w: user id is required", ErrValidation)
	}

	now := time.Now()

	trip, err := s.trips.FindByID(ctx, tripID)
	if err != nil {
		return nil, 0, ErrTripNotFound
	}
	if !trip.Status.Bookable() || now.After(trip.DepartureAt) {
		return nil, 0, ErrTripNotBookable
	}

	var entry *models.WaitlistEntry
	var position int

	err = s.bookings.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := s.trips.FindByIDForUpdate(ctx, tx, tripID)
		if err != nil {
			return err
		}

		if _, err := s.bookings.FindActiveByUserAndTrip(ctx, tx, userID, tripID); err == nil {
			return ErrAlreadyBooked
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		seats := locked.MaxParticipants - locked.CurrentParticipants
		if seats > 0 {
			quota, err := s.quotas.FindOrCreateForUpdate(ctx, tx, locked.SiteID, locked.Date, trip.Site.DailyDiverQuota)
			if err != nil {
				return err
			}
			if quota.QuotaLimit-quota.ReservedCount > 0 {
				return ErrTripNotFull
			}
		}

		entry, position, err = s.waitlist.Join(ctx, tx, tripID, userID, now)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return entry, position, nil
}

func (s *reservationService) LeaveWaitlist(ctx context.Context, tripID uint, userID string) error {
	return s.bookings.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Trip lock serializes against concurrent promotion.
		if _, err := s.trips.FindByIDForUpdate(ctx, tx, tripID); err != nil {
			return ErrTripNotFound
		}
		return s.waitlist.Leave(ctx, tx, tripID, userID)
	})
}

// ClaimOffer converts an unexpired waitlist offer into a real reservation
// through the same capacity-checked path as a direct reserve. The offer
// never bypasses the two-counter invariant: if capacity was claimed by
// someone else in the meantime, the claim fails and the transaction rolls
// back, leaving the offer intact.
func (s *reservationService) ClaimOffer(ctx context.Context, req ClaimOfferRequest) (*models.Booking, error) {
	now := time.Now()

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	} else if existing, err := s.bookings.FindByIdempotencyKey(ctx, req.IdempotencyKey); err == nil {
		return existing, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	trip, err := s.trips.FindByID(ctx, req.TripID)
	if err != nil {
		return nil, ErrTripNotFound
	}

	var booking *models.Booking

	err = s.bookings.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entry, err := s.waitlist.TakeOffer(ctx, tx, req.OfferToken, now)
		if err != nil {
			return err
		}
		if entry.TripID != req.TripID {
			return waitlist.ErrOfferInvalid
		}

		diver, err := s.divers.FindByUserID(ctx, entry.UserID)
		if err != nil {
			return ErrDiverNotFound
		}
		if res := eligibility.Check(diver, trip, now); !res.Eligible {
			return &NotEligibleError{Reasons: res.Reasons}
		}

		breakdown := s.calc.Price(trip, trip.Site, 1, req.EquipmentRental, diver)

		if _, err := s.bookings.FindActiveByUserAndTrip(ctx, tx, entry.UserID, req.TripID); err == nil {
			return ErrAlreadyBooked
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if _, err := s.tracker.TryReserve(ctx, tx, req.TripID, trip.Site.DailyDiverQuota, 1); err != nil {
			return err
		}

		booking = &models.Booking{
			TripID:           req.TripID,
			UserID:           entry.UserID,
			ParticipantCount: 1,
			EquipmentRental:  req.EquipmentRental,
			CommittedCount:   1,
			PriceBreakdown:   breakdown,
			Status:           models.StatusPending,
			IdempotencyKey:   req.IdempotencyKey,
		}
		return s.bookings.Create(ctx, tx, booking)
	})
	if err != nil {
		return nil, err
	}

	s.publish("booking.pending_payment", map[string]any{
		"booking_id": booking.ID,
		"trip_id":    booking.TripID,
		"user_id":    booking.UserID,
		"amount":     booking.Total,
	})
	return booking, nil
}

// SweepExpirations is the background pass: pending bookings whose payment
// window lapsed become expired, and lapsed waitlist offers are dropped with
// the next entry promoted. Failures are logged and retried on the next
// sweep, never dropped silently.
func (s *reservationService) SweepExpirations(ctx context.Context) error {
	now := time.Now()

	stale, err := s.bookings.FindPendingOlderThan(ctx, now.Add(-s.pendingTTL))
	if err != nil {
		return fmt.Errorf("list stale pending bookings: %w", err)
	}
	for _, b := range stale {
		if _, err := s.Expire(ctx, b.ID); err != nil && !errors.Is(err, ErrInvalidTransition) {
			log.Printf("[Sweeper] expire booking %d: %v", b.ID, err)
		}
	}

	lapsed, err := s.waitlist.ExpiredOffers(ctx, now)
	if err != nil {
		return fmt.Errorf("list lapsed offers: %w", err)
	}
	for _, entry := range lapsed {
		var offers []models.WaitlistEntry
		err := s.bookings.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if _, err := s.trips.FindByIDForUpdate(ctx, tx, entry.TripID); err != nil {
				return err
			}
			dropped, err := s.waitlist.ReapOffer(ctx, tx, entry.OfferToken, now)
			if err != nil || !dropped {
				return err
			}
			offers, err = s.waitlist.PromoteNext(ctx, tx, entry.TripID, 1, now)
			return err
		})
		if err != nil {
			log.Printf("[Sweeper] reap offer for trip %d user %s: %v", entry.TripID, entry.UserID, err)
			continue
		}
		s.publishOffers(offers)
	}

	return nil
}

// releaseCapacity returns seats to both counters exactly once per booking:
// the committed count is zeroed in the same transaction, so a second release
// is a no-op rather than a negative count.
func (s *reservationService) releaseCapacity(ctx context.Context, tx *gorm.DB, booking *models.Booking) (*models.Trip, int, error) {
	released := booking.CommittedCount
	if released > 0 {
		trip, err := s.tracker.Release(ctx, tx, booking.TripID, released)
		if err != nil {
			return nil, 0, err
		}
		booking.CommittedCount = 0
		return trip, released, nil
	}
	trip, err := s.trips.FindByIDForUpdate(ctx, tx, booking.TripID)
	if err != nil {
		return nil, 0, err
	}
	return trip, 0, nil
}

type event struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	OccurredAt time.Time      `json:"occurred_at"`
	Payload    map[string]any `json:"payload"`
}

func (s *reservationService) publish(name string, payload map[string]any) {
	if s.publisher == nil {
		return
	}
	evt := event{
		ID:         uuid.NewString(),
		Name:       name,
		OccurredAt: time.Now(),
		Payload:    payload,
	}
	if err := s.publisher.Publish(name, evt); err != nil {
		log.Printf("[Reservation] publish %s: %v", name, err)
	}
}

func (s *reservationService) publishOffers(offers []models.WaitlistEntry) {
	for _, o := range offers {
		s.publish("waitlist.offer", map[string]any{
			"trip_id":          o.TripID,
			"user_id":          o.UserID,
			"offer_token":      o.OfferToken,
			"offer_expires_at": o.OfferExpiresAt,
		})
	}
}
