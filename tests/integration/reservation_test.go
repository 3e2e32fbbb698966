//go:build integration

package integration

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/divemarket/trip-reservation-service/internal/capacity"
	"github.com/divemarket/trip-reservation-service/internal/models"
	"github.com/divemarket/trip-reservation-service/internal/pricing"
	"github.com/divemarket/trip-reservation-service/internal/refund"
	"github.com/divemarket/trip-reservation-service/internal/repository"
	"github.com/divemarket/trip-reservation-service/internal/service"
	"github.com/divemarket/trip-reservation-service/internal/waitlist"
)

func createTestSite(t *testing.T, quota int) *models.DiveSite {
	t.Helper()
	site := &models.DiveSite{
		Name:             "Richelieu Rock",
		DailyDiverQuota:  quota,
		ConservationZone: "none",
	}
	require.NoError(t, testDB.Create(site).Error)
	return site
}

func createTestTrip(t *testing.T, site *models.DiveSite, maxParticipants int) *models.Trip {
	t.Helper()
	departure := time.Now().Add(72 * time.Hour)
	trip := &models.Trip{
		SiteID:                site.ID,
		CenterID:              1,
		Name:                  "Morning Two-Tank Dive",
		Date:                  departure.Truncate(24 * time.Hour),
		DepartureAt:           departure,
		ReturnAt:              departure.Add(6 * time.Hour),
		MaxParticipants:       maxParticipants,
		PricePerDiver:         100,
		EquipmentRentalPrice:  25,
		MinCertificationLevel: models.CertOpenWater,
		Status:                models.TripPublished,
	}
	require.NoError(t, testDB.Create(trip).Error)
	return trip
}

func createTestDiver(t *testing.T, userID string) *models.DiverProfile {
	t.Helper()
	insuranceExpiry := time.Now().Add(365 * 24 * time.Hour)
	diver := &models.DiverProfile{
		UserID:             userID,
		CertificationLevel: models.CertRescue,
		LoggedDives:        120,
		BirthDate:          time.Now().AddDate(-30, 0, 0),
		InsuranceExpiresAt: &insuranceExpiry,
	}
	require.NoError(t, testDB.Create(diver).Error)
	return diver
}

func newService(t *testing.T, pendingTTL, offerTTL time.Duration) service.ReservationService {
	t.Helper()
	bands, err := refund.ParseBands("48:100,24:50,0:0")
	require.NoError(t, err)

	tripRepo := repository.NewTripRepository(testDB)
	bookingRepo := repository.NewBookingRepository(testDB)
	diverRepo := repository.NewDiverRepository(testDB)
	quotaRepo := repository.NewSiteQuotaRepository(testDB)
	waitlistRepo := repository.NewWaitlistRepository(testDB)

	return service.NewReservationService(
		bookingRepo, tripRepo, diverRepo, quotaRepo,
		capacity.NewTracker(tripRepo, quotaRepo),
		waitlist.NewManager(waitlistRepo, offerTTL),
		pricing.NewCalculator(pricing.Config{
			VATRate:              0.07,
			InsuranceFeePerDiver: 10,
			ZoneFees:             map[string]float64{"none": 0, "marine_reserve": 30},
			GroupDiscountRate:    0.10,
			GroupSizeThreshold:   4,
		}),
		refund.NewPolicy(bands),
		nil, // no broker in tests
		pendingTTL,
	)
}

func reserve(t *testing.T, svc service.ReservationService, tripID uint, userID string, count int) (*models.Booking, error) {
	t.Helper()
	b, _, err := svc.Reserve(t.Context(), service.ReserveRequest{
		TripID:           tripID,
		UserID:           userID,
		ParticipantCount: count,
	})
	return b, err
}

// 8 divers race for 5 seats. Exactly 5 reservations commit and both
// counters agree with the winners.
func TestConcurrentReservations(t *testing.T) {
	cleanTables()
	site := createTestSite(t, 20)
	trip := createTestTrip(t, site, 5)
	svc := newService(t, 30*time.Minute, 2*time.Hour)

	totalUsers := 8
	for i := 0; i < totalUsers; i++ {
		createTestDiver(t, fmt.Sprintf("diver-%02d", i))
	}

	var wg sync.WaitGroup
	errs := make(chan error, totalUsers)

	wg.Add(totalUsers)
	for i := 0; i < totalUsers; i++ {
		go func(idx int) {
			defer wg.Done()
			_, err := reserve(t, svc, trip.ID, fmt.Sprintf("diver-%02d", idx), 1)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	succeeded, full := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case assert.ErrorIs(t, err, capacity.ErrTripFull):
			full++
		}
	}
	assert.Equal(t, 5, succeeded, "exactly the seat count should commit")
	assert.Equal(t, 3, full)

	var got models.Trip
	require.NoError(t, testDB.First(&got, trip.ID).Error)
	assert.Equal(t, 5, got.CurrentParticipants)
	assert.Equal(t, models.TripFull, got.Status, "trip flips to full on the last seat")

	var quota models.SiteDailyQuota
	require.NoError(t, testDB.Where("site_id = ?", site.ID).First(&quota).Error)
	assert.Equal(t, 5, quota.ReservedCount, "site ledger matches seats taken")
}

// Two trips share one site and day. The site quota caps their combined
// headcount below the sum of their seat counts.
func TestSharedSiteQuota(t *testing.T) {
	cleanTables()
	site := createTestSite(t, 3)
	tripA := createTestTrip(t, site, 2)
	tripB := createTestTrip(t, site, 2)
	svc := newService(t, 30*time.Minute, 2*time.Hour)

	createTestDiver(t, "diver-a")
	createTestDiver(t, "diver-b")
	createTestDiver(t, "diver-c")

	_, err := reserve(t, svc, tripA.ID, "diver-a", 2)
	require.NoError(t, err)

	// Trip B has 2 open seats but only 1 quota slot remains.
	_, err = reserve(t, svc, tripB.ID, "diver-b", 2)
	assert.ErrorIs(t, err, capacity.ErrQuotaExceeded)

	_, err = reserve(t, svc, tripB.ID, "diver-c", 1)
	assert.NoError(t, err)

	var quota models.SiteDailyQuota
	require.NoError(t, testDB.Where("site_id = ?", site.ID).First(&quota).Error)
	assert.Equal(t, 3, quota.ReservedCount)
}

// The failed 2-seat attempt above must not leak a partial increment; this
// pins that down for a single trip as well.
func TestFailedReservationConsumesNothing(t *testing.T) {
	cleanTables()
	site := createTestSite(t, 1)
	trip := createTestTrip(t, site, 5)
	svc := newService(t, 30*time.Minute, 2*time.Hour)
	createTestDiver(t, "diver-a")

	_, err := reserve(t, svc, trip.ID, "diver-a", 2)
	assert.ErrorIs(t, err, capacity.ErrQuotaExceeded)

	var got models.Trip
	require.NoError(t, testDB.First(&got, trip.ID).Error)
	assert.Equal(t, 0, got.CurrentParticipants, "seat counter untouched after a quota refusal")
}

func TestDoubleBookingPrevention(t *testing.T) {
	cleanTables()
	site := createTestSite(t, 20)
	trip := createTestTrip(t, site, 5)
	svc := newService(t, 30*time.Minute, 2*time.Hour)
	createTestDiver(t, "diver-dup")

	_, err := reserve(t, svc, trip.ID, "diver-dup", 1)
	require.NoError(t, err)

	_, err = reserve(t, svc, trip.ID, "diver-dup", 1)
	assert.ErrorIs(t, err, service.ErrAlreadyBooked)
}

func TestConcurrentDoubleBooking(t *testing.T) {
	cleanTables()
	site := createTestSite(t, 20)
	trip := createTestTrip(t, site, 10)
	svc := newService(t, 30*time.Minute, 2*time.Hour)
	createTestDiver(t, "diver-same")

	attempts := 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	successCount := 0

	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		go func() {
			defer wg.Done()
			if _, err := reserve(t, svc, trip.ID, "diver-same", 1); err == nil {
				mu.Lock()
				successCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successCount, "only one concurrent reservation should succeed for the same user")

	var count int64
	testDB.Model(&models.Booking{}).
		Where("trip_id = ? AND user_id = ? AND status IN ?", trip.ID, "diver-same",
			[]models.BookingStatus{models.StatusPending, models.StatusConfirmed, models.StatusCheckedIn}).
		Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestIdempotentReserve(t *testing.T) {
	cleanTables()
	site := createTestSite(t, 20)
	trip := createTestTrip(t, site, 5)
	svc := newService(t, 30*time.Minute, 2*time.Hour)
	createTestDiver(t, "diver-retry")

	req := service.ReserveRequest{
		TripID:           trip.ID,
		UserID:           "diver-retry",
		ParticipantCount: 2,
		IdempotencyKey:   "retry-key-1",
	}

	first, created, err := svc.Reserve(t.Context(), req)
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := svc.Reserve(t.Context(), req)
	require.NoError(t, err)
	assert.False(t, created, "replay must not create a second booking")
	assert.Equal(t, first.ID, second.ID)

	var got models.Trip
	require.NoError(t, testDB.First(&got, trip.ID).Error)
	assert.Equal(t, 2, got.CurrentParticipants, "capacity consumed once, not twice")
}

func TestIneligibleDiverConsumesNothing(t *testing.T) {
	cleanTables()
	site := createTestSite(t, 20)
	trip := createTestTrip(t, site, 5)
	trip.MinCertificationLevel = models.CertDivemaster
	trip.MinLoggedDives = 500
	require.NoError(t, testDB.Save(trip).Error)

	svc := newService(t, 30*time.Minute, 2*time.Hour)
	createTestDiver(t, "diver-novice")

	_, err := reserve(t, svc, trip.ID, "diver-novice", 1)

	var notEligible *service.NotEligibleError
	require.ErrorAs(t, err, &notEligible)
	assert.Len(t, notEligible.Reasons, 2, "every violated requirement is reported")

	var got models.Trip
	require.NoError(t, testDB.First(&got, trip.ID).Error)
	assert.Equal(t, 0, got.CurrentParticipants)
}

func TestCancelConfirmedReleasesAndRefunds(t *testing.T) {
	cleanTables()
	site := createTestSite(t, 20)
	trip := createTestTrip(t, site, 2)
	svc := newService(t, 30*time.Minute, 2*time.Hour)
	createTestDiver(t, "diver-a")

	booking, err := reserve(t, svc, trip.ID, "diver-a", 2)
	require.NoError(t, err)

	_, err = svc.ConfirmPayment(t.Context(), booking.ID)
	require.NoError(t, err)

	var full models.Trip
	require.NoError(t, testDB.First(&full, trip.ID).Error)
	assert.Equal(t, models.TripFull, full.Status)

	cancelled, err := svc.Cancel(t.Context(), booking.ID, "change of plans")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)

	// Departure is 72h out, inside the 48h full-refund band.
	assert.Equal(t, 100.0, cancelled.RefundPercentage)
	assert.Equal(t, cancelled.Total, cancelled.RefundAmount)

	var got models.Trip
	require.NoError(t, testDB.First(&got, trip.ID).Error)
	assert.Equal(t, 0, got.CurrentParticipants)
	assert.Equal(t, models.TripPublished, got.Status, "trip reopens once seats free up")

	var quota models.SiteDailyQuota
	require.NoError(t, testDB.Where("site_id = ?", site.ID).First(&quota).Error)
	assert.Equal(t, 0, quota.ReservedCount)
}

func TestCancelPendingGetsNoRefund(t *testing.T) {
	cleanTables()
	site := createTestSite(t, 20)
	trip := createTestTrip(t, site, 5)
	svc := newService(t, 30*time.Minute, 2*time.Hour)
	createTestDiver(t, "diver-a")

	booking, err := reserve(t, svc, trip.ID, "diver-a", 1)
	require.NoError(t, err)

	cancelled, err := svc.Cancel(t.Context(), booking.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 0.0, cancelled.RefundAmount, "nothing was charged, nothing to refund")

	// A second cancel finds a terminal booking.
	_, err = svc.Cancel(t.Context(), booking.ID, "")
	assert.ErrorIs(t, err, service.ErrBookingNotCancellable)

	var got models.Trip
	require.NoError(t, testDB.First(&got, trip.ID).Error)
	assert.Equal(t, 0, got.CurrentParticipants, "capacity released exactly once")
}

func TestWaitlistFIFOPromotion(t *testing.T) {
	cleanTables()
	site := createTestSite(t, 20)
	trip := createTestTrip(t, site, 1)
	svc := newService(t, 30*time.Minute, 2*time.Hour)
	createTestDiver(t, "diver-a")
	createTestDiver(t, "diver-b")
	createTestDiver(t, "diver-c")

	booking, err := reserve(t, svc, trip.ID, "diver-a", 1)
	require.NoError(t, err)
	_, err = svc.ConfirmPayment(t.Context(), booking.ID)
	require.NoError(t, err)

	_, posB, err := svc.JoinWaitlist(t.Context(), trip.ID, "diver-b")
	require.NoError(t, err)
	assert.Equal(t, 1, posB)

	_, posC, err := svc.JoinWaitlist(t.Context(), trip.ID, "diver-c")
	require.NoError(t, err)
	assert.Equal(t, 2, posC)

	_, err = svc.Cancel(t.Context(), booking.ID, "")
	require.NoError(t, err)

	var entryB models.WaitlistEntry
	require.NoError(t, testDB.Where("trip_id = ? AND user_id = ?", trip.ID, "diver-b").First(&entryB).Error)
	assert.Equal(t, models.WaitlistOffered, entryB.Status, "head of queue gets the offer")
	assert.NotEmpty(t, entryB.OfferToken)

	var entryC models.WaitlistEntry
	require.NoError(t, testDB.Where("trip_id = ? AND user_id = ?", trip.ID, "diver-c").First(&entryC).Error)
	assert.Equal(t, models.WaitlistWaiting, entryC.Status, "second in line keeps waiting")

	claimed, err := svc.ClaimOffer(t.Context(), service.ClaimOfferRequest{
		TripID:     trip.ID,
		OfferToken: entryB.OfferToken,
	})
	require.NoError(t, err)
	assert.Equal(t, "diver-b", claimed.UserID)
	assert.Equal(t, models.StatusPending, claimed.Status)

	var gone int64
	testDB.Model(&models.WaitlistEntry{}).Where("trip_id = ? AND user_id = ?", trip.ID, "diver-b").Count(&gone)
	assert.Equal(t, int64(0), gone, "claimed entry leaves the queue")
}

func TestJoinWaitlistRefusedWithCapacity(t *testing.T) {
	cleanTables()
	site := createTestSite(t, 20)
	trip := createTestTrip(t, site, 5)
	svc := newService(t, 30*time.Minute, 2*time.Hour)
	createTestDiver(t, "diver-a")

	_, _, err := svc.JoinWaitlist(t.Context(), trip.ID, "diver-a")
	assert.ErrorIs(t, err, service.ErrTripNotFull)
}

func TestLapsedOfferPromotesNext(t *testing.T) {
	cleanTables()
	site := createTestSite(t, 20)
	trip := createTestTrip(t, site, 1)
	// Negative TTL lapses offers the moment they are made.
	svc := newService(t, 30*time.Minute, -time.Minute)
	createTestDiver(t, "diver-a")
	createTestDiver(t, "diver-b")
	createTestDiver(t, "diver-c")

	booking, err := reserve(t, svc, trip.ID, "diver-a", 1)
	require.NoError(t, err)
	_, err = svc.ConfirmPayment(t.Context(), booking.ID)
	require.NoError(t, err)

	_, _, err = svc.JoinWaitlist(t.Context(), trip.ID, "diver-b")
	require.NoError(t, err)
	_, _, err = svc.JoinWaitlist(t.Context(), trip.ID, "diver-c")
	require.NoError(t, err)

	_, err = svc.Cancel(t.Context(), booking.ID, "")
	require.NoError(t, err)

	require.NoError(t, svc.SweepExpirations(t.Context()))

	var countB int64
	testDB.Model(&models.WaitlistEntry{}).Where("trip_id = ? AND user_id = ?", trip.ID, "diver-b").Count(&countB)
	assert.Equal(t, int64(0), countB, "lapsed offer is dropped")

	var entryC models.WaitlistEntry
	require.NoError(t, testDB.Where("trip_id = ? AND user_id = ?", trip.ID, "diver-c").First(&entryC).Error)
	assert.Equal(t, models.WaitlistOffered, entryC.Status, "next in line is promoted")
}

func TestPendingExpirySweep(t *testing.T) {
	cleanTables()
	site := createTestSite(t, 20)
	trip := createTestTrip(t, site, 5)
	// Negative TTL makes every pending booking immediately stale.
	svc := newService(t, -time.Minute, 2*time.Hour)
	createTestDiver(t, "diver-a")

	booking, err := reserve(t, svc, trip.ID, "diver-a", 2)
	require.NoError(t, err)

	require.NoError(t, svc.SweepExpirations(t.Context()))

	var got models.Booking
	require.NoError(t, testDB.First(&got, booking.ID).Error)
	assert.Equal(t, models.StatusExpired, got.Status)

	var gotTrip models.Trip
	require.NoError(t, testDB.First(&gotTrip, trip.ID).Error)
	assert.Equal(t, 0, gotTrip.CurrentParticipants, "expiry returns the seats")
}

func TestConfirmPaymentIdempotent(t *testing.T) {
	cleanTables()
	site := createTestSite(t, 20)
	trip := createTestTrip(t, site, 5)
	svc := newService(t, 30*time.Minute, 2*time.Hour)
	createTestDiver(t, "diver-a")

	booking, err := reserve(t, svc, trip.ID, "diver-a", 1)
	require.NoError(t, err)

	first, err := svc.ConfirmPayment(t.Context(), booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, first.Status)

	// Gateway retry.
	second, err := svc.ConfirmPayment(t.Context(), booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, second.Status)
}

func TestBookingLifecycle(t *testing.T) {
	cleanTables()
	site := createTestSite(t, 20)
	trip := createTestTrip(t, site, 5)
	svc := newService(t, 30*time.Minute, 2*time.Hour)
	createTestDiver(t, "diver-a")

	booking, err := reserve(t, svc, trip.ID, "diver-a", 1)
	require.NoError(t, err)

	// check-in before payment is invalid
	_, err = svc.CheckIn(t.Context(), booking.ID)
	assert.ErrorIs(t, err, service.ErrInvalidTransition)

	_, err = svc.ConfirmPayment(t.Context(), booking.ID)
	require.NoError(t, err)

	checkedIn, err := svc.CheckIn(t.Context(), booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCheckedIn, checkedIn.Status)

	completed, err := svc.Complete(t.Context(), booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, completed.Status)

	// terminal states cannot be cancelled
	_, err = svc.Cancel(t.Context(), booking.ID, "")
	assert.ErrorIs(t, err, service.ErrBookingNotCancellable)
}

func TestNoShowBeforeDeparture(t *testing.T) {
	cleanTables()
	site := createTestSite(t, 20)
	trip := createTestTrip(t, site, 5)
	svc := newService(t, 30*time.Minute, 2*time.Hour)
	createTestDiver(t, "diver-a")

	booking, err := reserve(t, svc, trip.ID, "diver-a", 1)
	require.NoError(t, err)
	_, err = svc.ConfirmPayment(t.Context(), booking.ID)
	require.NoError(t, err)

	_, err = svc.MarkNoShow(t.Context(), booking.ID)
	assert.ErrorIs(t, err, service.ErrInvalidTransition, "no-show only applies after departure")
}
