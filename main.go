package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	echoMw "github.com/labstack/echo/v4/middleware"

	"github.com/divemarket/trip-reservation-service/config"
	"github.com/divemarket/trip-reservation-service/internal/capacity"
	"github.com/divemarket/trip-reservation-service/internal/consumer"
	"github.com/divemarket/trip-reservation-service/internal/handler"
	"github.com/divemarket/trip-reservation-service/internal/middleware"
	"github.com/divemarket/trip-reservation-service/internal/pricing"
	"github.com/divemarket/trip-reservation-service/internal/refund"
	"github.com/divemarket/trip-reservation-service/internal/repository"
	"github.com/divemarket/trip-reservation-service/internal/service"
	"github.com/divemarket/trip-reservation-service/internal/waitlist"
	"github.com/divemarket/trip-reservation-service/pkg/database"
	"github.com/divemarket/trip-reservation-service/pkg/rabbitmq"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db := database.NewPostgresDB(cfg.DSN())

	publisher, err := rabbitmq.NewPublisher(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to RabbitMQ: %v", err)
	}
	defer publisher.Close()

	// Repositories
	tripRepo := repository.NewTripRepository(db)
	bookingRepo := repository.NewBookingRepository(db)
	diverRepo := repository.NewDiverRepository(db)
	quotaRepo := repository.NewSiteQuotaRepository(db)
	waitlistRepo := repository.NewWaitlistRepository(db)

	// Engine
	tracker := capacity.NewTracker(tripRepo, quotaRepo)
	wl := waitlist.NewManager(waitlistRepo, cfg.WaitlistOfferTTL)
	calc := pricing.NewCalculator(cfg.Pricing)
	refunds := refund.NewPolicy(cfg.RefundBands)

	svc := service.NewReservationService(
		bookingRepo, tripRepo, diverRepo, quotaRepo,
		tracker, wl, calc, refunds,
		publisher, cfg.PendingPaymentTTL,
	)

	// RabbitMQ consumer: settle bookings on payment.* events
	mqConsumer, err := rabbitmq.NewConsumer(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to RabbitMQ: %v", err)
	}
	defer mqConsumer.Close()

	msgs, err := mqConsumer.Consume()
	if err != nil {
		log.Fatalf("failed to start consuming: %v", err)
	}
	consumer.NewPaymentConsumer(svc).Start(msgs)

	// Background sweep for expired pending bookings and lapsed offers
	go service.NewSweeper(svc, cfg.SweepInterval).Run(ctx)

	// Echo
	e := echo.New()
	e.HTTPErrorHandler = middleware.ErrorHandler
	e.Validator = handler.NewValidator()
	e.Use(echoMw.RequestLoggerWithConfig(echoMw.RequestLoggerConfig{
		LogStatus: true,
		LogURI:    true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v echoMw.RequestLoggerValues) error {
			log.Printf("%s %s %d", v.Method, v.URI, v.Status)
			return nil
		},
	}))
	e.Use(echoMw.Recover())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(200, map[string]string{"status": "ok", "service": "trip-reservation-service"})
	})

	handler.NewReservationHandler(svc).RegisterRoutes(e)

	log.Printf("Trip Reservation Service starting on :%s", cfg.ServerPort)
	e.Logger.Fatal(e.Start(":" + cfg.ServerPort))
}
