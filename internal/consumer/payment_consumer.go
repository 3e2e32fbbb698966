package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/divemarket/trip-reservation-service/internal/service"
)

type paymentEvent struct {
	BookingID uint   `json:"booking_id"`
	UserID    string `json:"user_id"`
	Amount    float64 `json:"amount"`
}

// PaymentConsumer settles pending bookings from payment service events.
// payment.confirmed moves a booking to confirmed, payment.failed releases
// its capacity.
type PaymentConsumer struct {
	svc service.ReservationService
}

func NewPaymentConsumer(svc service.ReservationService) *PaymentConsumer {
	return &PaymentConsumer{svc: svc}
}

func (pc *PaymentConsumer) Start(msgs <-chan amqp.Delivery) {
	go func() {
		for msg := range msgs {
			pc.handleMessage(msg)
		}
		log.Println("[PaymentConsumer] channel closed, stopping consumer")
	}()
}

func (pc *PaymentConsumer) handleMessage(msg amqp.Delivery) {
	var event paymentEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		log.Printf("[PaymentConsumer] failed to unmarshal: %v", err)
		msg.Nack(false, false)
		return
	}

	ctx := context.Background()

	var err error
	switch msg.RoutingKey {
	case "payment.confirmed":
		_, err = pc.svc.ConfirmPayment(ctx, event.BookingID)
	case "payment.failed":
		_, err = pc.svc.Expire(ctx, event.BookingID)
	default:
		log.Printf("[PaymentConsumer] ignoring routing key %s", msg.RoutingKey)
		msg.Ack(false)
		return
	}

	if err != nil {
		// A missing or already-settled booking is not retryable. Anything
		// else (DB down) is requeued.
		if errors.Is(err, service.ErrBookingNotFound) || errors.Is(err, service.ErrInvalidTransition) {
			log.Printf("[PaymentConsumer] dropping %s for booking %d: %v", msg.RoutingKey, event.BookingID, err)
			msg.Ack(false)
			return
		}
		log.Printf("[PaymentConsumer] failed to handle %s for booking %d: %v", msg.RoutingKey, event.BookingID, err)
		msg.Nack(false, true)
		return
	}

	log.Printf("[PaymentConsumer] handled %s for booking %d", msg.RoutingKey, event.BookingID)
	msg.Ack(false)
}
