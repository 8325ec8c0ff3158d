package main

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/aws/aws-lambda-go/events"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-clothing-orderflow/internal/customers"
	"github.com/imrishuroy/go-clothing-orderflow/internal/idempotency"
	"github.com/imrishuroy/go-clothing-orderflow/internal/orders"
)

// maxPointRetries bounds re-reads after a concurrent points update.
const maxPointRetries = 3

// ErrEventInFlight means another consumer holds the event's idempotency record.
var ErrEventInFlight = errors.New("event is being processed elsewhere")

// CustomerStore is the part of customers.Store the worker needs.
type CustomerStore interface {
	Get(ctx context.Context, id int) (*customers.Customer, error)
	SavePoints(ctx context.Context, id, previous, current int) error
}

// EventLedger dedupes consumed events.
type EventLedger interface {
	CreateIfNotExists(ctx context.Context, key string, orderID int) (bool, error)
	Get(ctx context.Context, key string) (*idempotency.IdempotencyRecord, error)
	Reclaim(ctx context.Context, key string) error
	MarkDone(ctx context.Context, key, responseBody string, responseStatus int) error
	MarkFailed(ctx context.Context, key, note string) error
}

// Processor consumes order events and awards loyalty points for completed
// orders, once per event.
type Processor struct {
	customers  CustomerStore
	ledger     EventLedger
	pointValue float64
	logger     *zap.Logger
	tracer     trace.Tracer
}

// NewProcessor creates a new worker processor. One point is awarded per
// pointValue of order total.
func NewProcessor(custs CustomerStore, ledger EventLedger, pointValue float64, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		customers:  custs,
		ledger:     ledger,
		pointValue: pointValue,
		logger:     logger,
		tracer:     otel.Tracer("worker"),
	}
}

// Handle processes an SQS batch. Failed messages are reported individually
// so only they are redelivered.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			p.logger.Error("worker error", zap.String("message_id", rec.MessageId), zap.Error(err))
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) (err error) {
	carrier := propagation.MapCarrier{}
	for k, v := range rec.MessageAttributes {
		if v.StringValue != nil {
			carrier[k] = *v.StringValue
		}
	}
	ctx = otel.GetTextMapPropagator().Extract(ctx, carrier)
	ctx = orders.WithCorrelationID(ctx, carrier["correlation_id"])

	ctx, span := p.tracer.Start(ctx, "worker.processMessage", trace.WithSpanKind(trace.SpanKindConsumer))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	ev, err := orders.ParseEvent(rec.Body)
	if err != nil {
		return err
	}
	span.SetAttributes(
		attribute.String("event.id", ev.EventID),
		attribute.String("event.type", string(ev.Type)),
		attribute.Int("order.id", ev.OrderID),
	)

	log := p.logger.With(
		zap.String("event_id", ev.EventID),
		zap.String("event_type", string(ev.Type)),
		zap.Int("order_id", ev.OrderID),
		zap.String("correlation_id", orders.CorrelationID(ctx)),
	)
	if ev.Type != orders.EventOrderCompleted {
		log.Debug("ignoring event")
		return nil
	}

	key := idempotency.EventKey(ev.EventID)
	proceed, err := p.claim(ctx, key, ev.OrderID)
	if err != nil {
		return err
	}
	if !proceed {
		log.Info("event already processed")
		return nil
	}

	awarded, err := p.award(ctx, ev)
	if err != nil {
		if mErr := p.ledger.MarkFailed(ctx, key, err.Error()); mErr != nil {
			log.Warn("mark event failed", zap.Error(mErr))
		}
		return err
	}

	if err := p.ledger.MarkDone(ctx, key, fmt.Sprintf(`{"points_awarded":%d}`, awarded), 200); err != nil {
		return fmt.Errorf("failed to update idempotency: %w", err)
	}
	log.Info("loyalty points awarded", zap.Int("customer_id", ev.CustomerID), zap.Int("points", awarded))
	return nil
}

// claim takes ownership of key. It reports false when the event was already
// handled.
func (p *Processor) claim(ctx context.Context, key string, orderID int) (bool, error) {
	created, err := p.ledger.CreateIfNotExists(ctx, key, orderID)
	if err != nil {
		return false, err
	}
	if created {
		return true, nil
	}

	existing, err := p.ledger.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if existing == nil {
		// expired between the two calls
		return false, fmt.Errorf("%w: %s", ErrEventInFlight, key)
	}
	switch existing.Status {
	case idempotency.StatusDone:
		return false, nil
	case idempotency.StatusFailed:
		if err := p.ledger.Reclaim(ctx, key); err != nil {
			if errors.Is(err, idempotency.ErrConditionFailed) {
				return false, fmt.Errorf("%w: %s", ErrEventInFlight, key)
			}
			return false, err
		}
		return true, nil
	default:
		return false, fmt.Errorf("%w: %s", ErrEventInFlight, key)
	}
}

func (p *Processor) award(ctx context.Context, ev orders.Event) (int, error) {
	points := int(math.Floor(ev.Total / p.pointValue))
	if points <= 0 {
		return 0, nil
	}

	for attempt := 1; ; attempt++ {
		customer, err := p.customers.Get(ctx, ev.CustomerID)
		if err != nil {
			return 0, fmt.Errorf("failed to fetch customer: %w", err)
		}
		if customer == nil {
			return 0, fmt.Errorf("%w: %d", orders.ErrCustomerNotFound, ev.CustomerID)
		}

		previous := customer.Points()
		if err := customer.AddPoints(points); err != nil {
			return 0, err
		}
		err = p.customers.SavePoints(ctx, customer.ID(), previous, customer.Points())
		if err == nil {
			return points, nil
		}
		if !errors.Is(err, customers.ErrPointsConflict) || attempt == maxPointRetries {
			return 0, fmt.Errorf("failed to save points: %w", err)
		}
	}
}
