package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-clothing-orderflow/internal/aws/dynamotest"
	"github.com/imrishuroy/go-clothing-orderflow/internal/customers"
	"github.com/imrishuroy/go-clothing-orderflow/internal/idempotency"
	"github.com/imrishuroy/go-clothing-orderflow/internal/orders"
)

type fixture struct {
	fake      *dynamotest.Fake
	customers *customers.Store
	ledger    *idempotency.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fake := dynamotest.New().
		CreateTable("customers", "customer_id").
		CreateTable("idempotency", "idempotency_key")
	f := &fixture{
		fake:      fake,
		customers: customers.NewStore(fake, "customers"),
		ledger:    idempotency.NewStore(fake, "idempotency", time.Hour),
	}
	c, err := customers.New(customers.Attributes{ID: 1, Name: "Dana", PreferredSize: "M", Points: 20})
	require.NoError(t, err)
	require.NoError(t, f.customers.Put(context.Background(), c))
	return f
}

func (f *fixture) points(t *testing.T) int {
	t.Helper()
	c, err := f.customers.Get(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, c)
	return c.Points()
}

func message(t *testing.T, id string, ev orders.Event) events.SQSMessage {
	t.Helper()
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	return events.SQSMessage{MessageId: id, Body: string(b)}
}

func completed(eventID string, total float64) orders.Event {
	return orders.Event{
		EventID:    eventID,
		Type:       orders.EventOrderCompleted,
		OrderID:    7,
		CustomerID: 1,
		Total:      total,
		OccurredAt: time.Now().UTC(),
	}
}

func TestHandle_AwardsPointsOnce(t *testing.T) {
	f := newFixture(t)
	p := NewProcessor(f.customers, f.ledger, 100, nil)
	msg := message(t, "m1", completed("evt-1", 450))

	resp, err := p.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{msg}})
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)
	assert.Equal(t, 24, f.points(t))

	rec, err := f.ledger.Get(context.Background(), idempotency.EventKey("evt-1"))
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, idempotency.StatusDone, rec.Status)
	assert.JSONEq(t, `{"points_awarded":4}`, rec.ResponseBody)

	// redelivery
	resp, err = p.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{msg}})
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)
	assert.Equal(t, 24, f.points(t))
}

func TestHandle_IgnoresOtherEvents(t *testing.T) {
	f := newFixture(t)
	p := NewProcessor(f.customers, f.ledger, 100, nil)

	ev := completed("evt-1", 900)
	ev.Type = orders.EventOrderCreated
	resp, err := p.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{message(t, "m1", ev)}})
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)
	assert.Equal(t, 20, f.points(t))
	assert.Equal(t, 0, f.fake.Len("idempotency"))
}

func TestHandle_SmallTotalAwardsNothing(t *testing.T) {
	f := newFixture(t)
	p := NewProcessor(f.customers, f.ledger, 100, nil)

	resp, err := p.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{message(t, "m1", completed("evt-1", 99.9))}})
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)
	assert.Equal(t, 20, f.points(t))

	rec, err := f.ledger.Get(context.Background(), idempotency.EventKey("evt-1"))
	require.NoError(t, err)
	assert.Equal(t, idempotency.StatusDone, rec.Status)
}

func TestHandle_ReportsPartialBatchFailures(t *testing.T) {
	f := newFixture(t)
	p := NewProcessor(f.customers, f.ledger, 100, nil)

	unknown := completed("evt-2", 300)
	unknown.CustomerID = 99
	resp, err := p.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{
		message(t, "ok", completed("evt-1", 300)),
		{MessageId: "garbage", Body: "not json"},
		message(t, "unknown-customer", unknown),
	}})
	require.NoError(t, err)
	assert.ElementsMatch(t, []events.SQSBatchItemFailure{
		{ItemIdentifier: "garbage"},
		{ItemIdentifier: "unknown-customer"},
	}, resp.BatchItemFailures)
	assert.Equal(t, 23, f.points(t))

	rec, err := f.ledger.Get(context.Background(), idempotency.EventKey("evt-2"))
	require.NoError(t, err)
	assert.Equal(t, idempotency.StatusFailed, rec.Status)
}

func TestHandle_RetriesFailedEvent(t *testing.T) {
	f := newFixture(t)
	p := NewProcessor(f.customers, f.ledger, 100, nil)
	ctx := context.Background()

	created, err := f.ledger.CreateIfNotExists(ctx, idempotency.EventKey("evt-1"), 7)
	require.NoError(t, err)
	require.True(t, created)
	require.NoError(t, f.ledger.MarkFailed(ctx, idempotency.EventKey("evt-1"), "earlier failure"))

	resp, err := p.Handle(ctx, events.SQSEvent{Records: []events.SQSMessage{message(t, "m1", completed("evt-1", 200))}})
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)
	assert.Equal(t, 22, f.points(t))
}

func TestHandle_InFlightEventIsRetried(t *testing.T) {
	f := newFixture(t)
	p := NewProcessor(f.customers, f.ledger, 100, nil)
	ctx := context.Background()

	_, err := f.ledger.CreateIfNotExists(ctx, idempotency.EventKey("evt-1"), 7)
	require.NoError(t, err)

	resp, err := p.Handle(ctx, events.SQSEvent{Records: []events.SQSMessage{message(t, "m1", completed("evt-1", 200))}})
	require.NoError(t, err)
	assert.Len(t, resp.BatchItemFailures, 1)
	assert.Equal(t, 20, f.points(t))

	err = p.processMessage(ctx, message(t, "m1", completed("evt-1", 200)))
	assert.True(t, errors.Is(err, ErrEventInFlight))
}

// racingStore bumps the stored balance before the first SavePoints, as a
// concurrent writer would.
type racingStore struct {
	*customers.Store
	raced bool
}

func (r *racingStore) SavePoints(ctx context.Context, id, previous, current int) error {
	if !r.raced {
		r.raced = true
		if err := r.Store.SavePoints(ctx, id, previous, previous+5); err != nil {
			return err
		}
	}
	return r.Store.SavePoints(ctx, id, previous, current)
}

func TestHandle_RetriesPointsConflict(t *testing.T) {
	f := newFixture(t)
	p := NewProcessor(&racingStore{Store: f.customers}, f.ledger, 100, nil)

	resp, err := p.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{message(t, "m1", completed("evt-1", 300))}})
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)
	assert.Equal(t, 28, f.points(t), "20 + 5 from the racing writer + 3 awarded")
}
