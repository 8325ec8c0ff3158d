package orders

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-clothing-orderflow/internal/customers"
	"github.com/imrishuroy/go-clothing-orderflow/internal/idempotency"
	"github.com/imrishuroy/go-clothing-orderflow/internal/inventory"
	"github.com/imrishuroy/go-clothing-orderflow/internal/keylock"
	"github.com/imrishuroy/go-clothing-orderflow/internal/validation"
)

var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrItemNotFound     = errors.New("item not found")
	ErrCustomerNotFound = errors.New("customer not found")
)

// Repository persists order records.
type Repository interface {
	NextID(ctx context.Context) (int, error)
	Create(ctx context.Context, rec Record) error
	CreateWithIdempotencyTransaction(ctx context.Context, idempotencyTable string, idempotencyItem interface{}, rec Record, ttlWindow time.Duration) error
	Get(ctx context.Context, orderID int) (*Record, error)
	Save(ctx context.Context, rec Record, expected Status) error
	UpdateStatus(ctx context.Context, orderID int, expectedStatus, newStatus Status, revision int64) error
}

// ItemRepository loads items and moves their stored stock. The store, not the
// catalog, decides whether units are available.
type ItemRepository interface {
	inventory.Loader
	Reserve(ctx context.Context, id, quantity int) (inventory.StockLevel, bool, error)
	Release(ctx context.Context, id, quantity int) (inventory.StockLevel, error)
}

// CustomerRepository loads customers. A miss is (nil, nil).
type CustomerRepository interface {
	Get(ctx context.Context, id int) (*customers.Customer, error)
}

// IdempotencyKeys builds the record written alongside a new order.
type IdempotencyKeys interface {
	InProgress(key string, orderID int) idempotency.IdempotencyRecord
	TableName() string
	TTL() time.Duration
}

// MetricsRecorder receives order counters. internal/metrics implements it.
type MetricsRecorder interface {
	OrderStatusChanged(ctx context.Context, status string)
	StockRejected(ctx context.Context, itemID int)
	UnitsReserved(ctx context.Context, units int)
}

type nopMetrics struct{}

func (nopMetrics) OrderStatusChanged(context.Context, string) {}
func (nopMetrics) StockRejected(context.Context, int)         {}
func (nopMetrics) UnitsReserved(context.Context, int)         {}

// LineInput is one requested line of a new order.
type LineInput struct {
	ItemID   int
	Quantity int
}

// CreateInput describes a new order.
type CreateInput struct {
	CustomerID     int
	IdempotencyKey string
	Lines          []LineInput
}

// RejectedLine is a requested line that could not be reserved.
type RejectedLine struct {
	ItemID    int `json:"item_id"`
	Quantity  int `json:"quantity"`
	Available int `json:"available"`
}

// CreateResult is the outcome of Service.Create.
type CreateResult struct {
	Order    *Order
	Rejected []RejectedLine
}

// Service coordinates the order aggregate with the item catalog and the
// stores. Orders it has touched stay live in memory; others are rebuilt from
// the order store on first use. A cached order whose stored revision moved on
// is dropped on the first conflicting write.
//
// Locks are taken in this order: order id, item ids ascending, then the
// order and item mutexes.
type Service struct {
	repo        Repository
	items       ItemRepository
	customers   CustomerRepository
	catalog     *inventory.Catalog
	idempotency IdempotencyKeys
	publisher   EventPublisher
	metrics     MetricsRecorder
	logger      *zap.Logger
	tracer      trace.Tracer
	nowFunc     func() time.Time

	orderLocks keylock.Map

	mu   sync.Mutex
	live map[int]*Order
}

// Option configures a Service.
type Option func(*Service)

func WithPublisher(p EventPublisher) Option   { return func(s *Service) { s.publisher = p } }
func WithMetrics(m MetricsRecorder) Option     { return func(s *Service) { s.metrics = m } }
func WithLogger(l *zap.Logger) Option          { return func(s *Service) { s.logger = l } }
func WithTracer(t trace.Tracer) Option         { return func(s *Service) { s.tracer = t } }
func WithIdempotency(k IdempotencyKeys) Option { return func(s *Service) { s.idempotency = k } }

// NewService wires a Service. catalog may be shared with other readers.
func NewService(repo Repository, items ItemRepository, custs CustomerRepository, catalog *inventory.Catalog, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		items:     items,
		customers: custs,
		catalog:   catalog,
		publisher: nopPublisher{},
		metrics:   nopMetrics{},
		logger:    zap.NewNop(),
		tracer:    otel.Tracer("orders"),
		nowFunc:   time.Now,
		live:      map[int]*Order{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create opens a PENDING order for in.CustomerID and reserves every requested
// line it can. Lines without enough stock are reported in Rejected and left
// off the order. When in.IdempotencyKey is set the order and the idempotency
// record are written in one transaction; a reused key yields ErrCreateConflict.
// If the reserved lines cannot be persisted their units are given back and
// the stored order stays empty.
func (s *Service) Create(ctx context.Context, in CreateInput) (res *CreateResult, err error) {
	ctx, span := s.tracer.Start(ctx, "orders.Create", trace.WithAttributes(
		attribute.Int("customer.id", in.CustomerID),
		attribute.Int("order.lines_requested", len(in.Lines)),
	))
	defer func() { endSpan(span, err) }()

	customer, err := s.customers.Get(ctx, in.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("load customer %d: %w", in.CustomerID, err)
	}
	if customer == nil {
		return nil, fmt.Errorf("%w: %d", ErrCustomerNotFound, in.CustomerID)
	}

	items := make([]*inventory.Item, len(in.Lines))
	for i, l := range in.Lines {
		if l.Quantity <= 0 {
			return nil, validation.Errorf("Quantity", "Quantity must be positive")
		}
		if items[i], err = s.item(ctx, l.ItemID); err != nil {
			return nil, err
		}
	}

	id, err := s.repo.NextID(ctx)
	if err != nil {
		return nil, err
	}
	order, err := New(id, customer)
	if err != nil {
		return nil, err
	}
	order.nowFunc = s.nowFunc
	span.SetAttributes(attribute.Int("order.id", id))

	unlock := s.orderLocks.Lock(id)
	defer unlock()

	rec := order.Snapshot()
	if in.IdempotencyKey != "" && s.idempotency != nil {
		idem := s.idempotency.InProgress(in.IdempotencyKey, id)
		err = s.repo.CreateWithIdempotencyTransaction(ctx, s.idempotency.TableName(), idem, rec, s.idempotency.TTL())
	} else {
		err = s.repo.Create(ctx, rec)
	}
	if err != nil {
		return nil, fmt.Errorf("create order %d: %w", id, err)
	}
	s.remember(order)

	res = &CreateResult{Order: order}
	var taken []reservation
	rollback := func() {
		for _, r := range taken {
			s.unreserve(ctx, order, r.item, r.quantity)
		}
	}
	for i, l := range in.Lines {
		ok, err := s.reserve(ctx, order, items[i], l.Quantity)
		if err != nil {
			rollback()
			return nil, err
		}
		if !ok {
			res.Rejected = append(res.Rejected, RejectedLine{ItemID: l.ItemID, Quantity: l.Quantity, Available: items[i].Stock()})
			s.metrics.StockRejected(ctx, l.ItemID)
			continue
		}
		taken = append(taken, reservation{item: items[i], quantity: l.Quantity})
	}

	if len(taken) > 0 {
		if err := s.repo.Save(ctx, order.Snapshot(), StatusPending); err != nil {
			rollback()
			s.dropOnConflict(id, err)
			return nil, fmt.Errorf("persist order %d: %w", id, err)
		}
		order.committed()
		for _, r := range taken {
			s.metrics.UnitsReserved(ctx, r.quantity)
		}
	}

	s.metrics.OrderStatusChanged(ctx, string(StatusPending))
	s.publish(ctx, EventOrderCreated, order)
	s.logger.Info("order created",
		zap.Int("order_id", id),
		zap.Int("customer_id", customer.ID()),
		zap.Int("lines", len(taken)),
		zap.Int("rejected", len(res.Rejected)),
	)
	return res, nil
}

// AddItem reserves quantity units of itemID on the order. It reports false
// when the item lacks stock. Nothing stays reserved when the order cannot be
// persisted.
func (s *Service) AddItem(ctx context.Context, orderID, itemID, quantity int) (added bool, err error) {
	ctx, span := s.tracer.Start(ctx, "orders.AddItem", trace.WithAttributes(
		attribute.Int("order.id", orderID),
		attribute.Int("item.id", itemID),
		attribute.Int("item.quantity", quantity),
	))
	defer func() { endSpan(span, err) }()

	unlock := s.orderLocks.Lock(orderID)
	defer unlock()

	order, err := s.load(ctx, orderID)
	if err != nil {
		return false, err
	}
	item, err := s.item(ctx, itemID)
	if err != nil {
		return false, err
	}

	added, err = s.reserve(ctx, order, item, quantity)
	if err != nil {
		return false, err
	}
	span.SetAttributes(attribute.Bool("item.added", added))
	if !added {
		s.metrics.StockRejected(ctx, itemID)
		s.logger.Info("insufficient stock",
			zap.Int("order_id", orderID),
			zap.Int("item_id", itemID),
			zap.Int("requested", quantity),
			zap.Int("available", item.Stock()),
		)
		return false, nil
	}

	if err := s.repo.Save(ctx, order.Snapshot(), StatusPending); err != nil {
		s.unreserve(ctx, order, item, quantity)
		s.dropOnConflict(orderID, err)
		return false, fmt.Errorf("persist order %d: %w", orderID, err)
	}
	order.committed()
	s.metrics.UnitsReserved(ctx, quantity)
	return true, nil
}

// Complete moves the order to COMPLETED. The order is only changed in memory
// once the store accepted the new status.
func (s *Service) Complete(ctx context.Context, orderID int) (order *Order, err error) {
	ctx, span := s.tracer.Start(ctx, "orders.Complete", trace.WithAttributes(attribute.Int("order.id", orderID)))
	defer func() { endSpan(span, err) }()

	unlock := s.orderLocks.Lock(orderID)
	defer unlock()

	order, err = s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := order.check(order.completable); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateStatus(ctx, orderID, StatusPending, StatusCompleted, order.Snapshot().Revision); err != nil {
		s.dropOnConflict(orderID, err)
		return nil, fmt.Errorf("persist order %d: %w", orderID, err)
	}
	if err := order.Complete(); err != nil {
		return nil, err
	}
	order.committed()

	s.metrics.OrderStatusChanged(ctx, string(StatusCompleted))
	s.publish(ctx, EventOrderCompleted, order)
	s.logger.Info("order completed", zap.Int("order_id", orderID), zap.Float64("total", order.CalculateTotal()))
	return order, nil
}

// Cancel moves the order to CANCELLED and returns its reserved units to
// stock. The status write comes first: when it fails nothing was released.
func (s *Service) Cancel(ctx context.Context, orderID int) (order *Order, err error) {
	ctx, span := s.tracer.Start(ctx, "orders.Cancel", trace.WithAttributes(attribute.Int("order.id", orderID)))
	defer func() { endSpan(span, err) }()

	unlock := s.orderLocks.Lock(orderID)
	defer unlock()

	order, err = s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := order.check(order.cancellable); err != nil {
		return nil, err
	}

	held := order.reservations()
	for _, r := range held {
		defer s.catalog.Lock(r.item.ID())()
	}

	rec := order.Snapshot()
	rec.Status = StatusCancelled
	rec.UpdatedAt = s.nowFunc().UTC()
	if err := s.repo.Save(ctx, rec, StatusPending); err != nil {
		s.dropOnConflict(orderID, err)
		return nil, fmt.Errorf("persist order %d: %w", orderID, err)
	}
	if err := order.Cancel(); err != nil {
		return nil, err
	}
	order.committed()
	for _, r := range held {
		s.release(ctx, r.item, r.quantity)
	}

	s.metrics.OrderStatusChanged(ctx, string(StatusCancelled))
	s.publish(ctx, EventOrderCancelled, order)
	s.logger.Info("order cancelled", zap.Int("order_id", orderID), zap.Int("lines", len(held)))
	return order, nil
}

// Get returns the live order for id, rebuilding it from the store on a miss.
// A cached order gets a fresh copy of its customer, whose loyalty points move
// independently of the order.
func (s *Service) Get(ctx context.Context, orderID int) (*Order, error) {
	order := s.lookup(orderID)
	if order == nil {
		return s.load(ctx, orderID)
	}
	customer := order.Customer()
	if customer == nil {
		return order, nil
	}
	fresh, err := s.customers.Get(ctx, customer.ID())
	if err != nil {
		return nil, fmt.Errorf("load customer %d: %w", customer.ID(), err)
	}
	order.refreshCustomer(fresh)
	return order, nil
}

func (s *Service) load(ctx context.Context, orderID int) (*Order, error) {
	if o := s.lookup(orderID); o != nil {
		return o, nil
	}

	rec, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order %d: %w", orderID, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %d", ErrOrderNotFound, orderID)
	}

	var customer *customers.Customer
	if rec.CustomerID != 0 {
		if customer, err = s.customers.Get(ctx, rec.CustomerID); err != nil {
			return nil, fmt.Errorf("load customer %d: %w", rec.CustomerID, err)
		}
		if customer == nil {
			return nil, fmt.Errorf("%w: %d", ErrCustomerNotFound, rec.CustomerID)
		}
	}
	items := make(map[int]*inventory.Item, len(rec.Lines))
	for _, l := range rec.Lines {
		if items[l.ItemID], err = s.item(ctx, l.ItemID); err != nil {
			return nil, err
		}
	}

	order, err := Restore(*rec, customer, items)
	if err != nil {
		return nil, fmt.Errorf("restore order %d: %w", orderID, err)
	}
	order.nowFunc = s.nowFunc
	return s.remember(order), nil
}

// reserve takes quantity units of item from the store and books them on the
// order. The catalog copy of item is synced with the stored level either way.
// Callers hold the order lock.
func (s *Service) reserve(ctx context.Context, order *Order, item *inventory.Item, quantity int) (bool, error) {
	if quantity <= 0 {
		return false, validation.Errorf("Quantity", "Quantity must be positive")
	}
	if err := order.check(order.addable); err != nil {
		return false, err
	}

	unlock := s.catalog.Lock(item.ID())
	defer unlock()

	level, ok, err := s.items.Reserve(ctx, item.ID(), quantity)
	if err != nil {
		if errors.Is(err, inventory.ErrNotFound) {
			return false, fmt.Errorf("%w: %d", ErrItemNotFound, item.ID())
		}
		return false, fmt.Errorf("reserve item %d: %w", item.ID(), err)
	}
	if !ok {
		item.SyncStock(level.Stock, level.Version)
		return false, nil
	}

	// AddItem's ReduceStock moves the item to the reserved level.
	item.SyncStock(level.Stock+quantity, level.Version-1)
	added, err := order.AddItem(item, quantity)
	if err != nil || !added {
		s.release(ctx, item, quantity)
		if err == nil {
			err = fmt.Errorf("item %d: reserved units not booked on order %d", item.ID(), order.ID())
		}
		return false, err
	}
	return true, nil
}

// unreserve reverses a successful reserve.
func (s *Service) unreserve(ctx context.Context, order *Order, item *inventory.Item, quantity int) {
	unlock := s.catalog.Lock(item.ID())
	defer unlock()
	order.undoAdd(item, quantity)
	s.release(ctx, item, quantity)
}

// release puts quantity units of item back into the store and syncs the
// catalog copy. Callers hold the catalog lock for item. A failed release
// leaves the units unavailable until stock is corrected; it never lets them
// be sold twice.
func (s *Service) release(ctx context.Context, item *inventory.Item, quantity int) {
	level, err := s.items.Release(ctx, item.ID(), quantity)
	if err != nil {
		s.logger.Error("release stock",
			zap.Int("item_id", item.ID()),
			zap.Int("units", quantity),
			zap.Error(err),
		)
		return
	}
	item.SyncStock(level.Stock, level.Version)
}

func (s *Service) item(ctx context.Context, id int) (*inventory.Item, error) {
	item, err := s.catalog.GetOrLoad(ctx, id, s.items)
	if errors.Is(err, inventory.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrItemNotFound, id)
	}
	return item, err
}

func (s *Service) lookup(id int) *Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live[id]
}

// remember caches o unless another goroutine got there first, and returns
// the cached instance.
func (s *Service) remember(o *Order) *Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.live[o.ID()]; ok {
		return existing
	}
	s.live[o.ID()] = o
	return o
}

// dropOnConflict evicts the cached order when the store holds a newer
// revision, so the next call rebuilds it.
func (s *Service) dropOnConflict(id int, err error) {
	if !errors.Is(err, ErrStatusMismatch) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.live, id)
}

func (s *Service) publish(ctx context.Context, typ EventType, order *Order) {
	ev := NewEvent(typ, order.Snapshot(), s.nowFunc())
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Error("publish event",
			zap.String("event_type", string(typ)),
			zap.Int("order_id", order.ID()),
			zap.Error(err),
		)
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
