package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-clothing-orderflow/internal/idempotency"
	"github.com/imrishuroy/go-clothing-orderflow/internal/orders"
	"github.com/imrishuroy/go-clothing-orderflow/internal/validation"
)

// OrderService is the part of orders.Service the API drives.
type OrderService interface {
	Create(ctx context.Context, in orders.CreateInput) (*orders.CreateResult, error)
	AddItem(ctx context.Context, orderID, itemID, quantity int) (bool, error)
	Complete(ctx context.Context, orderID int) (*orders.Order, error)
	Cancel(ctx context.Context, orderID int) (*orders.Order, error)
	Get(ctx context.Context, orderID int) (*orders.Order, error)
}

// IdempotencyStore records the outcome of POST /orders per Idempotency-Key.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (*idempotency.IdempotencyRecord, error)
	MarkDone(ctx context.Context, key, responseBody string, responseStatus int) error
	MarkFailed(ctx context.Context, key, note string) error
}

// HandlerConfig groups dependencies for the orders handler.
type HandlerConfig struct {
	Orders      OrderService
	Idempotency IdempotencyStore
	Logger      *zap.Logger
}

type ordersHandler struct {
	orders OrderService
	idemp  IdempotencyStore
	logger *zap.Logger
}

// RegisterOrdersRoutes registers routes for order API.
func RegisterOrdersRoutes(r gin.IRouter, cfg HandlerConfig) {
	h := &ordersHandler{orders: cfg.Orders, idemp: cfg.Idempotency, logger: cfg.Logger}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	v := validation.New()

	r.POST("/orders", func(c *gin.Context) { h.create(c, v) })
	r.GET("/orders/:id", h.get)
	r.POST("/orders/:id/items", func(c *gin.Context) { h.addItem(c, v) })
	r.POST("/orders/:id/complete", h.complete)
	r.POST("/orders/:id/cancel", h.cancel)
}

func (h *ordersHandler) create(c *gin.Context, v *validatorv10.Validate) {
	ctx := c.Request.Context()

	// Bind + validate request
	var req validation.CreateOrderRequest
	if err := validation.BindAndValidate(c, &req, v); err != nil {
		return
	}

	idempKey := c.GetHeader("Idempotency-Key")
	if idempKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_idempotency_key"})
		return
	}

	in := orders.CreateInput{CustomerID: req.CustomerID, IdempotencyKey: idempKey}
	for _, it := range req.Items {
		in.Lines = append(in.Lines, orders.LineInput{ItemID: it.ItemID, Quantity: it.Quantity})
	}

	res, err := h.orders.Create(ctx, in)
	if errors.Is(err, orders.ErrCreateConflict) {
		h.replay(c, idempKey, err)
		return
	}
	if err != nil {
		// no-op when the record was never written
		if mErr := h.idemp.MarkFailed(ctx, idempKey, err.Error()); mErr != nil && !errors.Is(mErr, idempotency.ErrConditionFailed) {
			h.logger.Warn("mark idempotency failed", zap.String("idempotency_key", idempKey), zap.Error(mErr))
		}
		writeError(c, h.logger, err)
		return
	}

	body, err := json.Marshal(createOrderView{Order: newOrderView(res.Order), Rejected: rejectedOrEmpty(res.Rejected)})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	if err := h.idemp.MarkDone(ctx, idempKey, string(body), http.StatusCreated); err != nil {
		h.logger.Warn("mark idempotency done", zap.String("idempotency_key", idempKey), zap.Error(err))
	}

	c.Header("Location", fmt.Sprintf("/orders/%d", res.Order.ID()))
	c.Data(http.StatusCreated, "application/json", body)
}

// replay answers a request whose Idempotency-Key was already used.
func (h *ordersHandler) replay(c *gin.Context, idempKey string, cause error) {
	rec, err := h.idemp.Get(c.Request.Context(), idempKey)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "idempotency_check_failed", "detail": err.Error()})
		return
	}
	if rec == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "transaction_failed_no_idempotency_record", "detail": cause.Error()})
		return
	}

	switch rec.Status {
	case idempotency.StatusDone:
		if rec.ResponseBody != "" && json.Valid([]byte(rec.ResponseBody)) {
			c.Data(rec.ResponseStatus, "application/json", []byte(rec.ResponseBody))
			return
		}
		c.JSON(http.StatusOK, gin.H{"order_id": rec.OrderID})
	case idempotency.StatusInProgress:
		c.JSON(http.StatusAccepted, gin.H{"message": "request already in progress", "order_id": rec.OrderID})
	case idempotency.StatusFailed:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "previous_attempt_failed", "order_id": rec.OrderID})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unknown_idempotency_status"})
	}
}

func (h *ordersHandler) get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	order, err := h.orders.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, newOrderView(order))
}

func (h *ordersHandler) addItem(c *gin.Context, v *validatorv10.Validate) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req validation.AddItemRequest
	if err := validation.BindAndValidate(c, &req, v); err != nil {
		return
	}

	ctx := c.Request.Context()
	added, err := h.orders.AddItem(ctx, id, req.ItemID, req.Quantity)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	order, err := h.orders.Get(ctx, id)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	if !added {
		c.JSON(http.StatusConflict, gin.H{"added": false, "error": "insufficient_stock", "order": newOrderView(order)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"added": true, "order": newOrderView(order)})
}

func (h *ordersHandler) complete(c *gin.Context) {
	h.transition(c, h.orders.Complete)
}

func (h *ordersHandler) cancel(c *gin.Context) {
	h.transition(c, h.orders.Cancel)
}

func (h *ordersHandler) transition(c *gin.Context, fn func(context.Context, int) (*orders.Order, error)) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	order, err := fn(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, newOrderView(order))
}

func rejectedOrEmpty(r []orders.RejectedLine) []orders.RejectedLine {
	if r == nil {
		return []orders.RejectedLine{}
	}
	return r
}
