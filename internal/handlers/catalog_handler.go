package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-clothing-orderflow/internal/customers"
	"github.com/imrishuroy/go-clothing-orderflow/internal/inventory"
	"github.com/imrishuroy/go-clothing-orderflow/internal/orders"
)

// CustomerFinder loads customers. A miss is (nil, nil).
type CustomerFinder interface {
	Get(ctx context.Context, id int) (*customers.Customer, error)
	List(ctx context.Context) ([]*customers.Customer, error)
}

// CatalogConfig groups dependencies for the item and customer routes.
type CatalogConfig struct {
	// Catalog is the same instance the order service reserves from. Stock is
	// re-read from Items on every request.
	Catalog   *inventory.Catalog
	Items     inventory.Loader
	Customers CustomerFinder
	Logger    *zap.Logger
}

// RegisterCatalogRoutes registers read-only item and customer routes.
func RegisterCatalogRoutes(r gin.IRouter, cfg CatalogConfig) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r.GET("/items/:id", func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		item, err := cfg.Catalog.Refresh(c.Request.Context(), id, cfg.Items)
		if err != nil {
			writeError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, newItemView(item))
	})

	r.GET("/customers", func(c *gin.Context) {
		all, err := cfg.Customers.List(c.Request.Context())
		if err != nil {
			writeError(c, logger, err)
			return
		}
		out := make([]customerView, 0, len(all))
		for _, customer := range all {
			out = append(out, newCustomerView(customer))
		}
		c.JSON(http.StatusOK, out)
	})

	r.GET("/customers/:id", func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		customer, err := cfg.Customers.Get(c.Request.Context(), id)
		if err != nil {
			writeError(c, logger, err)
			return
		}
		if customer == nil {
			writeError(c, logger, fmt.Errorf("%w: %d", orders.ErrCustomerNotFound, id))
			return
		}
		c.JSON(http.StatusOK, newCustomerView(customer))
	})
}
