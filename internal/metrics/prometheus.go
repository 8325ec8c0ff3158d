package metrics

import (
	"context"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus keeps counters on its own registry.
type Prometheus struct {
	registry      *prometheus.Registry
	statusChanges *prometheus.CounterVec
	rejections    *prometheus.CounterVec
	unitsReserved prometheus.Counter
}

// NewPrometheus registers the order counters under namespace.
func NewPrometheus(namespace string) *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		statusChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_status_changes_total",
			Help:      "Orders entering each status.",
		}, []string{"status"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_rejections_total",
			Help:      "Line additions refused for insufficient stock.",
		}, []string{"item_id"}),
		unitsReserved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_reserved_total",
			Help:      "Units taken from stock by order lines.",
		}),
	}
	p.registry.MustRegister(p.statusChanges, p.rejections, p.unitsReserved)
	return p
}

func (p *Prometheus) OrderStatusChanged(_ context.Context, status string) {
	p.statusChanges.WithLabelValues(status).Inc()
}

func (p *Prometheus) StockRejected(_ context.Context, itemID int) {
	p.rejections.WithLabelValues(strconv.Itoa(itemID)).Inc()
}

func (p *Prometheus) UnitsReserved(_ context.Context, units int) {
	p.unitsReserved.Add(float64(units))
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

// Registry returns the registry the counters live on.
func (p *Prometheus) Registry() *prometheus.Registry { return p.registry }
