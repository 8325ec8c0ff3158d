// Package metrics records order counters on Prometheus or CloudWatch.
package metrics

import (
	"context"
	"fmt"
)

// Backend names accepted by New.
const (
	BackendPrometheus = "prometheus"
	BackendCloudWatch = "cloudwatch"
	BackendNone       = "none"
)

// Recorder receives order counters.
type Recorder interface {
	OrderStatusChanged(ctx context.Context, status string)
	StockRejected(ctx context.Context, itemID int)
	UnitsReserved(ctx context.Context, units int)
}

// Nop discards everything.
type Nop struct{}

func (Nop) OrderStatusChanged(context.Context, string) {}
func (Nop) StockRejected(context.Context, int)         {}
func (Nop) UnitsReserved(context.Context, int)         {}

// ValidateBackend reports an error for unknown backend names.
func ValidateBackend(name string) error {
	switch name {
	case BackendPrometheus, BackendCloudWatch, BackendNone:
		return nil
	default:
		return fmt.Errorf("unknown metrics backend %q", name)
	}
}
