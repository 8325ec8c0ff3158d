package metrics

import (
	"context"
	"strconv"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-clothing-orderflow/internal/aws"
)

// CloudWatch sends one datum per call. Send failures are logged and dropped
// so metrics never fail an order operation.
type CloudWatch struct {
	client    aws.CloudWatchAPI
	namespace string
	logger    *zap.Logger
	nowFunc   func() time.Time
}

func NewCloudWatch(client aws.CloudWatchAPI, namespace string, logger *zap.Logger) *CloudWatch {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CloudWatch{
		client:    client,
		namespace: namespace,
		logger:    logger,
		nowFunc:   time.Now,
	}
}

func (c *CloudWatch) OrderStatusChanged(ctx context.Context, status string) {
	c.put(ctx, "OrderStatusChanges", 1, cwtypes.StandardUnitCount, "Status", status)
}

func (c *CloudWatch) StockRejected(ctx context.Context, itemID int) {
	c.put(ctx, "StockRejections", 1, cwtypes.StandardUnitCount, "ItemId", strconv.Itoa(itemID))
}

func (c *CloudWatch) UnitsReserved(ctx context.Context, units int) {
	c.put(ctx, "UnitsReserved", float64(units), cwtypes.StandardUnitCount, "", "")
}

func (c *CloudWatch) put(ctx context.Context, name string, value float64, unit cwtypes.StandardUnit, dimName, dimValue string) {
	datum := cwtypes.MetricDatum{
		MetricName: sdkaws.String(name),
		Value:      sdkaws.Float64(value),
		Unit:       unit,
		Timestamp:  sdkaws.Time(c.nowFunc()),
	}
	if dimName != "" {
		datum.Dimensions = []cwtypes.Dimension{{Name: sdkaws.String(dimName), Value: sdkaws.String(dimValue)}}
	}
	_, err := c.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  sdkaws.String(c.namespace),
		MetricData: []cwtypes.MetricDatum{datum},
	})
	if err != nil {
		c.logger.Warn("put metric data", zap.String("metric", name), zap.Error(err))
	}
}
