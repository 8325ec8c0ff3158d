package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-clothing-orderflow/internal/aws"
	"github.com/imrishuroy/go-clothing-orderflow/internal/config"
	"github.com/imrishuroy/go-clothing-orderflow/internal/customers"
	"github.com/imrishuroy/go-clothing-orderflow/internal/handlers"
	"github.com/imrishuroy/go-clothing-orderflow/internal/idempotency"
	"github.com/imrishuroy/go-clothing-orderflow/internal/inventory"
	"github.com/imrishuroy/go-clothing-orderflow/internal/metrics"
	"github.com/imrishuroy/go-clothing-orderflow/internal/observability"
	"github.com/imrishuroy/go-clothing-orderflow/internal/orders"
)

const serviceName = "clothing-orderflow-api"

type routerConfig struct {
	orders  handlers.HandlerConfig
	catalog handlers.CatalogConfig
	metrics http.Handler
	logger  *zap.Logger
}

func setupRouter(cfg routerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), handlers.Correlation(), handlers.AccessLog(cfg.logger))

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.metrics))
	}

	handlers.RegisterOrdersRoutes(r, cfg.orders)
	handlers.RegisterCatalogRoutes(r, cfg.catalog)

	return r
}

func newRecorder(cfg *config.Config, clients *aws.AWSClients, logger *zap.Logger) (orders.MetricsRecorder, http.Handler) {
	switch cfg.MetricsBackend {
	case metrics.BackendPrometheus:
		p := metrics.NewPrometheus(cfg.MetricsNamespace)
		return p, p.Handler()
	case metrics.BackendCloudWatch:
		return metrics.NewCloudWatch(clients.CloudWatch, cfg.MetricsNamespace, logger), nil
	default:
		return metrics.Nop{}, nil
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	shutdownTracing, err := observability.SetupTracing(ctx, serviceName, cfg.OTELEndpoint)
	if err != nil {
		logger.Fatal("failed to init tracing", zap.Error(err))
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracing shutdown", zap.Error(err))
		}
	}()

	clients, err := aws.NewAWSClients(ctx)
	if err != nil {
		logger.Fatal("failed to init aws clients", zap.Error(err))
	}

	itemStore := inventory.NewStore(clients.DynamoDB, cfg.ItemsTable)
	customerStore := customers.NewStore(clients.DynamoDB, cfg.CustomersTable)
	idempStore := idempotency.NewStore(clients.DynamoDB, cfg.IdempotencyTable, cfg.IdempotencyTTL)
	catalog := inventory.NewCatalog()
	recorder, metricsHandler := newRecorder(cfg, clients, logger)

	svc := orders.NewService(
		orders.NewStore(clients.DynamoDB, cfg.OrdersTable),
		itemStore,
		customerStore,
		catalog,
		orders.WithIdempotency(idempStore),
		orders.WithPublisher(orders.NewSQSEventPublisher(aws.NewPublisher(clients.SQS, cfg.QueueURL))),
		orders.WithMetrics(recorder),
		orders.WithLogger(logger.Named("orders")),
		orders.WithTracer(otel.Tracer(serviceName)),
	)

	r := setupRouter(routerConfig{
		orders: handlers.HandlerConfig{
			Orders:      svc,
			Idempotency: idempStore,
			Logger:      logger,
		},
		catalog: handlers.CatalogConfig{
			Catalog:   catalog,
			Items:     itemStore,
			Customers: customerStore,
			Logger:    logger,
		},
		metrics: metricsHandler,
		logger:  logger,
	})

	// if environment variable RUN_LOCAL is set to "true", run local HTTP server for development.
	if cfg.RunLocal {
		logger.Info("running local server", zap.String("addr", cfg.HTTPAddr))
		if err := r.Run(cfg.HTTPAddr); err != nil {
			logger.Fatal("failed to run local server", zap.Error(err))
		}
		return
	}

	// lambda adapter
	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (interface{}, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}
