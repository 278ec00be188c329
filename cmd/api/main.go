package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/imrishuroy/grocery-orderflow/internal/auth"
	"github.com/imrishuroy/grocery-orderflow/internal/aws"
	"github.com/imrishuroy/grocery-orderflow/internal/cart"
	"github.com/imrishuroy/grocery-orderflow/internal/catalog"
	"github.com/imrishuroy/grocery-orderflow/internal/config"
	"github.com/imrishuroy/grocery-orderflow/internal/handlers"
	"github.com/imrishuroy/grocery-orderflow/internal/idempotency"
	"github.com/imrishuroy/grocery-orderflow/internal/inventory"
	"github.com/imrishuroy/grocery-orderflow/internal/logging"
	"github.com/imrishuroy/grocery-orderflow/internal/metrics"
	"github.com/imrishuroy/grocery-orderflow/internal/orders"
	"github.com/imrishuroy/grocery-orderflow/internal/payment"
)

const serviceName = "orders-api"

func setupRouter(cfg handlers.HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), logging.RequestLogger(), metrics.PrometheusMiddleware(serviceName))

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", metrics.Handler())

	handlers.RegisterRoutes(r, cfg)

	return r
}

func newCatalog(ctx context.Context, cfg config.Config, clients *aws.AWSClients) (catalog.Store, func(), error) {
	switch cfg.CatalogBackend {
	case config.CatalogPostgres:
		db, err := catalog.OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := catalog.RunMigrations(db); err != nil {
			db.Close()
			return nil, nil, err
		}
		return catalog.NewPostgresStore(db), func() { db.Close() }, nil
	case config.CatalogMemory:
		return catalog.NewMemoryStore(), func() {}, nil
	default:
		return catalog.NewDynamoStore(clients.DynamoDB, cfg.ProductsTable), func() {}, nil
	}
}

func newCartStore(ctx context.Context, cfg config.Config) (cart.Store, func()) {
	if cfg.RedisAddr == "" {
		log.Warn("REDIS_ADDR not set, carts are kept in memory")
		return cart.NewMemoryStore(), func() {}
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		log.WithError(err).WithField("addr", cfg.RedisAddr).Warn("redis ping failed, carts will error until it is reachable")
	}
	return cart.NewRedisStore(client, cfg.CartTTL), func() { client.Close() }
}

func newGateway(cfg config.Config) payment.Gateway {
	if cfg.PaymentFake {
		log.Warn("using fake payment gateway")
		return payment.NewFakeGateway("http://localhost" + cfg.Addr())
	}
	return payment.NewHTTPGateway(payment.ClientConfig{
		BaseURL: cfg.PaymentGatewayURL,
		APIKey:  cfg.PaymentGatewayKey,
	})
}

func newPublisher(cfg config.Config, clients *aws.AWSClients) orders.EventPublisher {
	if cfg.OrdersQueueURL == "" {
		log.Warn("ORDERS_QUEUE_URL not set, order events are dropped")
		return orders.NopPublisher{}
	}
	return aws.NewPublisher(clients.SQS, cfg.OrdersQueueURL)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()
	clients, err := aws.NewAWSClients(ctx, aws.Options{Region: cfg.AWSRegion, Endpoint: cfg.AWSEndpointOverride})
	if err != nil {
		log.Fatalf("failed to init aws clients: %v", err)
	}

	products, closeCatalog, err := newCatalog(ctx, cfg, clients)
	if err != nil {
		log.Fatalf("failed to init catalog: %v", err)
	}
	defer closeCatalog()
	cartStore, closeCarts := newCartStore(ctx, cfg)
	defer closeCarts()

	idemStore := idempotency.NewStore(clients.DynamoDB, cfg.IdempotencyTable, cfg.IdempotencyTTL)
	orderStore := orders.NewDynamoStore(clients.DynamoDB, cfg.OrdersTable, idemStore)
	ledger := inventory.NewLedger(products, aws.NewMetricEmitter(clients.CloudWatch, cfg.CloudWatchNamespace))
	publisher := newPublisher(cfg, clients)
	resolver := cart.NewResolver(products)
	carts := cart.NewService(cartStore, products)

	jwtSecret := cfg.JWTSecret
	if jwtSecret == "" {
		log.Warn("JWT_SECRET not set, using an insecure local secret")
		jwtSecret = "local-dev-secret"
	}

	r := setupRouter(handlers.HandlerConfig{
		Verifier: auth.NewVerifier(jwtSecret),
		Orders:   orders.NewService(orderStore, orders.NewMachine(orderStore, ledger, publisher), resolver),
		Payments: payment.NewCoordinator(payment.Deps{
			Orders:      orderStore,
			Resolver:    resolver,
			Gateway:     newGateway(cfg),
			Idempotency: idemStore,
			Carts:       carts,
			Events:      publisher,
		}, payment.Options{
			Currency:   cfg.PaymentCurrency,
			SuccessURL: cfg.PaymentSuccessURL,
			CancelURL:  cfg.PaymentCancelURL,
			Shipping:   cfg.ShippingFee,
		}),
		Carts:   carts,
		Catalog: products,
		Ledger:  ledger,
	})

	// if environment variable RUN_LOCAL is set to "true", run local HTTP server for development.
	if cfg.RunLocal {
		serveLocal(r, cfg.Addr())
		return
	}

	adapter := ginadapter.New(r)
	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}

func serveLocal(r *gin.Engine, addr string) {
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.WithField("addr", addr).Info("running local server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("failed to run local server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("forced shutdown")
	}
}
