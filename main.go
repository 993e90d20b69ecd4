package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"

	"storefront/internal/chat"
	"storefront/internal/checkout"
	"storefront/internal/config"
	"storefront/internal/currency"
	"storefront/internal/database"
	"storefront/internal/events"
	"storefront/internal/handlers"
	"storefront/internal/middleware"
	"storefront/internal/models"
	"storefront/internal/notify"
	"storefront/internal/orders"
	"storefront/internal/outbox"
	"storefront/internal/payments"
	"storefront/internal/settings"
	"storefront/internal/shipping"
)

type app struct {
	cfg       config.Config
	db        *mongo.Database
	products  *database.ProductRepo
	users     *database.UserRepo
	settings  *settings.Service
	checkout  *checkout.Service
	orders    *orders.Service
	shipping  *shipping.Orchestrator
	stripe    *payments.StripeClient
	paypal    *payments.PayPalClient
	crypto    *payments.NowPaymentsClient
	assistant *chat.Assistant
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	client, err := database.Connect(cfg.MongoURI)
	if err != nil {
		log.Fatal(err)
	}
	db := client.Database(cfg.DBName)
	log.Println("MongoDB connected to:", db.Name())

	if err := database.EnsureIndexes(db); err != nil {
		log.Printf("[BOOT] [WARN] index setup: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	productRepo := database.NewProductRepo(db)
	userRepo := database.NewUserRepo(db)
	orderRepo := database.NewOrderRepo(db)
	outboxRepo := database.NewOutboxRepo(db)

	settingsSvc := settings.NewService(database.NewAppConfigRepo(db))
	fx := currency.NewConverter(database.NewFxRateRepo(db), cfg.FXAPIURL)

	stripe := payments.NewStripeClient(cfg.StripeSecretKey, cfg.StripeWebhookSecret, cfg.StripeAPIURL)
	paypal := payments.NewPayPalClient(cfg.PayPalClientID, cfg.PayPalClientSecret, cfg.PayPalAPIURL)
	crypto := payments.NewNowPaymentsClient(cfg.NowPaymentsAPIKey, cfg.NowPaymentsIPNSecret, cfg.NowPaymentsAPIURL)

	snapshots := database.NewSnapshotRepo(db)
	checkoutSvc := checkout.NewService(productRepo, snapshots, fx, settingsSvc, cfg.PublicBaseURL, stripe, paypal, crypto)
	orderSvc := orders.NewService(orderRepo, snapshots, productRepo, userRepo, database.NewCounterRepo(db), fx)

	shippo := shipping.NewShippoClient(cfg.ShippoAPIKey, cfg.ShippoAPIURL, cfg.ShippoCarrierAccount, cfg.ShippoProvider)
	canadaPost := shipping.NewCanadaPostClient(cfg.CanadaPostUsername, cfg.CanadaPostPassword, cfg.CanadaPostCustomerNumber, cfg.CanadaPostAPIURL)
	orchestrator := shipping.NewOrchestrator(orderSvc, database.NewShipmentRepo(db), productRepo, settingsSvc, fx, shippo, shippo, canadaPost)

	publisher := events.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, log.Printf)
	dispatcher := outbox.NewDispatcher(
		outboxRepo,
		orderRepo,
		notify.NewResendClient(cfg.ResendAPIKey, cfg.EmailFrom, cfg.ResendAPIURL),
		notify.NewAffiliateClient(cfg.AffiliateWebhookURL),
		publisher,
		cfg.OutboxPollInterval,
		log.Printf,
	)
	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("[OUTBOX] [ERROR] dispatcher stopped: %v", err)
		}
	}()

	a := &app{
		cfg:       cfg,
		db:        db,
		products:  productRepo,
		users:     userRepo,
		settings:  settingsSvc,
		checkout:  checkoutSvc,
		orders:    orderSvc,
		shipping:  orchestrator,
		stripe:    stripe,
		paypal:    paypal,
		crypto:    crypto,
		assistant: chat.NewAssistant(cfg.OpenAIAPIKey, cfg.OpenAIAPIURL, cfg.OpenAIModel, settingsSvc),
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("[BOOT] listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[BOOT] server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("[BOOT] shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[BOOT] [ERROR] http shutdown: %v", err)
	}
	<-dispatcherDone
	if err := publisher.Close(); err != nil {
		log.Printf("[BOOT] [ERROR] kafka writer close: %v", err)
	}
	if err := client.Disconnect(shutdownCtx); err != nil {
		log.Printf("[BOOT] [ERROR] mongo disconnect: %v", err)
	}
}

func (a *app) router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery(), middleware.CorrelationID())

	secret := a.cfg.JWTSecret
	ttl := a.cfg.AccessTokenTTL

	r.GET("/healthz", handlers.Health(func(ctx context.Context) error { return database.Ping(ctx, a.db) }))
	r.GET("/files/:filename", handlers.ServeFile(a.cfg.UploadsDir))

	r.POST("/api/auth/register", handlers.Register(a.users, secret, ttl))
	r.POST("/api/auth/login", handlers.Login(a.users, secret, ttl))
	r.GET("/api/me", middleware.UserAuth(secret), handlers.GetMe(a.users))
	r.GET("/api/orders", middleware.UserAuth(secret), handlers.GetMyOrders(a.orders))
	r.POST("/admin/login", handlers.AdminLogin(a.users, secret, ttl))

	r.GET("/api/products", handlers.GetProducts(a.products))
	r.GET("/api/products/:slug", handlers.GetProductBySlug(a.products))
	r.POST("/api/support/chat", handlers.SupportChat(a.assistant))

	buyer := r.Group("/api/checkout")
	buyer.Use(middleware.OptionalUserAuth(secret))
	{
		buyer.POST("/quote", handlers.QuoteCart(a.checkout))
		buyer.POST("/stripe", handlers.Checkout(a.checkout, models.PaymentMethodStripe))
		buyer.POST("/paypal", handlers.Checkout(a.checkout, models.PaymentMethodPayPal))
		buyer.POST("/crypto", handlers.Checkout(a.checkout, models.PaymentMethodCrypto))
	}

	r.POST("/api/webhooks/stripe", handlers.StripeWebhook(a.stripe, a.orders))
	r.GET("/api/paypal/capture", handlers.PayPalCapture(a.paypal, a.orders))
	r.POST("/api/webhooks/nowpayments", handlers.NowPaymentsWebhook(a.crypto, a.orders))

	admin := r.Group("/admin/api")
	admin.Use(middleware.AdminAuth(secret))
	{
		admin.GET("/me", handlers.GetMe(a.users))

		admin.GET("/orders", handlers.GetOrders(a.orders))
		admin.POST("/orders", handlers.CreateOrder(a.orders, a.shipping))
		admin.GET("/orders/:id", handlers.GetOrder(a.orders))
		admin.PATCH("/orders/:id", handlers.UpdateOrder(a.orders))
		admin.DELETE("/orders/:id", handlers.DeleteOrder(a.orders))

		admin.POST("/shipping/rates", handlers.QuoteShippingRates(a.shipping))
		admin.POST("/orders/:id/label", handlers.CreateLabel(a.shipping))
		admin.GET("/orders/:id/shipments", handlers.ListShipments(a.shipping))
		admin.POST("/shipments/:id/cancel", handlers.CancelShipment(a.shipping))
		admin.GET("/shipments/:id/tracking", handlers.TrackShipment(a.shipping))

		admin.GET("/products", handlers.GetAllProducts(a.products))
		admin.POST("/products", handlers.CreateProduct(a.products))
		admin.PATCH("/products/:id", handlers.UpdateProduct(a.products))
		admin.DELETE("/products/:id", handlers.DeleteProduct(a.products))

		admin.GET("/users", handlers.GetUsers(a.users))
		admin.POST("/users", handlers.CreateUser(a.users))
		admin.PATCH("/users/:id", handlers.UpdateUser(a.users))

		admin.GET("/config/:key", handlers.GetConfig(a.settings))
		admin.PUT("/config/:key", handlers.PutConfig(a.settings))

		admin.POST("/uploads", handlers.UploadFile(a.cfg.UploadsDir, a.cfg.PublicBaseURL))
		admin.DELETE("/uploads/:filename", handlers.DeleteUpload(a.cfg.UploadsDir))
	}

	return r
}
