package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"golang.org/x/sync/errgroup"

	"github.com/farmstand/storefront/internal/application"
	appcatalog "github.com/farmstand/storefront/internal/application/catalog"
	appcheckout "github.com/farmstand/storefront/internal/application/checkout"
	appcontent "github.com/farmstand/storefront/internal/application/content"
	appinventory "github.com/farmstand/storefront/internal/application/inventory"
	appnotification "github.com/farmstand/storefront/internal/application/notification"
	apporder "github.com/farmstand/storefront/internal/application/order"
	apppayment "github.com/farmstand/storefront/internal/application/payment"
	appsync "github.com/farmstand/storefront/internal/application/livestocksync"
	"github.com/farmstand/storefront/internal/config"
	domcatalog "github.com/farmstand/storefront/internal/domain/catalog"
	domcustomer "github.com/farmstand/storefront/internal/domain/customer"
	dominv "github.com/farmstand/storefront/internal/domain/inventory"
	domlivestock "github.com/farmstand/storefront/internal/domain/livestock"
	domorder "github.com/farmstand/storefront/internal/domain/order"
	domoutbox "github.com/farmstand/storefront/internal/domain/outbox"
	dompayment "github.com/farmstand/storefront/internal/domain/payment"
	domsettings "github.com/farmstand/storefront/internal/domain/settings"
	"github.com/farmstand/storefront/internal/infrastructure/cache"
	"github.com/farmstand/storefront/internal/infrastructure/id"
	"github.com/farmstand/storefront/internal/infrastructure/memory"
	"github.com/farmstand/storefront/internal/infrastructure/notify"
	infraobs "github.com/farmstand/storefront/internal/infrastructure/observability"
	"github.com/farmstand/storefront/internal/infrastructure/observability/oteltrace"
	"github.com/farmstand/storefront/internal/infrastructure/observability/prometrics"
	"github.com/farmstand/storefront/internal/infrastructure/observability/zaplogger"
	"github.com/farmstand/storefront/internal/infrastructure/outbox"
	"github.com/farmstand/storefront/internal/infrastructure/photos"
	"github.com/farmstand/storefront/internal/infrastructure/postgres"
	redislock "github.com/farmstand/storefront/internal/infrastructure/redis"
	"github.com/farmstand/storefront/internal/infrastructure/stripe"
	"github.com/farmstand/storefront/internal/observability"
	httppresentation "github.com/farmstand/storefront/internal/presentation/http"
	workerpresentation "github.com/farmstand/storefront/internal/presentation/worker"
)

// stores is the storage backend selected by STORE_DRIVER.
type stores struct {
	tx           application.Transactor
	products     domcatalog.Repository
	reservations domcatalog.ReservationRepository
	orders       interface {
		domorder.Repository
		domorder.NumberSequence
	}
	customers domcustomer.Repository
	ledger    dominv.Ledger
	animals   domlivestock.Repository
	settings  domsettings.Repository
	events    dompayment.EventLog
	outbox    domoutbox.Store
	close     func()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	baseLogger := zaplogger.New(
		observability.F("service", cfg.ServiceName),
		observability.F("env", cfg.Env),
	)
	defer func() { _ = baseLogger.Sync() }()
	systemLogger := baseLogger.With(observability.F("component", "main"))

	if err := run(cfg, baseLogger, systemLogger); err != nil {
		systemLogger.Error("storefront_exit", observability.F("error", err.Error()))
		_ = baseLogger.Sync()
		os.Exit(1)
	}
}

func run(cfg config.Config, baseLogger, systemLogger observability.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	tracer, shutdownTracing, err := oteltrace.Setup(oteltrace.Config{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Env,
		Exporter:    cfg.TraceExporter,
		SampleRatio: cfg.TraceSampleRatio,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			systemLogger.Warn("tracer_shutdown_failed", observability.F("error", err.Error()))
		}
	}()
	counters, histograms := prometrics.Instruments(prometrics.New("", ""))
	tel := infraobs.New(tracer, baseLogger, counters, histograms)
	if missing := tel.Unregistered(); len(missing) > 0 {
		systemLogger.Warn("metrics_unregistered", observability.F("keys", missing))
	}

	st, err := openStores(ctx, cfg, systemLogger)
	if err != nil {
		return err
	}
	defer st.close()

	var lock dompayment.EventLock = memory.NewEventLock()
	if cfg.RedisAddr != "" {
		client, err := redislock.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()
		lock = redislock.NewEventLock(client, "storefront:webhook:", redislock.DefaultLockTTL)
		systemLogger.Info("event_lock_redis", observability.F("addr", cfg.RedisAddr))
	}

	photoStore, err := photos.NewDiskStorage(cfg.PhotoDir, cfg.PhotoBaseURL)
	if err != nil {
		return err
	}

	ids := id.NewUUIDGenerator()
	settingsCache := cache.NewSettingsCache(st.settings, cfg.SettingsCacheTTL)
	stock := appinventory.NewStockService(st.tx, st.products, st.reservations, st.ledger, st.outbox, ids, tel)

	checkout := appcheckout.NewCreateSessionUseCase(
		st.tx, stock, st.orders, st.orders, st.customers, settingsCache,
		stripe.NewGateway(cfg.StripeSecretKey), ids,
		appcheckout.Config{
			Currency:          cfg.Currency,
			BaseURL:           cfg.BaseURL,
			OrderNumberPrefix: cfg.OrderNumberPrefix,
			ReservationTTL:    cfg.ReservationTTL,
		},
		tel,
	)
	webhooks := apppayment.NewHandleWebhookUseCase(
		stripe.NewVerifier(cfg.StripeWebhookSecret), lock, st.tx, st.events, st.orders, stock, st.outbox, ids, tel,
	)
	ingest, err := appsync.NewIngestUseCase(cfg.SyncSecret, st.animals, st.products, stock, photoStore, ids, tel)
	if err != nil {
		return err
	}
	content := appcontent.NewInlineEditUseCase(st.tx, st.settings, settingsCache, st.products, stock, st.animals, tel)
	orders := apporder.NewAdminService(st.tx, st.orders, stock, tel)
	catalog := appcatalog.NewAdminService(st.tx, st.products, stock, ids, tel)
	sweeper := appinventory.NewSweeper(st.tx, st.reservations, st.orders, stock, cfg.SweepInterval, cfg.SweepGrace, tel)

	bus := outbox.NewBus(baseLogger)
	bus.Start(ctx)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		bus.Stop(stopCtx)
	}()

	dispatcher, closeDispatcher, err := openDispatcher(cfg, bus, systemLogger, tel)
	if err != nil {
		return err
	}
	defer closeDispatcher()
	if cfg.NotifySink == config.SinkBus {
		notifier := appnotification.LogNotifier{Log: baseLogger.With(observability.F("component", "notifier"))}
		appnotification.NewWorker(notifier, cfg.FarmEmail, tel).Start(workerpresentation.Subscriber(bus, baseLogger, tel))
	}
	relay := appnotification.NewRelay(st.outbox, dispatcher, appnotification.RelayConfig{
		Interval:    cfg.OutboxInterval,
		BatchSize:   cfg.OutboxBatchSize,
		MaxAttempts: cfg.OutboxMaxAttempts,
	}, tel)

	handler := httppresentation.NewHandler(httppresentation.Services{
		Checkout:     checkout,
		Webhooks:     webhooks,
		Sync:         ingest,
		Orders:       orders,
		Stock:        stock,
		Content:      content,
		Products:     st.products,
		Catalog:      catalog,
		InventoryLog: st.ledger,
	}, cfg.AdminToken, baseLogger, tel)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if base := strings.TrimRight(cfg.PhotoBaseURL, "/"); strings.HasPrefix(base, "/") {
		mux.Handle(base+"/", http.StripPrefix(base, http.FileServer(http.Dir(cfg.PhotoDir))))
	}
	mux.Handle("/", handler.Router())

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return relay.Run(gctx) })
	g.Go(func() error { return sweeper.Run(gctx) })
	g.Go(func() error {
		systemLogger.Info("http_server_start", observability.F("addr", server.Addr))
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			systemLogger.Error("http_server_error", observability.F("error", err.Error()))
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			systemLogger.Error("http_server_shutdown_error", observability.F("error", err.Error()))
			return err
		}
		systemLogger.Info("http_server_stopped")
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openStores(ctx context.Context, cfg config.Config, log observability.Logger) (*stores, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pg, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		log.Info("store_open", observability.F("driver", cfg.StoreDriver))
		r := pg.Repositories()
		return &stores{
			tx: pg, products: r.Products, reservations: r.Reservations, orders: r.Orders,
			customers: r.Customers, ledger: r.Ledger, animals: r.Animals, settings: r.Settings,
			events: r.Events, outbox: r.Outbox, close: pg.Close,
		}, nil
	default:
		mem := memory.NewStore()
		log.Warn("store_open", observability.F("driver", config.DriverMemory),
			observability.F("note", "data is lost on restart"))
		r := mem.Repositories()
		return &stores{
			tx: mem, products: r.Products, reservations: r.Reservations, orders: r.Orders,
			customers: r.Customers, ledger: r.Ledger, animals: r.Animals, settings: r.Settings,
			events: r.Events, outbox: r.Outbox, close: func() {},
		}, nil
	}
}

func openDispatcher(cfg config.Config, bus *outbox.Bus, log observability.Logger, tel observability.Observability) (appnotification.Dispatcher, func(), error) {
	switch cfg.NotifySink {
	case config.SinkKafka:
		writer := notify.NewKafkaWriter(cfg.KafkaBrokers)
		log.Info("notify_sink", observability.F("sink", cfg.NotifySink), observability.F("brokers", cfg.KafkaBrokers))
		return notify.NewKafkaDispatcher(writer, cfg.KafkaTopicPrefix, tel), func() { _ = writer.Close() }, nil
	case config.SinkRabbitMQ:
		conn, ch, err := notify.SetupConn(cfg.AMQPURL, cfg.AMQPExchange, log)
		if err != nil {
			return nil, nil, err
		}
		log.Info("notify_sink", observability.F("sink", cfg.NotifySink), observability.F("exchange", cfg.AMQPExchange))
		return notify.NewRabbitDispatcher(ch, cfg.AMQPExchange, tel), func() {
			_ = ch.Close()
			_ = conn.Close()
		}, nil
	default:
		return bus, func() {}, nil
	}
}
