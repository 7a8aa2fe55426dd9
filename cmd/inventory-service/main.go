package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lovepreet-singh-code/Ecommerce-Backend/internal/inventory"
	"github.com/lovepreet-singh-code/Ecommerce-Backend/pkg/eventbus"
	"github.com/lovepreet-singh-code/Ecommerce-Backend/pkg/events"
	"github.com/lovepreet-singh-code/Ecommerce-Backend/pkg/metrics"
)

const serviceName = "inventory_service"

type cfg struct {
	Port         string
	DatabaseURL  string
	KafkaBrokers string
	GroupID      string
}

func readCfg() (cfg, error) {
	port := getenv("PORT", "8080")
	db := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if db == "" {
		return cfg{}, errors.New("DATABASE_URL is required")
	}
	return cfg{
		Port:         port,
		DatabaseURL:  db,
		KafkaBrokers: getenv("KAFKA_BROKERS", ""),
		GroupID:      getenv("KAFKA_GROUP_ID", "inventory-service"),
	}, nil
}

func main() {
	cfg, err := readCfg()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := pgxpool.New(connectCtx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect error: %v", err)
	}
	defer pool.Close()
	if err := pool.Ping(connectCtx); err != nil {
		log.Fatalf("db ping error: %v", err)
	}

	srvMetrics := metrics.NewServerMetrics(serviceName)
	evtMetrics := metrics.NewEventMetrics(serviceName)

	store := &inventory.PGStore{Pool: pool}
	ledger := &inventory.PGLedger{Pool: pool}

	busClient := eventbus.NewClient(cfg.KafkaBrokers)
	if busClient.Enabled() {
		producer := eventbus.NewProducer(eventbus.ProducerConfig{Client: busClient, Metrics: evtMetrics})
		defer producer.Close()

		sagaConsumer := &inventory.Consumer{
			Service:   serviceName,
			Store:     store,
			Ledger:    ledger,
			Publisher: producer,
		}
		consumer := eventbus.NewConsumer(eventbus.ConsumerConfig{
			Client:  busClient,
			Service: serviceName,
			GroupID: cfg.GroupID,
			DLQ:     producer,
			Metrics: evtMetrics,
		})
		defer consumer.Close()
		consumer.Subscribe(ctx, events.TopicOrderCreated, sagaConsumer.HandleOrderCreated)
	} else {
		log.Print("KAFKA_BROKERS empty, event bus disabled")
	}

	mux := http.NewServeMux()
	httpHandler := &inventory.HTTPHandler{Store: store, Ledger: ledger, Metrics: srvMetrics}
	httpHandler.Register(mux)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"db_error"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("inventory-service listening on :%s", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("http server error: %v", err)
	}
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}
