package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mpavlovic/warehouse-deliveries/internal/config"
	"github.com/mpavlovic/warehouse-deliveries/internal/delivery"
	"github.com/mpavlovic/warehouse-deliveries/internal/httpx"
	kafkax "github.com/mpavlovic/warehouse-deliveries/internal/kafka"
	"github.com/mpavlovic/warehouse-deliveries/internal/postgres"
	"github.com/mpavlovic/warehouse-deliveries/internal/redisx"
	"github.com/mpavlovic/warehouse-deliveries/internal/warehouse"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producers, one per delivery topic
	pub := httpx.Publishers{
		Created:  kafkax.NewProducer(cfg.KafkaBrokers, delivery.TopicDeliveryCreated, 1024),
		Updated:  kafkax.NewProducer(cfg.KafkaBrokers, delivery.TopicDeliveryUpdated, 1024),
		Deleted:  kafkax.NewProducer(cfg.KafkaBrokers, delivery.TopicDeliveryDeleted, 1024),
		Rejected: kafkax.NewProducer(cfg.KafkaBrokers, delivery.TopicStockRejected, 1024),
	}
	producers := []*kafkax.Producer{pub.Created, pub.Updated, pub.Deleted, pub.Rejected}
	for _, p := range producers {
		p.Start(ctx)
	}

	// Services & handlers
	store := delivery.NewPgStore(db)
	router := httpx.NewRouter()
	dh := &httpx.DeliveriesHandler{
		Svc:     &delivery.Service{Store: store},
		Pub:     pub,
		Redis:   rdb,
		Service: cfg.ServiceName,
	}
	dh.Register(router)
	wh := &httpx.WarehousesHandler{Svc: &warehouse.Service{Store: store}}
	wh.Register(router)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	// graceful shutdown
	go func() {
		log.Printf("HTTP listening at %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	for _, p := range producers {
		p.Close() // close inbox -> flush & close writer
	}
	cancel()
	for _, p := range producers {
		p.WaitClosed() // drain
	}
}
