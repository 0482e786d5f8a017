package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mpavlovic/warehouse-deliveries/internal/config"
	"github.com/mpavlovic/warehouse-deliveries/internal/delivery"
	kafkax "github.com/mpavlovic/warehouse-deliveries/internal/kafka"
	"github.com/mpavlovic/warehouse-deliveries/internal/redisx"
	"github.com/mpavlovic/warehouse-deliveries/internal/stockwatch"
)

func mustAtoi(s, def string) int {
	if s == "" {
		s = def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 1
	}
	return i
}

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Service
	svc := &stockwatch.Service{
		Redis:       rdb,
		ServiceName: cfg.ServiceName + "-stockwatch",
	}

	// Consumer over all delivery lifecycle topics
	group := getenv("STOCKWATCH_GROUP", "stockwatch-svc")
	workers := mustAtoi(os.Getenv("STOCKWATCH_WORKERS"), "8")
	topics := []string{
		delivery.TopicDeliveryCreated,
		delivery.TopicDeliveryUpdated,
		delivery.TopicDeliveryDeleted,
	}
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, topics, workers)

	go func() {
		log.Printf("stockwatch consumer started: group=%s topics=%v workers=%d", group, topics, workers)
		if err := cons.Start(ctx, svc.HandleDeliveryEvent); err != nil {
			log.Printf("consumer exit: %v", err)
			cancel()
		}
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down consumer...")
	cancel()
	time.Sleep(500 * time.Millisecond)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
