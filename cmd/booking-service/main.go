package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-booking/internal/booking"
	"ms-booking/internal/booking/booking_api"
	bookingdb "ms-booking/internal/booking/db"
	"ms-booking/internal/config"
	"ms-booking/internal/database/migrations"
	"ms-booking/internal/kafka"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"
	"ms-booking/internal/payment"
	"ms-booking/internal/seatmap"
	seatredis "ms-booking/internal/seatmap/redis"
	"ms-booking/internal/showing"
	"ms-booking/internal/tickets"
	ticketdb "ms-booking/internal/tickets/db"
)

func main() {
	_ = godotenv.Load()

	log := logger.NewLogger()
	defer log.Close()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Postgres ---
	sqldb, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to open Postgres: %v", err))
	}
	defer sqldb.Close()
	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)

	if err := sqldb.Ping(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to Postgres: %v", err))
	}
	bunDB := bun.NewDB(sqldb, pgdialect.New())

	runner := migrations.NewRunner(bunDB, migrations.DefaultOptions())
	if err := runner.Up(); err != nil {
		// No migrations directory in dev checkouts; bootstrap the schema directly.
		log.Warn("DATABASE", fmt.Sprintf("Migration runner failed (%v), bootstrapping schema from models", err))
		bookingdb.Migrate(bunDB)
	}

	// --- Redis ---
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal("REDIS", fmt.Sprintf("Failed to connect to Redis: %v", err))
	}

	// --- Kafka ---
	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		topics := []string{cfg.Kafka.Topics.BookingCreated, cfg.Kafka.Topics.BookingConfirmed}
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, topics); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic bootstrap failed: %v", err))
		}
		producer = kafka.NewProducer(cfg.Kafka.Brokers)
		defer producer.Close()
	} else {
		log.Warn("KAFKA", "Kafka disabled, booking events will not be published")
	}

	// --- Stripe ---
	gateway, err := payment.NewStripeGateway(cfg.Stripe, log)
	if err != nil {
		log.Fatal("STRIPE", fmt.Sprintf("Failed to initialize Stripe gateway: %v", err))
	}

	// --- Core wiring ---
	seats := seatmap.NewStore(bunDB)
	holdCache := seatredis.NewHoldCache(redisClient)
	registry := showing.NewRegistry(bunDB, log)
	dbLayer := bookingdb.New(bunDB, seats)

	var publisher booking.Publisher
	if producer != nil {
		publisher = producer
	}
	bookingSvc := booking.NewService(dbLayer, seats, holdCache, registry, gateway,
		publisher, cfg.Kafka.Topics, cfg.Booking, cfg.Stripe.Currency, log)

	ticketSvc := tickets.NewService(&ticketdb.DB{Bun: bunDB}, dbLayer, log)

	sweeper := booking.NewSweeper(dbLayer, seats, holdCache,
		cfg.Booking.SweepInterval, cfg.Booking.SweepBatchSize, log)
	go sweeper.Run(ctx)

	if cfg.Kafka.Enabled {
		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topics.BookingConfirmed, cfg.Kafka.GroupID, log)
		defer consumer.Close()
		go consumer.Start(ctx, func(event models.BookingEvent) {
			if err := ticketSvc.IssueForBooking(ctx, event); err != nil {
				log.Error("TICKETS", fmt.Sprintf("Ticket issue for booking %s failed: %v", event.BookingID, err))
			}
		})
	}

	handler := booking_api.NewHandler(bookingSvc, registry, seats, ticketSvc, gateway, log)

	// --- Router ---
	r := chi.NewRouter()
	r.Get("/health", handler.Health)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/showings", handler.CreateShowing)
		r.Get("/showings", handler.ListShowings)
		r.Get("/showings/{showingId}", handler.GetShowing)
		r.Get("/showings/{showingId}/seats", handler.GetSeats)
		r.Post("/bookings", handler.CreateBooking)
		r.Get("/bookings/{bookingId}", handler.GetBooking)
		r.Get("/bookings/{bookingId}/tickets", handler.GetTickets)
		r.Post("/payments/webhook", handler.StripeWebhook)
	})

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("SERVER", fmt.Sprintf("Booking service listening on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("SERVER", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("SERVER", "Shutdown signal received")
	cancel()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Fatal("SERVER", fmt.Sprintf("Forced shutdown: %v", err))
	}
	log.Info("SERVER", "Server exited gracefully")
}
