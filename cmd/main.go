// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/absmach/gaterush/booking"
	"github.com/absmach/gaterush/bus"
	"github.com/absmach/gaterush/config"
	"github.com/absmach/gaterush/otel"
	"github.com/absmach/gaterush/overlay"
	"github.com/absmach/gaterush/queue"
	"github.com/absmach/gaterush/reconcile"
	"github.com/absmach/gaterush/rest"
	"github.com/absmach/gaterush/session"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

func main() {
	configFile := flag.String("config", "", "Path to configuration file")
	concertSE := flag.Int64("concert", 0, "Concert identifier to join")
	userSE := flag.Int64("user", 0, "Participant identifier")
	seatList := flag.String("seats", "", "Comma-separated seat numbers to book after admission")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	if *concertSE == 0 || *userSE == 0 {
		slog.Error("Both -concert and -user are required")
		os.Exit(1)
	}

	slog.Info("Starting on-sale client",
		"backend", cfg.Backend.BaseURL,
		"concert_se", *concertSE,
		"user_se", *userSE,
		"stream_transport", cfg.Backend.StreamTransport,
		"log_level", cfg.Log.Level)

	otelShutdown, err := otel.InitProvider(cfg.Otel, uuid.NewString())
	if err != nil {
		slog.Error("Failed to initialize OpenTelemetry", "error", err)
		os.Exit(1)
	}
	var metrics *otel.Metrics
	if cfg.Otel.Enabled {
		metrics, err = otel.NewMetrics()
		if err != nil {
			slog.Error("Failed to create metrics", "error", err)
			os.Exit(1)
		}
		slog.Info("OpenTelemetry initialized", "endpoint", cfg.Otel.Endpoint)
	}

	client, err := rest.New(cfg.Backend.BaseURL, cfg.Backend.Timeout, logger)
	if err != nil {
		slog.Error("Failed to create backend client", "error", err)
		os.Exit(1)
	}

	var mailbox session.Mailbox
	switch cfg.Session.Store {
	case "redis":
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Session.RedisAddr,
			Password: cfg.Session.RedisPassword,
			DB:       cfg.Session.RedisDB,
		})
		defer rdb.Close()
		mailbox = session.NewRedis(rdb, cfg.Session.KeyPrefix, cfg.Session.MarkerTTL)
		slog.Info("Using Redis session store", "addr", cfg.Session.RedisAddr)
	default:
		mailbox = session.NewMemory()
		slog.Info("Using in-memory session store")
	}

	nb := bus.New(logger)
	nb.Subscribe(bus.TopicInventoryChanged, func(ev bus.Event) {
		if p, ok := ev.Payload.(bus.InventoryChanged); ok {
			slog.Info("Inventory changed",
				"concert_se", p.ConcertSE,
				"booked", p.Booked,
				"available", p.Available)
			if metrics != nil {
				metrics.RecordInventoryChange()
			}
		}
	})
	nb.Subscribe(bus.TopicBookingCompleted, func(ev bus.Event) {
		if p, ok := ev.Payload.(bus.BookingCompleted); ok {
			slog.Info("Booking completed", "concert_se", p.ConcertSE, "seats", p.SeatNumbers)
		}
	})

	ov := overlay.New(cfg.Reconcile.CommitTTL)
	supervisor := reconcile.New(reconcile.Config{
		ConcertSE: *concertSE,
		Interval:  cfg.Reconcile.Interval,
		Backoff:   cfg.Reconcile.Backoff,
	}, client, ov, nb, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := supervisor.Start(ctx); err != nil {
		slog.Error("Failed to start reconciliation", "error", err)
		os.Exit(1)
	}
	defer supervisor.Stop()

	dial := client.DialStream
	if cfg.Backend.StreamTransport == "ws" {
		dial = client.DialStreamWS
	}

	opts := queue.NewOptions().
		SetEnqueuer(client).
		SetDial(dial).
		SetReconnectDelay(cfg.Queue.ReconnectDelay).
		SetMaxReconnectAttempts(cfg.Queue.MaxReconnectAttempts).
		SetGraceDelay(cfg.Queue.GraceDelay).
		SetDequeueRatePerMinute(cfg.Queue.DequeueRatePerMinute).
		SetLogger(logger).
		SetOnStateChange(func(s queue.State) {
			slog.Info("Queue position",
				"rank", s.Rank,
				"total", s.Total,
				"status", s.Status.String())
		})

	qc, err := queue.Join(ctx, opts, *concertSE, *userSE)
	if err != nil {
		slog.Error("Failed to join admission queue", "error", err)
		os.Exit(1)
	}
	defer qc.Close()

	if metrics != nil {
		metrics.RecordJoin(qc.State().Rank)
	}
	if wait := qc.EstimatedWait(); wait > 0 {
		slog.Info("Joined admission queue",
			"rank", qc.State().Rank,
			"estimated_wait", wait.String())
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-qc.Admitted():
		slog.Info("Admitted through the queue")
		if metrics != nil {
			metrics.RecordAdmission()
		}
	case sig := <-sigChan:
		slog.Info("Received shutdown signal while waiting", "signal", sig)
		shutdown(otelShutdown)
		return
	}

	seats := splitSeats(*seatList)
	if len(seats) == 0 {
		slog.Info("No seats requested, exiting after admission")
		shutdown(otelShutdown)
		return
	}

	flow := booking.New(client, ov, nb, mailbox, supervisor, logger)
	start := time.Now()
	err = flow.Book(ctx, *userSE, *concertSE, seats)
	if metrics != nil {
		outcome := "success"
		booked := len(seats)
		if err != nil {
			outcome = "failure"
			var partial *booking.PartialError
			if errors.As(err, &partial) {
				booked = len(partial.Booked)
			} else {
				booked = 0
			}
		}
		metrics.RecordBooking(outcome, booked, float64(time.Since(start).Milliseconds()))
	}
	if err != nil {
		var partial *booking.PartialError
		if errors.As(err, &partial) {
			slog.Error("Booking stopped mid-selection",
				"failed_seat", partial.FailedSeat,
				"booked", partial.Booked,
				"remaining", partial.Remaining,
				"error", partial.Err)
		} else {
			slog.Error("Booking failed", "error", err)
		}
		shutdown(otelShutdown)
		os.Exit(1)
	}

	marker, ok, err := mailbox.TakeAndClear(ctx, session.DefaultKey)
	if err != nil {
		slog.Warn("Failed to read booking marker", "error", err)
	} else if ok && marker.ConcertID != *concertSE {
		slog.Debug("Discarding booking marker for another concert", "concert_se", marker.ConcertID)
	} else if ok {
		slog.Info("Booking confirmed",
			"concert_se", marker.ConcertID,
			"seats", marker.BookedSeats,
			"at", marker.Timestamp.Format(time.RFC3339))
	}

	if avail, known := supervisor.Availability(); known {
		slog.Info("Current availability", "concert_se", *concertSE, "available", avail)
	}

	shutdown(otelShutdown)
	slog.Info("On-sale client stopped")
}

func splitSeats(list string) []string {
	var seats []string
	for _, s := range strings.Split(list, ",") {
		if s = strings.TrimSpace(s); s != "" {
			seats = append(seats, s)
		}
	}
	return seats
}

func shutdown(otelShutdown func(context.Context) error) {
	if otelShutdown == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := otelShutdown(ctx); err != nil {
		slog.Error("Failed to shutdown OpenTelemetry", "error", err)
	}
}
