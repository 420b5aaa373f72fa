// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package otel wires OpenTelemetry metrics for the on-sale client.
package otel

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds OpenTelemetry metric instruments for the on-sale client.
type Metrics struct {
	meter metric.Meter

	// Counters
	queueJoins       metric.Int64Counter
	queueReconnects  metric.Int64Counter
	queueAdmissions  metric.Int64Counter
	bookingsTotal    metric.Int64Counter
	seatsBooked      metric.Int64Counter
	inventoryFetches metric.Int64Counter
	inventoryChanges metric.Int64Counter
	commitsExpired   metric.Int64Counter

	// UpDownCounters (gauges)
	streamsActive  metric.Int64UpDownCounter
	commitsPending metric.Int64UpDownCounter

	// Histograms
	bookingDuration metric.Float64Histogram
	fetchDuration   metric.Float64Histogram
	rankAtJoin      metric.Int64Histogram
}

// NewMetrics creates a new Metrics instance with all instruments initialized.
func NewMetrics() (*Metrics, error) {
	m := &Metrics{
		meter: otel.Meter("gaterush"),
	}

	var err error

	m.queueJoins, err = m.meter.Int64Counter(
		"queue.joins.total",
		metric.WithDescription("Total admission queue joins"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create queueJoins counter: %w", err)
	}

	m.queueReconnects, err = m.meter.Int64Counter(
		"queue.reconnects.total",
		metric.WithDescription("Total rank stream reconnection attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create queueReconnects counter: %w", err)
	}

	m.queueAdmissions, err = m.meter.Int64Counter(
		"queue.admissions.total",
		metric.WithDescription("Total admissions through the queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create queueAdmissions counter: %w", err)
	}

	m.bookingsTotal, err = m.meter.Int64Counter(
		"bookings.total",
		metric.WithDescription("Total booking runs by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create bookingsTotal counter: %w", err)
	}

	m.seatsBooked, err = m.meter.Int64Counter(
		"seats.booked.total",
		metric.WithDescription("Total seats booked"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create seatsBooked counter: %w", err)
	}

	m.inventoryFetches, err = m.meter.Int64Counter(
		"inventory.fetches.total",
		metric.WithDescription("Total inventory snapshot fetches by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create inventoryFetches counter: %w", err)
	}

	m.inventoryChanges, err = m.meter.Int64Counter(
		"inventory.changes.total",
		metric.WithDescription("Total observed authoritative inventory changes"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create inventoryChanges counter: %w", err)
	}

	m.commitsExpired, err = m.meter.Int64Counter(
		"commits.expired.total",
		metric.WithDescription("Total pending commits dropped unconfirmed"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create commitsExpired counter: %w", err)
	}

	m.streamsActive, err = m.meter.Int64UpDownCounter(
		"queue.streams.active",
		metric.WithDescription("Currently open rank streams"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create streamsActive gauge: %w", err)
	}

	m.commitsPending, err = m.meter.Int64UpDownCounter(
		"overlay.commits.pending",
		metric.WithDescription("Pending commits awaiting authoritative confirmation"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create commitsPending gauge: %w", err)
	}

	m.bookingDuration, err = m.meter.Float64Histogram(
		"booking.duration.ms",
		metric.WithDescription("Booking run duration in milliseconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create bookingDuration histogram: %w", err)
	}

	m.fetchDuration, err = m.meter.Float64Histogram(
		"inventory.fetch.duration.ms",
		metric.WithDescription("Inventory snapshot fetch duration in milliseconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create fetchDuration histogram: %w", err)
	}

	m.rankAtJoin, err = m.meter.Int64Histogram(
		"queue.rank.at.join",
		metric.WithDescription("Initial rank distribution at enqueue"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rankAtJoin histogram: %w", err)
	}

	return m, nil
}

// RecordJoin records an admission queue join with its initial rank.
func (m *Metrics) RecordJoin(rank int) {
	ctx := context.Background()
	m.queueJoins.Add(ctx, 1)
	if rank > 0 {
		m.rankAtJoin.Record(ctx, int64(rank))
	}
}

// RecordStreamOpened records a rank stream connection.
func (m *Metrics) RecordStreamOpened() {
	m.streamsActive.Add(context.Background(), 1)
}

// RecordStreamClosed records a rank stream teardown.
func (m *Metrics) RecordStreamClosed() {
	m.streamsActive.Add(context.Background(), -1)
}

// RecordReconnect records a stream reconnection attempt.
func (m *Metrics) RecordReconnect() {
	m.queueReconnects.Add(context.Background(), 1)
}

// RecordAdmission records an admission through the queue.
func (m *Metrics) RecordAdmission() {
	m.queueAdmissions.Add(context.Background(), 1)
}

// RecordBooking records a completed booking run.
func (m *Metrics) RecordBooking(outcome string, seats int, durationMs float64) {
	ctx := context.Background()
	m.bookingsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
	if seats > 0 {
		m.seatsBooked.Add(ctx, int64(seats))
	}
	m.bookingDuration.Record(ctx, durationMs)
}

// RecordFetch records an inventory snapshot fetch.
func (m *Metrics) RecordFetch(outcome string, durationMs float64) {
	ctx := context.Background()
	m.inventoryFetches.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
	m.fetchDuration.Record(ctx, durationMs)
}

// RecordInventoryChange records an observed authoritative change.
func (m *Metrics) RecordInventoryChange() {
	m.inventoryChanges.Add(context.Background(), 1)
}

// RecordCommitRecorded records a new pending commit.
func (m *Metrics) RecordCommitRecorded() {
	m.commitsPending.Add(context.Background(), 1)
}

// RecordCommitSettled records a commit confirmed or expired. Expired
// commits additionally count toward the divergence total.
func (m *Metrics) RecordCommitSettled(expired bool) {
	ctx := context.Background()
	m.commitsPending.Add(ctx, -1)
	if expired {
		m.commitsExpired.Add(ctx, 1)
	}
}
