// Package worker evaluates submitted applications off the event bus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/lifecycle"
)

// Worker processes applications asynchronously from the EventBus.
// It is the second consumer of the same evaluation path the HTTP
// /evaluate handler uses; outcomes are identical for identical
// applications and rule snapshots.
type Worker struct {
	bus     domain.EventBus
	repo    domain.Repository
	manager *lifecycle.Manager

	subscriptions []domain.Subscription
	sem           chan struct{}
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// Concurrency bounds how many applications are evaluated at once.
	Concurrency int
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, manager *lifecycle.Manager) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:     bus,
		repo:    repo,
		manager: manager,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start subscribes to the application topic and begins processing.
func (w *Worker) Start(cfg Config) error {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	w.sem = make(chan struct{}, cfg.Concurrency)

	sub, err := w.bus.Subscribe(w.ctx, domain.TopicApplicationSubmitted, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("worker started",
		"topic", domain.TopicApplicationSubmitted,
		"concurrency", cfg.Concurrency,
	)
	return nil
}

// ApplicationMessage is the payload published on application submit.
type ApplicationMessage struct {
	ApplicationID string `json:"applicationId"`
	TraceID       string `json:"traceId,omitempty"`
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	select {
	case w.sem <- struct{}{}:
	case <-w.ctx.Done():
		return w.ctx.Err()
	}
	defer func() { <-w.sem }()

	return w.processApplication(ctx, msg)
}

// processApplication loads the application, evaluates it against the
// active snapshot, and records the decision.
func (w *Worker) processApplication(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var appMsg ApplicationMessage
	if err := json.Unmarshal(msg.Payload, &appMsg); err != nil {
		slog.Error("failed to parse application message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if appMsg.ApplicationID == "" {
		slog.Error("application message missing applicationId", "message_id", msg.ID)
		return nil
	}

	traceID := appMsg.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	app, err := w.repo.GetApplication(ctx, appMsg.ApplicationID)
	if err != nil {
		slog.Error("failed to load application",
			"application_id", appMsg.ApplicationID,
			"error", err,
		)
		return err
	}

	snapshot, err := w.manager.ActiveSnapshot(ctx)
	if err != nil {
		slog.Error("failed to load rule snapshot",
			"application_id", app.ID,
			"error", err,
		)
		return err
	}

	result := engine.Evaluate(snapshot, engine.NewContext(app))

	decision := domain.NewDecision(uuid.New().String(), app.ID, result, snapshot.VersionIDs)
	decision.TraceID = traceID
	decision.ProcessMs = time.Since(start).Milliseconds()

	if err := w.repo.SaveDecision(ctx, decision); err != nil {
		slog.Error("failed to save decision",
			"application_id", app.ID,
			"error", err,
		)
		return err
	}

	payload, _ := json.Marshal(decision)
	if err := w.bus.Publish(ctx, domain.TopicDecisionRecorded, payload); err != nil {
		slog.Error("failed to publish decision",
			"application_id", app.ID,
			"error", err,
		)
	}

	slog.Info("application processed",
		"application_id", app.ID,
		"outcome", result.Outcome,
		"score", result.Score,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("worker stopped")
	return nil
}
