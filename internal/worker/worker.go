// Package worker runs screening jobs delivered over the event bus.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/adscreen/internal/domain"
	"github.com/opensource-finance/adscreen/internal/report"
	"github.com/opensource-finance/adscreen/internal/rules"
	"github.com/opensource-finance/adscreen/internal/table"
)

// ErrEmptyInput is returned for a job without an input table.
var ErrEmptyInput = errors.New("job has no input table")

// ErrStopped is returned for a job delivered after Stop.
var ErrStopped = errors.New("worker stopped")

// Job is the payload of a screen.requested event.
type Job struct {
	RunID         string            `json:"runId"`
	Family        string            `json:"family"`
	FileName      string            `json:"fileName"`
	Thresholds    domain.Thresholds `json:"thresholds"`
	Identifiers   []string          `json:"identifiers,omitempty"`
	CascadeBidCut bool              `json:"cascadeBidCut,omitempty"`
	Input         []byte            `json:"input"`
	Previous      []byte            `json:"previous,omitempty"`
}

// Failure is the payload of a screen.failed event.
type Failure struct {
	RunID  string `json:"runId"`
	Family string `json:"family"`
	Error  string `json:"error"`
}

// Process decodes a job's tables, screens them and builds the result.
func Process(ctx context.Context, engine *rules.Engine, job *Job) (*domain.Result, error) {
	start := time.Now()

	kind, err := domain.ParseFamily(job.Family)
	if err != nil {
		return nil, err
	}
	if len(job.Input) == 0 {
		return nil, ErrEmptyInput
	}

	current, err := table.ReadCSV(bytes.NewReader(job.Input), domain.ColumnKinds)
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}

	req := rules.Request{
		Family:        kind,
		Table:         current,
		Thresholds:    job.Thresholds,
		Identifiers:   job.Identifiers,
		CascadeBidCut: job.CascadeBidCut,
	}
	if len(job.Previous) > 0 {
		req.Previous, err = table.ReadCSV(bytes.NewReader(job.Previous), domain.ColumnKinds)
		if err != nil {
			return nil, fmt.Errorf("failed to read previous input: %w", err)
		}
	}

	outcome, err := engine.Run(ctx, req)
	if err != nil {
		return nil, err
	}

	if job.RunID == "" {
		job.RunID = uuid.New().String()
	}
	return report.Build(job.RunID, outcome, start, domain.ResultFileName(kind, job.FileName))
}

// Worker processes screening jobs asynchronously from the EventBus.
type Worker struct {
	bus       domain.EventBus
	cache     domain.Cache
	engine    *rules.Engine
	resultTTL time.Duration

	// process runs one job; tests replace it to control timing.
	process func(ctx context.Context, job *Job) (*domain.Result, error)

	mu            sync.Mutex
	stopped       bool
	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, cache domain.Cache, engine *rules.Engine, resultTTL time.Duration) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	if resultTTL <= 0 {
		resultTTL = 30 * time.Minute
	}
	w := &Worker{
		bus:       bus,
		cache:     cache,
		engine:    engine,
		resultTTL: resultTTL,
		ctx:       ctx,
		cancel:    cancel,
	}
	w.process = func(ctx context.Context, job *Job) (*domain.Result, error) {
		return Process(ctx, w.engine, job)
	}
	return w
}

// Start subscribes to screening requests.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicScreenRequested, w.handleMessage)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Info("worker started",
		"topic", domain.TopicScreenRequested,
	)
	return nil
}

// handleMessage runs one job and announces its outcome.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	if !w.begin() {
		return ErrStopped
	}
	defer w.wg.Done()

	ctx, cancel := w.jobContext(ctx)
	defer cancel()

	var job Job
	if err := json.Unmarshal(msg.Payload, &job); err != nil {
		slog.Error("failed to parse screening job",
			"message_id", msg.ID,
			"error", err,
		)
		w.publishFailure(ctx, &job, err)
		return err
	}

	slog.Debug("processing screening job",
		"run_id", job.RunID,
		"family", job.Family,
		"input_bytes", len(job.Input),
	)

	result, err := w.process(ctx, &job)
	if err != nil {
		w.publishFailure(ctx, &job, err)
		return err
	}

	if err := w.cache.SetResult(ctx, result, w.resultTTL); err != nil {
		w.publishFailure(ctx, &job, err)
		return fmt.Errorf("failed to store result: %w", err)
	}

	if err := w.publishJSON(ctx, domain.TopicScreenCompleted, result.Summary); err != nil {
		slog.Error("failed to publish completion",
			"run_id", result.RunID,
			"error", err,
		)
		w.publishFailure(ctx, &job, err)
		return err
	}

	slog.Info("screening job processed",
		"run_id", result.RunID,
		"family", result.Summary.Family,
		"matched", result.Summary.Matched,
		"changed", report.Changed(result.Summary),
		"duration_ms", result.Summary.DurationMs,
	)
	return nil
}

// begin registers an in-flight job unless the worker is stopping.
func (w *Worker) begin() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return false
	}
	w.wg.Add(1)
	return true
}

// jobContext keeps the delivery context's values but not its cancellation,
// so unsubscribing does not abort a running job. It ends with the worker.
func (w *Worker) jobContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	stop := context.AfterFunc(w.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (w *Worker) publishJSON(ctx context.Context, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", topic, err)
	}
	return w.bus.Publish(ctx, topic, payload)
}

func (w *Worker) publishFailure(ctx context.Context, job *Job, cause error) {
	err := w.publishJSON(ctx, domain.TopicScreenFailed, Failure{
		RunID:  job.RunID,
		Family: job.Family,
		Error:  cause.Error(),
	})
	if err != nil {
		slog.Error("failed to publish failure",
			"run_id", job.RunID,
			"error", err,
		)
	}
}

// Stop unsubscribes, waits for in-flight jobs to finish and then releases
// the worker context.
func (w *Worker) Stop() error {
	w.mu.Lock()
	w.stopped = true
	subs := w.subscriptions
	w.subscriptions = nil
	w.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}

	w.wg.Wait()
	w.cancel()

	slog.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
