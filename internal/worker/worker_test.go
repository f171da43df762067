package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/opensource-finance/adscreen/internal/bus"
	"github.com/opensource-finance/adscreen/internal/cache"
	"github.com/opensource-finance/adscreen/internal/domain"
	"github.com/opensource-finance/adscreen/internal/rules"
	"github.com/opensource-finance/adscreen/internal/table"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const productCSV = "实体层级,广告活动状态（仅供参考）,广告组状态（仅供参考）,状态,广告活动名称,点击量,订单数量,ACOS,转化率,操作\n" +
	"商品广告,已启用,已启用,已启用,A,20,0,0,0,\n" +
	"商品广告,已启用,已启用,已启用,B,5,3,0.1,0.5,\n" +
	"商品广告,已暂停,已启用,已启用,C,50,0,0,0,\n"

func newEngine(t *testing.T) *rules.Engine {
	t.Helper()
	engine, err := rules.NewEngine(domain.EngineConfig{ChunkSize: 2, ChunkWorkers: 2})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return engine
}

func productJob(runID string) Job {
	return Job{
		RunID:      runID,
		Family:     "product",
		FileName:   "bulk.csv",
		Thresholds: domain.DefaultThresholds(),
		Input:      []byte(productCSV),
	}
}

func TestProcess(t *testing.T) {
	engine := newEngine(t)
	ctx := context.Background()

	t.Run("ProductJob", func(t *testing.T) {
		job := productJob("run-1")
		res, err := Process(ctx, engine, &job)
		if err != nil {
			t.Fatalf("Process failed: %v", err)
		}
		if res.RunID != "run-1" {
			t.Errorf("expected run-1, got %s", res.RunID)
		}
		if res.FileName != "bulk_SP商品筛选.csv" {
			t.Errorf("unexpected file name %q", res.FileName)
		}
		if res.Summary.Matched != 1 || res.Summary.Paused != 1 {
			t.Errorf("expected one paused row, got %+v", res.Summary)
		}

		out, err := table.ReadCSV(bytes.NewReader(res.CSV), domain.ColumnKinds)
		if err != nil {
			t.Fatalf("ReadCSV failed: %v", err)
		}
		r := out.Row(0)
		if r.Text(domain.ColCampaignName) != "A" || r.Text(domain.ColState) != domain.StatePaused {
			t.Errorf("unexpected row: %v", r.Values())
		}
		if r.Text(domain.ColAction) != domain.ActionUpdate {
			t.Errorf("expected update action, got %q", r.Text(domain.ColAction))
		}
	})

	t.Run("AssignsRunID", func(t *testing.T) {
		job := productJob("")
		res, err := Process(ctx, engine, &job)
		if err != nil {
			t.Fatalf("Process failed: %v", err)
		}
		if res.RunID == "" || job.RunID != res.RunID {
			t.Errorf("expected generated run ID on job and result, got %q / %q", job.RunID, res.RunID)
		}
	})

	t.Run("UnknownFamily", func(t *testing.T) {
		job := productJob("run-2")
		job.Family = "display-ads"
		if _, err := Process(ctx, engine, &job); err == nil {
			t.Error("expected error for unknown family")
		}
	})

	t.Run("EmptyInput", func(t *testing.T) {
		job := productJob("run-3")
		job.Input = nil
		if _, err := Process(ctx, engine, &job); !errors.Is(err, ErrEmptyInput) {
			t.Errorf("expected ErrEmptyInput, got %v", err)
		}
	})

	t.Run("MissingColumn", func(t *testing.T) {
		job := productJob("run-4")
		job.Input = []byte("实体层级,点击量\n商品广告,3\n")
		_, err := Process(ctx, engine, &job)
		var schemaErr *table.SchemaError
		if !errors.As(err, &schemaErr) {
			t.Errorf("expected SchemaError, got %v", err)
		}
	})

	t.Run("SpendDeclineNeedsPrevious", func(t *testing.T) {
		job := productJob("run-5")
		job.Family = "spend-decline"
		_, err := Process(ctx, engine, &job)
		if !errors.Is(err, rules.ErrMissingPrevious) {
			t.Errorf("expected ErrMissingPrevious, got %v", err)
		}
	})
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(16)
	defer eventBus.Close()

	store := cache.NewLRUCache(16)
	engine := newEngine(t)
	ctx := context.Background()

	t.Run("StartAndStop", func(t *testing.T) {
		w := NewWorker(eventBus, store, engine, time.Minute)

		if err := w.Start(); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.GetStats()
		if stats.SubscriptionCount != 1 || stats.Topics[0] != domain.TopicScreenRequested {
			t.Errorf("unexpected stats %+v", stats)
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
		if w.GetStats().SubscriptionCount != 0 {
			t.Error("expected 0 subscriptions after stop")
		}
	})

	t.Run("CompletedJob", func(t *testing.T) {
		w := NewWorker(eventBus, store, engine, time.Minute)
		if err := w.Start(); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		completed := make(chan domain.Summary, 1)
		sub, _ := eventBus.Subscribe(ctx, domain.TopicScreenCompleted, func(ctx context.Context, msg *domain.Message) error {
			var s domain.Summary
			if err := json.Unmarshal(msg.Payload, &s); err != nil {
				return err
			}
			completed <- s
			return nil
		})
		defer sub.Unsubscribe()

		payload, _ := json.Marshal(productJob("run-async"))
		if err := eventBus.Publish(ctx, domain.TopicScreenRequested, payload); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		select {
		case s := <-completed:
			if s.RunID != "run-async" || s.Matched != 1 {
				t.Errorf("unexpected summary %+v", s)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for completion")
		}

		res, err := store.GetResult(ctx, "run-async")
		if err != nil || res == nil {
			t.Fatalf("expected stored result, got %v, %v", res, err)
		}
		if len(res.CSV) == 0 {
			t.Error("expected CSV payload in stored result")
		}
	})

	t.Run("FailedJob", func(t *testing.T) {
		w := NewWorker(eventBus, store, engine, time.Minute)
		if err := w.Start(); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		failed := make(chan Failure, 1)
		sub, _ := eventBus.Subscribe(ctx, domain.TopicScreenFailed, func(ctx context.Context, msg *domain.Message) error {
			var f Failure
			if err := json.Unmarshal(msg.Payload, &f); err != nil {
				return err
			}
			failed <- f
			return nil
		})
		defer sub.Unsubscribe()

		job := productJob("run-bad")
		job.Family = "spend-decline"
		payload, _ := json.Marshal(job)
		_ = eventBus.Publish(ctx, domain.TopicScreenRequested, payload)

		select {
		case f := <-failed:
			if f.RunID != "run-bad" || f.Family != "spend-decline" || f.Error == "" {
				t.Errorf("unexpected failure %+v", f)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for failure")
		}

		if res, _ := store.GetResult(ctx, "run-bad"); res != nil {
			t.Error("expected no stored result for failed job")
		}
	})

	t.Run("MalformedPayload", func(t *testing.T) {
		w := NewWorker(eventBus, store, engine, time.Minute)
		if err := w.Start(); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		failed := make(chan struct{}, 1)
		sub, _ := eventBus.Subscribe(ctx, domain.TopicScreenFailed, func(ctx context.Context, msg *domain.Message) error {
			failed <- struct{}{}
			return nil
		})
		defer sub.Unsubscribe()

		_ = eventBus.Publish(ctx, domain.TopicScreenRequested, []byte("{not json"))

		select {
		case <-failed:
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for failure")
		}
	})

	t.Run("StopDrainsRunningJob", func(t *testing.T) {
		w := NewWorker(eventBus, store, engine, time.Minute)
		started := make(chan struct{})
		release := make(chan struct{})
		w.process = func(ctx context.Context, job *Job) (*domain.Result, error) {
			close(started)
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return Process(ctx, engine, job)
		}
		if err := w.Start(); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		failed := make(chan Failure, 1)
		sub, _ := eventBus.Subscribe(ctx, domain.TopicScreenFailed, func(ctx context.Context, msg *domain.Message) error {
			var f Failure
			if err := json.Unmarshal(msg.Payload, &f); err != nil {
				return err
			}
			failed <- f
			return nil
		})
		defer sub.Unsubscribe()

		payload, _ := json.Marshal(productJob("run-draining"))
		if err := eventBus.Publish(ctx, domain.TopicScreenRequested, payload); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for job to start")
		}

		stopped := make(chan error, 1)
		go func() { stopped <- w.Stop() }()

		select {
		case <-stopped:
			t.Fatal("Stop returned while a job was running")
		case <-time.After(50 * time.Millisecond):
		}

		close(release)
		select {
		case err := <-stopped:
			if err != nil {
				t.Errorf("Stop failed: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for Stop")
		}

		res, err := store.GetResult(ctx, "run-draining")
		if err != nil || res == nil {
			t.Fatalf("expected stored result after Stop, got %v, %v", res, err)
		}
		select {
		case f := <-failed:
			t.Errorf("unexpected failure %+v", f)
		default:
		}
	})

	t.Run("RejectsJobsAfterStop", func(t *testing.T) {
		w := NewWorker(eventBus, store, engine, time.Minute)
		if err := w.Start(); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		if err := w.Stop(); err != nil {
			t.Fatalf("Stop failed: %v", err)
		}

		payload, _ := json.Marshal(productJob("run-late"))
		err := w.handleMessage(ctx, &domain.Message{ID: "late", Payload: payload})
		if !errors.Is(err, ErrStopped) {
			t.Errorf("expected ErrStopped, got %v", err)
		}
		if res, _ := store.GetResult(ctx, "run-late"); res != nil {
			t.Error("expected no stored result for a job after Stop")
		}
	})

	t.Run("UnencodablePayloadIsNotPublished", func(t *testing.T) {
		w := NewWorker(eventBus, store, engine, time.Minute)

		received := make(chan struct{}, 1)
		sub, _ := eventBus.Subscribe(ctx, "screen.test", func(ctx context.Context, msg *domain.Message) error {
			received <- struct{}{}
			return nil
		})
		defer sub.Unsubscribe()

		if err := w.publishJSON(ctx, "screen.test", math.NaN()); err == nil {
			t.Fatal("expected encode error")
		}
		if err := w.publishJSON(ctx, "screen.test", map[string]int{"ok": 1}); err != nil {
			t.Fatalf("publishJSON failed: %v", err)
		}
		select {
		case <-received:
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for encoded payload")
		}
		select {
		case <-received:
			t.Error("expected only one published message")
		case <-time.After(20 * time.Millisecond):
		}
	})
}
