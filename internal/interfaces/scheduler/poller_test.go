package scheduler

import (
	"context"
	"testing"
	"time"
)

func TestNewPollerValidation(t *testing.T) {
	pool := NewWorkerPool(1, 0, 1)
	provider := func(ctx context.Context) ([]Job, error) { return nil, nil }

	tests := []struct {
		name   string
		config PollerConfig
	}{
		{"zero interval", PollerConfig{Interval: 0, JobProvider: provider}},
		{"negative interval", PollerConfig{Interval: -time.Second, JobProvider: provider}},
		{"missing provider", PollerConfig{Interval: time.Minute}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewPoller(pool, tt.config); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestPollerRunsBatchOnStartup(t *testing.T) {
	pool := NewWorkerPool(1, 0, 10)
	pool.Start()

	ran := make(chan string, 10)
	provider := func(ctx context.Context) ([]Job, error) {
		return []Job{
			&MockJob{key: "a", ExecuteFunc: func(ctx context.Context) error { ran <- "a"; return nil }},
			&MockJob{key: "b", ExecuteFunc: func(ctx context.Context) error { ran <- "b"; return nil }},
		}, nil
	}

	poller, err := NewPoller(pool, PollerConfig{Interval: time.Hour, RunOnStartup: true, JobProvider: provider})
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}
	poller.Start()

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case key := <-ran:
			got[key] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for startup batch, ran %d of 2 jobs", i)
		}
	}
	if !got["a"] || !got["b"] {
		t.Errorf("expected both jobs to run, got %v", got)
	}

	poller.Shutdown(time.Second)
	pool.Shutdown()
}

func TestPollerEnqueuesOnInterval(t *testing.T) {
	pool := NewWorkerPool(1, 0, 10)
	pool.Start()

	ran := make(chan struct{}, 10)
	provider := func(ctx context.Context) ([]Job, error) {
		return []Job{&MockJob{key: "tick", ExecuteFunc: func(ctx context.Context) error {
			ran <- struct{}{}
			return nil
		}}}, nil
	}

	poller, err := NewPoller(pool, PollerConfig{Interval: 20 * time.Millisecond, JobProvider: provider})
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}
	poller.Start()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("poller never enqueued on interval")
	}

	poller.Shutdown(time.Second)
	pool.Shutdown()
}

func TestPollerTriggerNow(t *testing.T) {
	pool := NewWorkerPool(1, 0, 10)
	pool.Start()

	ran := make(chan struct{}, 1)
	provider := func(ctx context.Context) ([]Job, error) {
		return []Job{&MockJob{key: "manual", ExecuteFunc: func(ctx context.Context) error {
			ran <- struct{}{}
			return nil
		}}}, nil
	}

	poller, err := NewPoller(pool, PollerConfig{Interval: time.Hour, JobProvider: provider})
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}
	poller.Start()
	poller.TriggerNow()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("manual trigger never ran")
	}

	poller.Shutdown(time.Second)
	pool.Shutdown()
}
