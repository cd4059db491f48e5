package output

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/therealutkarshpriyadarshi/logtriage/internal/logging"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/metrics"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/pipeline"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/reliability"
)

// flakySink fails the first failures sends, then succeeds
type flakySink struct {
	name      string
	failures  int
	err       error
	mu        sync.Mutex
	attempts  int
	delivered []string
	closed    bool
}

func (s *flakySink) Send(ctx context.Context, result *pipeline.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.attempts <= s.failures {
		if s.err != nil {
			return s.err
		}
		return errors.New("temporarily unavailable")
	}
	s.delivered = append(s.delivered, result.Summary.RunID)
	return nil
}

func (s *flakySink) Close() error {
	s.closed = true
	return nil
}

func (s *flakySink) Name() string { return s.name }

// blockingSink waits for its context to end
type blockingSink struct{}

func (blockingSink) Send(ctx context.Context, result *pipeline.Result) error {
	<-ctx.Done()
	return ctx.Err()
}

func (blockingSink) Close() error { return nil }
func (blockingSink) Name() string { return "blocking" }

var fastRetry = reliability.RetryConfig{
	MaxRetries:     3,
	InitialBackoff: time.Millisecond,
	MaxBackoff:     5 * time.Millisecond,
	Multiplier:     2,
}

func TestDispatcher_Dispatch(t *testing.T) {
	tests := []struct {
		name         string
		failures     int
		err          error
		wantErr      bool
		wantAttempts int
	}{
		{name: "first attempt", failures: 0, wantAttempts: 1},
		{name: "recovers after retries", failures: 2, wantAttempts: 3},
		{name: "retries exhausted", failures: 10, wantErr: true, wantAttempts: 4},
		{name: "permanent", failures: 10, err: reliability.Permanent(errors.New("bad request")), wantErr: true, wantAttempts: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &flakySink{name: "flaky", failures: tt.failures, err: tt.err}
			collector := metrics.NewCollector()

			d, err := NewDispatcher([]Sink{sink},
				WithRetry(fastRetry),
				WithMetrics(collector),
				WithLogger(logging.Nop()),
			)
			if err != nil {
				t.Fatalf("NewDispatcher() error = %v", err)
			}

			err = d.Dispatch(context.Background(), testResult())
			if (err != nil) != tt.wantErr {
				t.Fatalf("Dispatch() error = %v, wantErr %v", err, tt.wantErr)
			}
			if sink.attempts != tt.wantAttempts {
				t.Errorf("attempts = %d, want %d", sink.attempts, tt.wantAttempts)
			}

			sent := testutil.ToFloat64(collector.OutputSent.WithLabelValues("flaky"))
			failed := testutil.ToFloat64(collector.OutputFailed.WithLabelValues("flaky"))
			if tt.wantErr {
				if failed != 1 || sent != 0 {
					t.Errorf("sent = %v, failed = %v, want 0 and 1", sent, failed)
				}
				if !strings.HasPrefix(err.Error(), "flaky: ") {
					t.Errorf("error %q does not name the sink", err)
				}
			} else {
				if sent != 1 || failed != 0 {
					t.Errorf("sent = %v, failed = %v, want 1 and 0", sent, failed)
				}
				if len(sink.delivered) != 1 || sink.delivered[0] != "run-1" {
					t.Errorf("delivered = %v", sink.delivered)
				}
				if testutil.ToFloat64(collector.OutputBytes.WithLabelValues("flaky")) == 0 {
					t.Error("OutputBytes not recorded")
				}
			}
		})
	}
}

func TestDispatcher_JoinsErrors(t *testing.T) {
	good := &flakySink{name: "good"}
	bad := &flakySink{name: "bad", failures: 100, err: reliability.Permanent(errors.New("rejected"))}
	worse := &flakySink{name: "worse", failures: 100, err: reliability.Permanent(errors.New("forbidden"))}

	d, err := NewDispatcher([]Sink{good, bad, worse}, WithRetry(fastRetry), WithLogger(logging.Nop()))
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}

	err = d.Dispatch(context.Background(), testResult())
	if err == nil {
		t.Fatal("Dispatch() expected error")
	}
	for _, want := range []string{"bad: rejected", "worse: forbidden"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
	if len(good.delivered) != 1 {
		t.Error("a failing sink prevented delivery to a healthy one")
	}

	if err := d.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	for _, s := range []*flakySink{good, bad, worse} {
		if !s.closed {
			t.Errorf("sink %s not closed", s.name)
		}
	}
}

func TestDispatcher_Timeout(t *testing.T) {
	d, err := NewDispatcher([]Sink{blockingSink{}},
		WithRetry(reliability.RetryConfig{MaxRetries: 0}),
		WithTimeout(10*time.Millisecond),
		WithLogger(logging.Nop()),
	)
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- d.Dispatch(context.Background(), testResult()) }()

	select {
	case err := <-done:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Dispatch() error = %v, want deadline exceeded", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Dispatch() did not honour the send timeout")
	}
}

func TestDispatcher_Spans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := trace.NewTracerProvider(trace.WithSpanProcessor(recorder))

	d, err := NewDispatcher([]Sink{&flakySink{name: "traced"}},
		WithTracer(provider.Tracer("test")),
		WithLogger(logging.Nop()),
	)
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	if err := d.Dispatch(context.Background(), testResult()); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	spans := recorder.Ended()
	if len(spans) != 1 || spans[0].Name() != "output.send" {
		t.Fatalf("spans = %v, want one output.send", spans)
	}
}

func TestNewDispatcher_NoSinks(t *testing.T) {
	if _, err := NewDispatcher(nil); err == nil {
		t.Error("NewDispatcher() expected error without sinks")
	}
}

// memoryDeadLetter records spooled reports
type memoryDeadLetter struct {
	mu      sync.Mutex
	sinks   []string
	runIDs  []string
	reports [][]byte
	causes  []error
}

func (m *memoryDeadLetter) Enqueue(sink, runID string, report []byte, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinks = append(m.sinks, sink)
	m.runIDs = append(m.runIDs, runID)
	m.reports = append(m.reports, report)
	m.causes = append(m.causes, cause)
	return nil
}

func TestDispatcher_DeadLetter(t *testing.T) {
	healthy := &flakySink{name: "healthy"}
	broken := &flakySink{name: "broken", failures: 100}
	dl := &memoryDeadLetter{}
	collector := metrics.NewCollector()

	d, err := NewDispatcher([]Sink{healthy, broken},
		WithRetry(fastRetry),
		WithDeadLetter(dl),
		WithMetrics(collector),
		WithLogger(logging.Nop()),
	)
	if err != nil {
		t.Fatal(err)
	}

	if err := d.Dispatch(context.Background(), testResult()); err == nil {
		t.Fatal("Dispatch() expected error from broken sink")
	}

	if len(dl.sinks) != 1 || dl.sinks[0] != "broken" || dl.runIDs[0] != "run-1" {
		t.Fatalf("dead-lettered = %v %v, want only broken/run-1", dl.sinks, dl.runIDs)
	}
	want, _ := Encode(testResult(), false)
	if string(dl.reports[0]) != string(want) {
		t.Errorf("spooled report differs from the encoded result")
	}
	if got := testutil.ToFloat64(collector.OutputDeadLettered.WithLabelValues("broken")); got != 1 {
		t.Errorf("dead-lettered counter = %v, want 1", got)
	}

	// Replays go to one sink and are not spooled again
	err = d.DispatchTo(context.Background(), "broken", testResult())
	if err == nil {
		t.Error("DispatchTo() expected error")
	}
	if len(dl.sinks) != 1 {
		t.Errorf("DispatchTo() spooled again: %v", dl.sinks)
	}
	if len(healthy.delivered) != 1 {
		t.Errorf("DispatchTo() reached other sinks: %v", healthy.delivered)
	}

	if err := d.DispatchTo(context.Background(), "missing", testResult()); err == nil {
		t.Error("DispatchTo() expected error for unknown sink")
	}

	if names := d.Sinks(); len(names) != 2 || names[0] != "healthy" || names[1] != "broken" {
		t.Errorf("Sinks() = %v", names)
	}
}
