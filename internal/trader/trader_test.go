package trader

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mm-quote-bot/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeProps struct {
	mu       sync.Mutex
	now      func() time.Time
	interval time.Duration
	targets  map[string][]string
	threads  int
	panicky  bool
}

func (p *fakeProps) Now() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.now != nil {
		return p.now()
	}
	return time.Now()
}

func (p *fakeProps) TradingInterval() (time.Duration, bool) {
	return p.interval, p.interval != 0
}

func (p *fakeProps) TradingTargets() map[string][]string {
	if p.panicky {
		panic("targets unavailable")
	}
	return p.targets
}

func (p *fakeProps) TradingThreads() int {
	return p.threads
}

type call struct {
	nominal    time.Time
	site       string
	instrument string
}

type fakeProcessor struct {
	mu    sync.Mutex
	calls []call
	fn    func(c call)
	seen  chan call
}

func newProcessor() *fakeProcessor {
	return &fakeProcessor{seen: make(chan call, 1024)}
}

func (p *fakeProcessor) Process(_ context.Context, target time.Time, site, instrument string) {
	c := call{nominal: target, site: site, instrument: instrument}
	p.mu.Lock()
	p.calls = append(p.calls, c)
	fn := p.fn
	p.mu.Unlock()
	if fn != nil {
		fn(c)
	}
	p.seen <- c
}

func (p *fakeProcessor) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func waitCall(t *testing.T, p *fakeProcessor) call {
	t.Helper()
	select {
	case c := <-p.seen:
		return c
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for pipeline call")
	}
	return call{}
}

func runAsync(tr *Trader, ctx context.Context) chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		tr.Run(ctx)
	}()
	return done
}

func waitDone(t *testing.T, done chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for trader to stop")
	}
}

func TestTriggerAfterCloseIsNoop(t *testing.T) {
	tr := New(&fakeProps{}, newProcessor(), nil, nil)
	if tr.IsClosed() {
		t.Fatalf("expected new trader to be open")
	}
	tr.Close()
	if !tr.IsClosed() {
		t.Fatalf("expected trader to be closed")
	}
	tr.Trigger()
	tr.Close()
	if !tr.IsClosed() {
		t.Fatalf("expected trader to stay closed")
	}
}

func TestRunReturnsImmediatelyWhenClosed(t *testing.T) {
	processor := newProcessor()
	tr := New(&fakeProps{targets: map[string][]string{"paper": {"BTC_JPY"}}}, processor, nil, nil)
	tr.Close()
	waitDone(t, runAsync(tr, context.Background()))
	if processor.count() != 0 {
		t.Fatalf("expected no pipeline calls, got %d", processor.count())
	}
}

func TestRunProcessesEveryTarget(t *testing.T) {
	processor := newProcessor()
	props := &fakeProps{
		interval: time.Hour,
		threads:  2,
		targets:  map[string][]string{"a": {"x", "y"}, "b": {"z"}},
	}
	tr := New(props, processor, nil, nil)
	done := runAsync(tr, context.Background())

	got := map[string]bool{}
	var nominal time.Time
	for i := 0; i < 3; i++ {
		c := waitCall(t, processor)
		got[c.site+":"+c.instrument] = true
		if i == 0 {
			nominal = c.nominal
		} else if !c.nominal.Equal(nominal) {
			t.Fatalf("expected shared nominal time within a cycle")
		}
	}
	for _, key := range []string{"a:x", "a:y", "b:z"} {
		if !got[key] {
			t.Fatalf("expected %s to be processed, got %v", key, got)
		}
	}
	if until := time.Until(nominal); until < 59*time.Minute {
		t.Fatalf("expected nominal time one interval ahead, got %v", until)
	}
	tr.Close()
	waitDone(t, done)
}

func TestTriggerWakesSleepingLoop(t *testing.T) {
	processor := newProcessor()
	props := &fakeProps{interval: time.Hour, targets: map[string][]string{"paper": {"BTC_JPY"}}}
	tr := New(props, processor, nil, nil)
	done := runAsync(tr, context.Background())

	waitCall(t, processor)
	tr.Trigger()
	waitCall(t, processor)
	tr.Close()
	waitDone(t, done)
}

func TestTriggersCollapseIntoOneWake(t *testing.T) {
	processor := newProcessor()
	release := make(chan struct{})
	var first atomic.Bool
	processor.fn = func(call) {
		if first.CompareAndSwap(false, true) {
			<-release
		}
	}
	props := &fakeProps{interval: time.Hour, targets: map[string][]string{"paper": {"BTC_JPY"}}}
	tr := New(props, processor, nil, nil)
	done := runAsync(tr, context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for !first.Load() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for first cycle")
		}
		time.Sleep(time.Millisecond)
	}
	tr.Trigger()
	tr.Trigger()
	close(release)

	waitCall(t, processor)
	waitCall(t, processor)
	time.Sleep(100 * time.Millisecond)
	if got := processor.count(); got != 2 {
		t.Fatalf("expected exactly two cycles, got %d", got)
	}
	tr.Close()
	waitDone(t, done)
}

func TestCyclesDoNotOverlap(t *testing.T) {
	processor := newProcessor()
	var mu sync.Mutex
	inFlight := map[time.Time]int{}
	var overlap atomic.Bool
	processor.fn = func(c call) {
		mu.Lock()
		inFlight[c.nominal]++
		if len(inFlight) > 1 {
			overlap.Store(true)
		}
		mu.Unlock()
		time.Sleep(2 * time.Millisecond)
		mu.Lock()
		inFlight[c.nominal]--
		if inFlight[c.nominal] == 0 {
			delete(inFlight, c.nominal)
		}
		mu.Unlock()
	}
	props := &fakeProps{threads: 4, targets: map[string][]string{"paper": {"a", "b", "c", "d", "e"}}}
	tr := New(props, processor, nil, nil)
	done := runAsync(tr, context.Background())

	for i := 0; i < 25; i++ {
		waitCall(t, processor)
	}
	tr.Close()
	waitDone(t, done)
	if overlap.Load() {
		t.Fatalf("expected cycles not to overlap")
	}
}

func TestTaskPanicIsIsolated(t *testing.T) {
	processor := newProcessor()
	processor.fn = func(c call) {
		if c.instrument == "bad" {
			panic("boom")
		}
	}
	prom := metrics.NewPrometheus()
	props := &fakeProps{interval: time.Hour, targets: map[string][]string{"paper": {"bad", "good"}}}
	tr := New(props, processor, prom.Metrics, nil)
	done := runAsync(tr, context.Background())

	c := waitCall(t, processor)
	if c.instrument != "good" {
		t.Fatalf("expected good target to complete, got %s", c.instrument)
	}
	deadline := time.Now().Add(2 * time.Second)
	for counterValue(prom.Metrics.CyclesCompleted) < 1 {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for cycle to complete")
		}
		time.Sleep(time.Millisecond)
	}
	if got := counterValue(prom.Metrics.TasksFailed); got != 1 {
		t.Fatalf("expected one failed task, got %v", got)
	}
	if tr.IsClosed() {
		t.Fatalf("expected trader to keep running after task failure")
	}
	tr.Close()
	waitDone(t, done)
}

func TestFatalErrorClosesTrader(t *testing.T) {
	props := &fakeProps{panicky: true}
	tr := New(props, newProcessor(), nil, nil)
	waitDone(t, runAsync(tr, context.Background()))
	if !tr.IsClosed() {
		t.Fatalf("expected trader to be closed after fatal error")
	}
}

func TestContextCancelStopsRun(t *testing.T) {
	props := &fakeProps{interval: time.Hour}
	tr := New(props, newProcessor(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(tr, ctx)
	cancel()
	waitDone(t, done)
	if !tr.IsClosed() {
		t.Fatalf("expected trader to be closed after cancellation")
	}
}

func TestSleepInterval(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	props := &fakeProps{now: func() time.Time { return base }, interval: time.Second}
	tr := New(props, newProcessor(), nil, nil)

	nominal := tr.nominalTime()
	if !nominal.Equal(base.Add(time.Second)) {
		t.Fatalf("unexpected nominal %v", nominal)
	}
	if got := tr.sleepInterval(nominal); got != time.Second {
		t.Fatalf("expected 1s sleep, got %v", got)
	}
	if got := tr.sleepInterval(base.Add(-time.Second)); got != 0 {
		t.Fatalf("expected zero sleep for past nominal, got %v", got)
	}

	props.interval = 0
	if got := tr.nominalTime(); !got.Equal(base) {
		t.Fatalf("expected nominal to equal now without interval, got %v", got)
	}
}

func counterValue(c metrics.Counter) float64 {
	return testutil.ToFloat64(c.(prometheus.Collector))
}
