package agent

import (
	"context"
	"testing"

	"mm-quote-bot/internal/trading"
)

type staticProps struct {
	active bool
}

func (p staticProps) TradingActive() bool { return p.active }

type recordingAgent struct {
	manageCalls     int
	reconcileCalls  int
	lastInstr       []trading.Instruction
	lastManaged     map[trading.Instruction]string
	manageResult    map[trading.Instruction]string
	reconcileResult map[trading.Instruction]bool
}

func (a *recordingAgent) Manage(_ context.Context, _ trading.Market, _ *trading.Request, instructions []trading.Instruction) map[trading.Instruction]string {
	a.manageCalls++
	a.lastInstr = instructions
	return a.manageResult
}

func (a *recordingAgent) Reconcile(_ context.Context, _ trading.Market, _ *trading.Request, managed map[trading.Instruction]string) map[trading.Instruction]bool {
	a.reconcileCalls++
	a.lastManaged = managed
	return a.reconcileResult
}

func newRequest(site string) *trading.Request {
	return &trading.Request{Site: site, Instrument: "BTC_JPY"}
}

func TestDispatcherGet(t *testing.T) {
	d := New(staticProps{}, nil, nil)
	if d.Get() != trading.All {
		t.Fatalf("expected %q, got %q", trading.All, d.Get())
	}
}

func TestDispatcherManage(t *testing.T) {
	instr := &trading.CreateInstruction{ID: "i1"}
	handler := &recordingAgent{manageResult: map[trading.Instruction]string{instr: "o1"}}
	d := New(staticProps{active: true}, map[string]trading.Agent{"paper": handler}, nil)

	got := d.Manage(context.Background(), nil, newRequest("paper"), []trading.Instruction{instr})
	if handler.manageCalls != 1 {
		t.Fatalf("expected handler to be called once, got %d", handler.manageCalls)
	}
	if len(got) != 1 || got[instr] != "o1" {
		t.Fatalf("unexpected result %v", got)
	}
}

func TestDispatcherManageInactive(t *testing.T) {
	handler := &recordingAgent{}
	d := New(staticProps{active: false}, map[string]trading.Agent{"paper": handler}, nil)
	got := d.Manage(context.Background(), nil, newRequest("paper"), []trading.Instruction{&trading.CreateInstruction{}})
	if len(got) != 0 || handler.manageCalls != 0 {
		t.Fatalf("expected inactive trading to skip manage, got %v calls=%d", got, handler.manageCalls)
	}
}

func TestDispatcherReconcileIgnoresTradingSwitch(t *testing.T) {
	instr := &trading.CancelInstruction{ID: "c1"}
	handler := &recordingAgent{reconcileResult: map[trading.Instruction]bool{instr: true}}
	d := New(staticProps{active: false}, map[string]trading.Agent{"paper": handler}, nil)
	got := d.Reconcile(context.Background(), nil, newRequest("paper"), map[trading.Instruction]string{instr: "o1"})
	if handler.reconcileCalls != 1 || !got[instr] {
		t.Fatalf("expected reconcile to run, got %v calls=%d", got, handler.reconcileCalls)
	}
}

func TestDispatcherInvalidRequest(t *testing.T) {
	handler := &recordingAgent{}
	d := New(staticProps{active: true}, map[string]trading.Agent{"": handler, "paper": handler}, nil)

	for _, req := range []*trading.Request{nil, newRequest(""), {Site: "paper"}} {
		if got := d.Manage(context.Background(), nil, req, nil); len(got) != 0 {
			t.Fatalf("expected empty manage result, got %v", got)
		}
		if got := d.Reconcile(context.Background(), nil, req, nil); len(got) != 0 {
			t.Fatalf("expected empty reconcile result, got %v", got)
		}
	}
	if handler.manageCalls != 0 || handler.reconcileCalls != 0 {
		t.Fatalf("expected no handler calls, got manage=%d reconcile=%d", handler.manageCalls, handler.reconcileCalls)
	}
}

func TestDispatcherUnknownSite(t *testing.T) {
	handler := &recordingAgent{}
	d := New(staticProps{active: true}, map[string]trading.Agent{"paper": handler}, nil)
	if got := d.Manage(context.Background(), nil, newRequest("other"), nil); len(got) != 0 {
		t.Fatalf("expected empty result, got %v", got)
	}
	if got := d.Reconcile(context.Background(), nil, newRequest("other"), nil); len(got) != 0 {
		t.Fatalf("expected empty result, got %v", got)
	}
	if handler.manageCalls != 0 || handler.reconcileCalls != 0 {
		t.Fatalf("expected no handler calls")
	}
}

func TestDispatcherAbsentInputsAndResults(t *testing.T) {
	handler := &recordingAgent{}
	d := New(staticProps{active: true}, map[string]trading.Agent{"paper": handler}, nil)

	got := d.Manage(context.Background(), nil, newRequest("paper"), nil)
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil result, got %v", got)
	}
	if handler.lastInstr == nil {
		t.Fatalf("expected absent instructions to be passed as empty")
	}
	reconciled := d.Reconcile(context.Background(), nil, newRequest("paper"), nil)
	if reconciled == nil || len(reconciled) != 0 {
		t.Fatalf("expected empty non-nil result, got %v", reconciled)
	}
	if handler.lastManaged == nil {
		t.Fatalf("expected absent mapping to be passed as empty")
	}
}
