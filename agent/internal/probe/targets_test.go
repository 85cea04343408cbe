package probe

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/obsidianstack/slaprobe/agent/internal/config"
	"github.com/obsidianstack/slaprobe/agent/internal/record"
	"github.com/obsidianstack/slaprobe/agent/internal/store"
)

// useTargets replaces the harness targets, deriving each from the default one.
func (h *harness) useTargets(edit ...func(*config.Target)) {
	cfg := *h.holder.Load()
	base := cfg.Targets[0]
	cfg.Targets = make([]config.Target, 0, len(edit))
	for _, fn := range edit {
		tgt := base
		fn(&tgt)
		cfg.Targets = append(cfg.Targets, tgt)
	}
	h.holder.Store(&cfg)
}

// sequentialIDs makes request ids reveal the order attempts were made in.
func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("req-%d", n)
	}
}

func (h *harness) records(t *testing.T) map[string]record.SubmissionRecord {
	t.Helper()
	entries, _, err := store.NewTable[record.SubmissionRecord](h.kv, store.Records).All(context.Background())
	if err != nil {
		t.Fatalf("scan records: %v", err)
	}
	byID := make(map[string]record.SubmissionRecord, len(entries))
	for _, e := range entries {
		byID[e.Value.RequestID] = e.Value
	}
	return byID
}

func TestSender_FailingTargetDoesNotBlockTheNext(t *testing.T) {
	h := newHarness(t, 20*time.Second)
	// chain-z sorts after chain-b, so record order below is config order,
	// not key order.
	h.useTargets(
		func(tgt *config.Target) {
			tgt.ID = "chain-z"
			tgt.SubmitURL = "http://127.0.0.1:1/submit"
		},
		func(tgt *config.Target) { tgt.ID = "chain-b" },
	)
	h.sender.newID = sequentialIDs()

	h.sender.Tick(context.Background())

	if b := h.bucket(t, "chain-z", minuteAt(0)); b.SentFailed != 1 || b.Sent != 0 {
		t.Errorf("chain-z bucket = %+v, want sent_failed=1", b)
	}
	if b := h.bucket(t, "chain-b", minuteAt(0)); b.Sent != 1 || b.SentFailed != 0 {
		t.Errorf("chain-b bucket = %+v, want sent=1", b)
	}

	pending := h.pending(t)
	if len(pending) != 1 || pending[0].Target != "chain-b" {
		t.Fatalf("pending = %+v, want one chain-b entry", pending)
	}

	recs := h.records(t)
	if len(recs) != 2 {
		t.Fatalf("submission records = %d, want 2", len(recs))
	}
	if recs["req-1"].Target != "chain-z" || recs["req-1"].Error == "" {
		t.Errorf("first attempt = %+v, want failed chain-z", recs["req-1"])
	}
	if recs["req-2"].Target != "chain-b" || recs["req-2"].Status != 200 {
		t.Errorf("second attempt = %+v, want accepted chain-b", recs["req-2"])
	}
}

func TestValidator_FailingTargetDoesNotBlockTheNext(t *testing.T) {
	h := newHarness(t, 20*time.Second)
	ctx := context.Background()
	h.useTargets(
		func(tgt *config.Target) { tgt.ID = "chain-a" },
		func(tgt *config.Target) { tgt.ID = "chain-b" },
	)
	h.sender.Tick(ctx)
	if n := len(h.pending(t)); n != 2 {
		t.Fatalf("pending entries = %d, want 2", n)
	}

	// chain-a is scanned first and its status endpoint is unreachable.
	h.useTargets(
		func(tgt *config.Target) {
			tgt.ID = "chain-a"
			tgt.ProbeURL = "http://127.0.0.1:1/tx/{hash}"
		},
		func(tgt *config.Target) { tgt.ID = "chain-b" },
	)
	h.svc.probeBody.Store(`{"code":200}`)
	h.validator.newID = sequentialIDs()
	h.clock.Set(5 * time.Second)
	h.validator.Tick(ctx)

	pending := h.pending(t)
	if len(pending) != 1 || pending[0].Target != "chain-a" {
		t.Fatalf("pending = %+v, want only chain-a left", pending)
	}
	if b := h.bucket(t, "chain-b", minuteAt(0)); b.Confirmed != 1 {
		t.Errorf("chain-b bucket = %+v, want confirmed=1", b)
	}
	if b := h.bucket(t, "chain-a", minuteAt(0)); b.Confirmed != 0 || b.TimedOut != 0 {
		t.Errorf("chain-a bucket = %+v, want no outcome", b)
	}

	recs := h.records(t)
	if r := recs["req-1"]; r.Target != "chain-a" || r.Kind != record.KindProbe || r.Error == "" {
		t.Errorf("first status check = %+v, want failed chain-a", r)
	}
	if r := recs["req-2"]; r.Target != "chain-b" || r.Status != 200 {
		t.Errorf("second status check = %+v, want confirmed chain-b", r)
	}
}
