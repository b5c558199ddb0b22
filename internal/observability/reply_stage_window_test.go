package observability

import "testing"

func TestReplyStageWindowSnapshot(t *testing.T) {
	w := newReplyStageWindow(8)
	w.Observe("invoke_model", 500)
	w.Observe("invoke_model", 700)
	w.Observe("invoke_model", 900)

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != "invoke_model" {
		t.Fatalf("Stage = %q, want %q", s.Stage, "invoke_model")
	}
	if s.Samples != 3 {
		t.Fatalf("Samples = %d, want 3", s.Samples)
	}
	if s.LastMS != 900 {
		t.Fatalf("LastMS = %.2f, want 900", s.LastMS)
	}
	if s.P50MS != 700 {
		t.Fatalf("P50MS = %.2f, want 700", s.P50MS)
	}
	if s.P95MS <= 700 || s.P95MS > 900 {
		t.Fatalf("P95MS = %.2f, want (700,900]", s.P95MS)
	}
	if s.TargetP95MS != 15000 {
		t.Fatalf("TargetP95MS = %.2f, want 15000", s.TargetP95MS)
	}
}

func TestReplyStageWindowWrapsAndResets(t *testing.T) {
	w := newReplyStageWindow(4)
	for i := 0; i < 10; i++ {
		w.Observe("persist", float64(i))
	}
	snap := w.Snapshot()
	if len(snap.Stages) != 1 || snap.Stages[0].Samples != 4 {
		t.Fatalf("Samples = %+v, want 4 after wrap", snap.Stages)
	}

	w.Reset()
	if got := w.Snapshot(); len(got.Stages) != 0 {
		t.Fatalf("Snapshot() after Reset has %d stages, want 0", len(got.Stages))
	}
}
