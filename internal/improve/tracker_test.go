package improve

import (
	"errors"
	"testing"
)

func TestTrackerHappyPath(t *testing.T) {
	tr := NewTracker()

	tk, err := tr.Begin(5)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if tr.State(5) != Pending {
		t.Errorf("state = %v, want pending", tr.State(5))
	}

	res, err := tr.Complete(tk, "we should ship friday", "We should ship on Friday.")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res.Text != "We should ship on Friday." {
		t.Errorf("text = %q", res.Text)
	}
	if len(res.Diff) == 0 {
		t.Error("expected a diff")
	}
	if tr.State(5) != Improved {
		t.Errorf("state = %v, want improved", tr.State(5))
	}
}

func TestTrackerRejectsConcurrentRequest(t *testing.T) {
	tr := NewTracker()
	if _, err := tr.Begin(1); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := tr.Begin(1); !errors.Is(err, ErrAlreadyInProgress) {
		t.Errorf("second begin: got %v, want ErrAlreadyInProgress", err)
	}
	// Other chunks are independent.
	if _, err := tr.Begin(2); err != nil {
		t.Errorf("begin other chunk: %v", err)
	}
}

func TestTrackerDropsStaleResponse(t *testing.T) {
	tr := NewTracker()

	first, _ := tr.Begin(5)
	tr.Fail(first, errors.New("timeout"))
	second, _ := tr.Begin(5)

	if _, err := tr.Complete(first, "a", "old"); !errors.Is(err, ErrStaleImprovement) {
		t.Errorf("old ticket: got %v, want ErrStaleImprovement", err)
	}
	res, err := tr.Complete(second, "a", "new")
	if err != nil {
		t.Fatalf("current ticket: %v", err)
	}
	if res.Text != "new" || tr.State(5) != Improved {
		t.Errorf("result = %q, state = %v", res.Text, tr.State(5))
	}
}

func TestTrackerResetMakesInFlightTicketsStale(t *testing.T) {
	tr := NewTracker()
	old, _ := tr.Begin(1)

	tr.Reset()
	cur, err := tr.Begin(1)
	if err != nil {
		t.Fatalf("begin after reset: %v", err)
	}
	if cur.Seq == old.Seq {
		t.Fatalf("sequence reused after reset: %d", cur.Seq)
	}

	if _, err := tr.Complete(old, "a one", "rewrite of a one"); !errors.Is(err, ErrStaleImprovement) {
		t.Errorf("ticket from before reset: got %v, want ErrStaleImprovement", err)
	}
	if tr.State(1) != Pending {
		t.Errorf("state = %v, want pending", tr.State(1))
	}
	if _, err := tr.Complete(cur, "b one", "rewrite of b one"); err != nil {
		t.Errorf("current ticket: %v", err)
	}
}

func TestTrackerSupersede(t *testing.T) {
	tr := NewTracker()
	tk, _ := tr.Begin(5)

	tr.Supersede(5)
	if tr.State(5) != Untouched {
		t.Errorf("state after supersede = %v, want untouched", tr.State(5))
	}
	if _, err := tr.Complete(tk, "a", "b"); !errors.Is(err, ErrStaleImprovement) {
		t.Errorf("complete after supersede: got %v, want ErrStaleImprovement", err)
	}
}

func TestTrackerFail(t *testing.T) {
	tr := NewTracker()
	tk, _ := tr.Begin(3)
	cause := errors.New("model unavailable")

	if err := tr.Fail(tk, cause); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if tr.State(3) != Failed {
		t.Errorf("state = %v, want failed", tr.State(3))
	}
	if !errors.Is(tr.Err(3), cause) {
		t.Errorf("Err = %v", tr.Err(3))
	}
	// A failed chunk can be retried.
	if _, err := tr.Begin(3); err != nil {
		t.Errorf("retry after failure: %v", err)
	}
}

func TestDiffAndRender(t *testing.T) {
	ops := Diff("ship friday", "ship on friday")
	got := Render(ops)
	if got != "ship {+on +}friday" {
		t.Errorf("Render = %q", got)
	}

	if ops := Diff("same", "same"); len(ops) != 1 || ops[0].Op != OpEqual {
		t.Errorf("identical text diff = %+v", ops)
	}
}
