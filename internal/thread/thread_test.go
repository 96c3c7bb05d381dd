package thread

import "testing"

func TestNewClampsPriority(t *testing.T) {
	hi := New(1, "hi", 9999, 0.5)
	if hi.Priority != MaxPriority {
		t.Fatalf("Priority = %d, want %d", hi.Priority, MaxPriority)
	}
	lo := New(2, "lo", -5, 0.5)
	if lo.Priority != MinPriority {
		t.Fatalf("Priority = %d, want %d", lo.Priority, MinPriority)
	}
}

func TestLevel(t *testing.T) {
	cases := []struct {
		priority, want int
	}{
		{149, 1},
		{100, 1},
		{99, 2},
		{50, 2},
		{49, 3},
		{0, 3},
	}
	for _, c := range cases {
		if got := Level(c.priority); got != c.want {
			t.Errorf("Level(%d) = %d, want %d", c.priority, got, c.want)
		}
	}
}

func TestBumpSaturates(t *testing.T) {
	tc := New(1, "t", MaxPriority-5, 0.5)
	if got := tc.Bump(); got != MaxPriority {
		t.Fatalf("Bump() = %d, want %d", got, MaxPriority)
	}
	if got := tc.Bump(); got != MaxPriority {
		t.Fatalf("second Bump() = %d, want %d (saturated)", got, MaxPriority)
	}
}

func TestBurstEstimatorBlockThenRerun(t *testing.T) {
	tc := New(1, "t", 120, 0.5)
	tc.EnterFirstReady(0)
	tc.EnterRunning(0)

	// Ran for 10 ticks then blocked.
	tc.EnterBlockedFromRunning(10)
	if tc.CurrBurst != 5 {
		t.Fatalf("CurrBurst after first block = %v, want 5 (0.5*10 + 0.5*0)", tc.CurrBurst)
	}
	if tc.TotalRunning != 0 {
		t.Fatalf("TotalRunning after block = %v, want 0 (reset)", tc.TotalRunning)
	}

	tc.EnterFirstReady(10) // not realistic re-entry but exercises the reset path independently
	tc.Status = Blocked
	tc.EnterRunning(20)
	tc.EnterBlockedFromRunning(26) // ran 6 ticks
	want := 0.5*6 + 0.5*0 // EnterFirstReady zeroed the previous estimate of 5
	if tc.CurrBurst != want {
		t.Fatalf("CurrBurst after second block = %v, want %v", tc.CurrBurst, want)
	}
}

func TestBurstEstimatorPreemption(t *testing.T) {
	tc := New(1, "t", 120, 0.3)
	tc.CurrBurst = 20
	tc.EnterRunning(100)

	tc.EnterReadyFromRunning(108) // ran 8 ticks, preempted before finishing
	if tc.TotalRunning != 8 {
		t.Fatalf("TotalRunning = %v, want 8", tc.TotalRunning)
	}
	if tc.CurrBurst != 20 {
		t.Fatalf("CurrBurst changed on preemption: %v, want unchanged 20", tc.CurrBurst)
	}
	if tc.RemBurst != 12 {
		t.Fatalf("RemBurst = %v, want 12", tc.RemBurst)
	}
}

func TestRemainingBurstLiveEstimate(t *testing.T) {
	tc := New(1, "t", 120, 0.5)
	tc.CurrBurst = 30
	tc.TotalRunning = 5
	tc.EnterRunning(50)

	got := tc.RemainingBurst(60) // 10 ticks elapsed this dispatch
	want := 30.0 - (10.0 + 5.0)
	if got != want {
		t.Fatalf("RemainingBurst = %v, want %v", got, want)
	}
}
