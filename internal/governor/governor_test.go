package governor

import (
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/tommie/openepo/internal/codec"
	"github.com/tommie/openepo/internal/scheduler"
)

func TestStartNotReadyUntilDelayElapses(t *testing.T) {
	sch := scheduler.NewFake()
	g := New(Config{
		PreambleDuration: time.Millisecond,
		StartupDelay:     100 * time.Millisecond,
		Scheduler:        sch,
	})

	g.Start()
	if g.Ready() {
		t.Fatal("Ready before startup delay elapsed")
	}

	sch.Advance(99)
	if g.Ready() {
		t.Fatal("Ready one ms before startup delay elapses")
	}

	sch.Advance(1)
	if !g.Ready() {
		t.Fatal("not Ready after startup delay elapsed")
	}
}

func TestStartZeroDelayImmediatelyReady(t *testing.T) {
	g := New(Config{Scheduler: scheduler.NewFake()})
	g.Start()
	if !g.Ready() {
		t.Fatal("not Ready with zero startup delay")
	}
}

func TestReceptionErrorArmsHoldOff(t *testing.T) {
	sch := scheduler.NewFake()
	g := New(Config{
		PreambleDuration: time.Millisecond,
		Scheduler:        sch,
	})
	g.Start()
	if !g.Ready() {
		t.Fatal("not Ready before any error")
	}

	g.OnReceptionError()
	if g.Ready() {
		t.Fatal("Ready immediately after a reception error")
	}

	sch.Advance(HoldOffPreambles - 1)
	if g.Ready() {
		t.Fatal("Ready one unit before hold-off window elapses")
	}

	sch.Advance(1)
	if !g.Ready() {
		t.Fatal("not Ready after hold-off window elapses")
	}
}

func TestReceptionErrorDuringHoldOffRestartsWindow(t *testing.T) {
	sch := scheduler.NewFake()
	g := New(Config{
		PreambleDuration: time.Millisecond,
		Scheduler:        sch,
	})
	g.Start()

	g.OnReceptionError()
	sch.Advance(HoldOffPreambles - 1)
	g.OnReceptionError() // restarts the window

	sch.Advance(HoldOffPreambles - 1)
	if g.Ready() {
		t.Fatal("Ready before the restarted hold-off window elapsed")
	}

	sch.Advance(1)
	if !g.Ready() {
		t.Fatal("not Ready after the restarted hold-off window elapsed")
	}
}

func TestAllowAdmissionUnlimitedType(t *testing.T) {
	g := New(Config{Scheduler: scheduler.NewFake()})
	for i := 0; i < 100; i++ {
		if !g.AllowAdmission(codec.MessageAct) {
			t.Fatalf("AllowAdmission denied call %d for an unconfigured type", i)
		}
	}
}

func TestAllowAdmissionRateLimited(t *testing.T) {
	g := New(Config{
		Scheduler: scheduler.NewFake(),
		AdmissionRates: map[codec.MessageType]rate.Limit{
			codec.MessageAct: rate.Limit(3),
		},
	})

	allowed := 0
	for i := 0; i < 10; i++ {
		if g.AllowAdmission(codec.MessageAct) {
			allowed++
		}
	}
	if allowed == 0 || allowed >= 10 {
		t.Errorf("allowed = %d of 10 immediate calls, want a burst-limited subset", allowed)
	}
}

func TestBurstSendsThreeTimesSpaced(t *testing.T) {
	sch := scheduler.NewFake()
	g := New(Config{
		PreambleDuration: time.Millisecond,
		Scheduler:        sch,
	})

	var sends []int64
	g.Burst(func() {
		sends = append(sends, sch.Now())
	})

	if len(sends) != 1 || sends[0] != 0 {
		t.Fatalf("expected one immediate send at t=0, got %v", sends)
	}

	sch.Advance(BurstSpacingPreambles)
	sch.Advance(BurstSpacingPreambles)

	if len(sends) != 3 {
		t.Fatalf("expected 3 sends after advancing through both intervals, got %d: %v", len(sends), sends)
	}
	if sends[1] != BurstSpacingPreambles {
		t.Errorf("second send at t=%d, want %d", sends[1], BurstSpacingPreambles)
	}
	if sends[2] != 2*BurstSpacingPreambles {
		t.Errorf("third send at t=%d, want %d", sends[2], 2*BurstSpacingPreambles)
	}
}

func TestSpacing(t *testing.T) {
	g := New(Config{
		PreambleDuration: 2 * time.Millisecond,
		Scheduler:        scheduler.NewFake(),
	})
	want := 2 * SpacingPreambles * time.Millisecond
	if got := g.Spacing(); got != want {
		t.Errorf("Spacing() = %v, want %v", got, want)
	}
}
