// Package governor implements the rate/error governor (C6): per-type
// admission limiting for human-initiated message types, the framing-error
// and auth-failure hold-off silence, the STARTING startup delay, and the
// burst/spacing cadence the transmitter uses when emitting frames on the
// radio link. All windows are expressed in multiples of one preamble length, per
// the design notes, and are driven through a scheduler.Scheduler so tests
// can advance a fake clock deterministically.
package governor

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tommie/openepo/internal/codec"
	"github.com/tommie/openepo/internal/scheduler"
)

// Windows expressed in preamble lengths.
const (
	// HoldOffPreambles is the silence enforced after any framing/data
	// error or auth failure before a new preamble is accepted.
	HoldOffPreambles = 64
	// BurstSpacingPreambles is the minimum spacing between the three
	// transmissions of a bursted frame.
	BurstSpacingPreambles = 128
	// SpacingPreambles is the minimum spacing between unbursted frames,
	// and between whole bursts.
	SpacingPreambles = 1024
)

// Config configures a Governor.
type Config struct {
	// PreambleDuration is the wall-clock duration of one preamble at the
	// medium's current symbol unit; HoldOffPreambles, BurstSpacingPreambles
	// and SpacingPreambles are all multiples of it.
	PreambleDuration time.Duration

	// AdmissionRates optionally caps the per-type admission rate for
	// human-initiated message types (3-10/s is suggested by the design
	// notes). A type absent from the map is unlimited.
	AdmissionRates map[codec.MessageType]rate.Limit

	// StartupDelay holds the governor not-ready at boot, so a power
	// cycle cannot reset an admission limiter below this much worth of
	// history. The design notes suggest at least 100ms.
	StartupDelay time.Duration

	Scheduler scheduler.Scheduler
}

// Governor is the rate/error governor (C6).
type Governor struct {
	cfg Config

	mu            sync.Mutex
	limiters      map[codec.MessageType]*rate.Limiter
	started       bool
	holdOff       bool
	holdOffCancel scheduler.Cancel
}

// New returns a Governor that is not yet started; call Start once the
// owning FSM enters its STARTING state.
func New(cfg Config) *Governor {
	g := &Governor{
		cfg:      cfg,
		limiters: make(map[codec.MessageType]*rate.Limiter, len(cfg.AdmissionRates)),
	}
	for t, r := range cfg.AdmissionRates {
		g.limiters[t] = rate.NewLimiter(r, admissionBurst(r))
	}
	return g
}

func admissionBurst(r rate.Limit) int {
	b := int(r)
	if b < 1 {
		b = 1
	}
	return b
}

// Start arms the STARTING delay. The governor is not Ready until the
// delay elapses, even if it has never seen an error.
func (g *Governor) Start() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cfg.StartupDelay <= 0 {
		g.started = true
		return
	}
	g.cfg.Scheduler.SetTimeout(g.cfg.StartupDelay.Milliseconds(), func() {
		g.mu.Lock()
		g.started = true
		g.mu.Unlock()
	})
}

// OnReceptionError arms (or re-arms) the hold-off silence in response to a
// framing/data error from C1 or an auth failure from C2. A new error
// during an existing hold-off restarts the window.
func (g *Governor) OnReceptionError() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.holdOffCancel != nil {
		g.holdOffCancel()
	}
	g.holdOff = true
	ms := (g.cfg.PreambleDuration * HoldOffPreambles).Milliseconds()
	g.holdOffCancel = g.cfg.Scheduler.SetTimeout(ms, func() {
		g.mu.Lock()
		g.holdOff = false
		g.mu.Unlock()
	})
}

// Ready reports whether the governor currently admits new preambles: the
// startup delay has elapsed and no hold-off silence is active.
func (g *Governor) Ready() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.started && !g.holdOff
}

// AllowAdmission reports whether a frame of the given message type may be
// accepted under the per-type admission limit. Types with no configured
// limit are always allowed.
func (g *Governor) AllowAdmission(t codec.MessageType) bool {
	g.mu.Lock()
	l := g.limiters[t]
	g.mu.Unlock()
	if l == nil {
		return true
	}
	return l.Allow()
}

// Burst schedules send to run now and twice more, BurstSpacingPreambles
// preamble-lengths apart, implementing the bursting-sender rule for a
// frame marked as needing a burst. The returned Cancel stops any
// transmissions not yet sent.
func (g *Governor) Burst(send func()) scheduler.Cancel {
	spacing := g.cfg.PreambleDuration * BurstSpacingPreambles

	send()
	c1 := g.cfg.Scheduler.SetTimeout(spacing.Milliseconds(), send)
	c2 := g.cfg.Scheduler.SetTimeout(2*spacing.Milliseconds(), send)
	return func() {
		c1()
		c2()
	}
}

// Spacing returns the minimum duration that must separate unbursted
// frames, and whole bursts from one another.
func (g *Governor) Spacing() time.Duration {
	return g.cfg.PreambleDuration * SpacingPreambles
}
