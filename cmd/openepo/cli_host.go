package main

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/tommie/openepo/internal/host"
	"github.com/tommie/openepo/internal/logging"
)

// cliTransmitterHost prints transmitter FSM events to stdout/logger and
// lets callers wait for a pairing outcome via PairedCh.
type cliTransmitterHost struct {
	logger   *slog.Logger
	PairedCh chan bool
}

func newCLITransmitterHost(logger *slog.Logger) *cliTransmitterHost {
	return &cliTransmitterHost{logger: logger, PairedCh: make(chan bool, 1)}
}

func (h *cliTransmitterHost) StateChanged(s host.TransmitterState) {
	h.logger.Info("transmitter state changed", logging.KeyState, s.String())
}

func (h *cliTransmitterHost) PairingChanged(paired bool) {
	h.logger.Info("transmitter pairing changed", "paired", paired)
	select {
	case h.PairedCh <- paired:
	default:
	}
}

// cliReceiverHost drives a simulated actuator (a lock that toggles open on
// every Act) and prints receiver FSM events.
type cliReceiverHost struct {
	logger *slog.Logger
	locked atomic.Bool
}

func newCLIReceiverHost(logger *slog.Logger) *cliReceiverHost {
	h := &cliReceiverHost{logger: logger}
	h.locked.Store(true)
	return h
}

func (h *cliReceiverHost) StateChanged(s host.ReceiverState) {
	h.logger.Info("receiver state changed", logging.KeyState, s.String())
}

func (h *cliReceiverHost) Act(a host.Action) {
	locked := !h.locked.Load()
	h.locked.Store(locked)
	state := "LOCKED"
	if !locked {
		state = "UNLOCKED"
	}
	h.logger.Info("action dispatched", logging.KeyInterface, a.Interface.String(), "actuator_state", state)
	fmt.Printf("  >> %s is now %s\n", a.Interface.String(), state)
}

func (h *cliReceiverHost) AttemptedReception() {
	h.logger.Warn("attempted reception failed authentication")
}
