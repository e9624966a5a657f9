package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/huh/spinner"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/tommie/openepo/internal/codec"
	"github.com/tommie/openepo/internal/config"
	"github.com/tommie/openepo/internal/entropy"
	"github.com/tommie/openepo/internal/governor"
	"github.com/tommie/openepo/internal/host"
	"github.com/tommie/openepo/internal/logging"
	"github.com/tommie/openepo/internal/persistence"
	"github.com/tommie/openepo/internal/receiver"
	"github.com/tommie/openepo/internal/scheduler"
)

var (
	pairStyleOK   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	pairStyleFail = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203"))
)

// pairFlags holds pairCmd's flag values.
type pairFlags struct {
	configPath string
	secret     string
}

// pairCmd drives a single interactive pairing session on a receiver
// started fresh for the occasion: a human confirms they're ready to press
// the fob, the receiver's 10s PAIRING window runs against a spinner, and
// the outcome is printed. Unlike serveCmd, this is a one-shot operator
// tool, not a long-lived device process — it needs no metrics endpoint
// and exits once the window resolves.
func pairCmd() *cobra.Command {
	flags := &pairFlags{}
	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Interactively pair a new transmitter onto this receiver",
		Long: `pair starts this receiver, arms a single PAIRING window, and waits for
a HELLO/BIND exchange over the configured private and public bus
transports, showing progress with a spinner. It exits as soon as the
window resolves, successfully or not.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			if cfg.Device.Role != "receiver" {
				return fmt.Errorf("pair: device.role must be receiver, got %q", cfg.Device.Role)
			}
			return runPair(cmd.Context(), cfg, flags)
		},
	}
	cmd.Flags().StringVar(&flags.configPath, "config", "openepo.yaml", "path to the receiver config file")
	cmd.Flags().StringVar(&flags.secret, "secret", "", "master secret sealing the persisted session table (required)")
	return cmd
}

func runPair(ctx context.Context, cfg *config.Config, flags *pairFlags) error {
	if flags.secret == "" {
		return fmt.Errorf("pair: --secret is required to seal persisted state")
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var proceed bool
	if err := huh.NewConfirm().
		Title("Put the new transmitter within line of sight of the private channel.").
		Description("This receiver will broadcast HELLO for up to 10 seconds once you confirm.").
		Affirmative("Ready").
		Negative("Cancel").
		Value(&proceed).
		Run(); err != nil {
		return fmt.Errorf("pair: reading confirmation: %w", err)
	}
	if !proceed {
		fmt.Println("Pairing cancelled.")
		return nil
	}

	logger := logging.NewLogger(cfg.Device.LogLevel, cfg.Device.LogFormat)
	sch := scheduler.NewReal()
	src := entropy.CryptoSource{}
	store := persistence.New([]byte(flags.secret), src)

	publicBus, closePublic, err := dialOrListenRadio(ctx, true, cfg.Transport.PublicAddress, cfg.Transport.ALPN)
	if err != nil {
		return err
	}
	defer closePublic()

	privateBus, closePrivate, err := dialOrListenLight(ctx, true, cfg.Transport.PrivateAddress)
	if err != nil {
		return err
	}
	defer closePrivate()

	ifaces, err := cfg.Interfaces()
	if err != nil {
		return err
	}
	defaultAlgo, err := cfg.Algorithm()
	if err != nil {
		return err
	}
	govCfg, err := cfg.GovernorConfigFor(sch)
	if err != nil {
		return err
	}

	rxHost := &pairWizardHost{logger: logger}
	rx := receiver.New(receiver.Config{
		Interfaces:      ifaces,
		Algorithms:      []codec.ProtectionAlgorithm{defaultAlgo},
		SessionCapacity: cfg.Protocol.SessionCapacity,
		PublicBus:       publicBus,
		PrivateBus:      privateBus,
		Scheduler:       sch,
		Governor:        governor.New(govCfg),
		EntropySource:   src,
		Host:            rxHost,
		Logger:          logger,
	})
	defer rx.Close()

	sessionsPath := cfg.Device.DataDir + "/" + sessionsFile
	if err := store.LoadReceiverSessions(sessionsPath, rx.Store()); err != nil && err != persistence.ErrNotExist {
		logger.Error("loading persisted sessions", logging.KeyError, err)
	}
	before := rx.Store().Size()

	// Give the receiver's STARTING delay time to elapse so set_pairing,
	// which is only honored from CONFIGURING, has a state to act on.
	time.Sleep(receiverStartupGrace)

	if err := spinner.New().
		Title("Waiting for a BIND from the new transmitter...").
		Action(func() {
			rx.SetPairing()
			deadline := time.After(receiver.PairingTimeout + time.Second)
			poll := time.NewTicker(100 * time.Millisecond)
			defer poll.Stop()
			for {
				select {
				case <-poll.C:
					if rx.Store().Size() > before {
						return
					}
				case <-deadline:
					return
				case <-ctx.Done():
					return
				}
			}
		}).
		Run(); err != nil {
		return fmt.Errorf("pair: running spinner: %w", err)
	}

	paired := rx.Store().Size() > before
	if paired {
		logger.Info("pairing complete", logging.KeyCount, rx.Store().Size())
		fmt.Println(pairStyleOK.Render("Pairing complete."))
	} else {
		fmt.Println(pairStyleFail.Render("Pairing window closed without a successful BIND."))
	}

	if err := store.SaveReceiverSessions(sessionsPath, rx.Store()); err != nil {
		return fmt.Errorf("pair: saving sessions: %w", err)
	}
	return nil
}

// receiverStartupGrace comfortably exceeds receiver.StartupDelay so
// set_pairing is issued after the receiver has left STARTING. It takes
// effect only if the receiver settled into CONFIGURING (no persisted
// sessions); a receiver that settled into IDLE ignores it.
const receiverStartupGrace = 150 * time.Millisecond

// pairWizardHost logs receiver state transitions during an interactive
// pairing session. Success or failure is read back from the session
// store's size, not from a state-change callback, since both a
// successful BIND and an unresolved PAIRING timeout land the receiver in
// CONFIGURING (see internal/receiver.handleBind and .pairingTimeout).
type pairWizardHost struct {
	logger interface{ Info(string, ...any) }
}

func (h *pairWizardHost) StateChanged(s host.ReceiverState) {
	h.logger.Info("receiver state changed", logging.KeyState, s.String())
}

func (h *pairWizardHost) Act(host.Action)     {}
func (h *pairWizardHost) AttemptedReception() {}
