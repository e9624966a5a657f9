package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/tommie/openepo/internal/bus"
	"github.com/tommie/openepo/internal/codec"
	"github.com/tommie/openepo/internal/config"
	"github.com/tommie/openepo/internal/entropy"
	"github.com/tommie/openepo/internal/governor"
	"github.com/tommie/openepo/internal/host"
	"github.com/tommie/openepo/internal/logging"
	"github.com/tommie/openepo/internal/metrics"
	"github.com/tommie/openepo/internal/persistence"
	"github.com/tommie/openepo/internal/receiver"
	"github.com/tommie/openepo/internal/scheduler"
	"github.com/tommie/openepo/internal/transmitter"
	"github.com/tommie/openepo/internal/transportbus/demotls"
	"github.com/tommie/openepo/internal/transportbus/light"
	"github.com/tommie/openepo/internal/transportbus/radio"
)

// serveFlags holds the flag values serveCmd parses; kept as a struct so
// RunE has something concrete to close over instead of package globals.
type serveFlags struct {
	configPath  string
	listen      bool
	metricsAddr string
	secret      string
}

// serveCmd runs one long-lived device process: a transmitter or a
// receiver (selected by the config file's device.role), talking over the
// demo radio/light network transports instead of internal/bus.Memory, with
// its state persisted to disk and its counters exported over Prometheus.
func serveCmd() *cobra.Command {
	flags := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a transmitter or receiver device process",
		Long: `serve starts one device process — a transmitter (e.g. a key fob) or a
receiver (e.g. a lock controller) depending on the config file's
device.role — wired to the demo QUIC/WebSocket network transports, with
its pairing state persisted under device.data_dir and its counters
exported at --metrics-addr/metrics.

Exactly one side of a pairing must pass --listen; the other dials it. A
receiver is the natural listener since it owns the session table, but
either role can take either transport position for the demo.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, flags)
		},
	}
	cmd.Flags().StringVar(&flags.configPath, "config", "openepo.yaml", "path to the device config file")
	cmd.Flags().BoolVar(&flags.listen, "listen", false, "listen for the peer transport connection instead of dialing it")
	cmd.Flags().StringVar(&flags.metricsAddr, "metrics-addr", "127.0.0.1:9090", "address to serve Prometheus metrics on")
	cmd.Flags().StringVar(&flags.secret, "secret", "", "master secret sealing the persisted state file (required)")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, flags *serveFlags) error {
	if flags.secret == "" {
		return fmt.Errorf("serve: --secret is required to seal persisted state")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.NewLogger(cfg.Device.LogLevel, cfg.Device.LogFormat)
	sch := scheduler.NewReal()
	src := entropy.CryptoSource{}
	reg := prometheus.NewRegistry()
	m := metrics.NewMetricsWithRegistry(reg)
	store := persistence.New([]byte(flags.secret), src)

	if err := os.MkdirAll(cfg.Device.DataDir, 0700); err != nil {
		return fmt.Errorf("serve: creating data dir: %w", err)
	}

	publicBus, closePublic, err := dialOrListenRadio(ctx, flags.listen, cfg.Transport.PublicAddress, cfg.Transport.ALPN)
	if err != nil {
		return err
	}
	defer closePublic()

	privateBus, closePrivate, err := dialOrListenLight(ctx, flags.listen, cfg.Transport.PrivateAddress)
	if err != nil {
		return err
	}
	defer closePrivate()

	go serveMetrics(ctx, logger, flags.metricsAddr, reg)

	switch cfg.Device.Role {
	case "receiver":
		return runReceiverProcess(ctx, cfg, logger, sch, src, store, m, publicBus, privateBus)
	case "transmitter":
		return runTransmitterProcess(ctx, cfg, logger, sch, src, store, m, publicBus, privateBus)
	default:
		return fmt.Errorf("serve: unknown device.role %q", cfg.Device.Role)
	}
}

func dialOrListenRadio(ctx context.Context, listen bool, addr, alpn string) (bus.Bus, func(), error) {
	b := radio.New(nil)
	if listen {
		tlsConfig, err := demotls.Server("openepo-radio", []net.IP{net.ParseIP("127.0.0.1")}, alpn)
		if err != nil {
			return nil, nil, fmt.Errorf("serve: generating radio server cert: %w", err)
		}
		if err := b.Listen(ctx, addr, tlsConfig); err != nil {
			return nil, nil, fmt.Errorf("serve: listening on public bus: %w", err)
		}
	} else if err := b.Dial(ctx, addr, demotls.Client(alpn)); err != nil {
		return nil, nil, fmt.Errorf("serve: dialing public bus: %w", err)
	}
	return b, func() { _ = b.Close() }, nil
}

func dialOrListenLight(ctx context.Context, listen bool, addr string) (bus.Bus, func(), error) {
	b := light.New(nil)
	if listen {
		if err := b.Listen(ctx, addr, nil); err != nil {
			return nil, nil, fmt.Errorf("serve: listening on private bus: %w", err)
		}
	} else if err := b.Dial(ctx, addr, nil); err != nil {
		return nil, nil, fmt.Errorf("serve: dialing private bus: %w", err)
	}
	return b, func() { _ = b.Close() }, nil
}

func serveMetrics(ctx context.Context, logger *slog.Logger, addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving metrics", logging.KeyAddress, addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server stopped", logging.KeyError, err)
	}
}

// metricsReceiverHost wraps a ReceiverHost, recording Prometheus counters
// around every callback before forwarding to the wrapped host. Kept
// outside internal/receiver so the core stays free of a metrics
// dependency, per the design notes' "no global mutable state in the core".
type metricsReceiverHost struct {
	host.ReceiverHost
	m *metrics.Metrics
}

func (h metricsReceiverHost) StateChanged(s host.ReceiverState) {
	if s == host.ReceiverPairing {
		h.m.RecordPairingStart()
	}
	h.ReceiverHost.StateChanged(s)
}

func (h metricsReceiverHost) Act(a host.Action) {
	h.m.RecordAct(a.Interface.String())
	h.m.RecordFrameAccepted("ACT")
	h.ReceiverHost.Act(a)
}

func (h metricsReceiverHost) AttemptedReception() {
	h.m.RecordAuthFailure()
	h.ReceiverHost.AttemptedReception()
}

// metricsTransmitterHost distinguishes a PAIRING window timing out (no
// PairingChanged call, just a Pairing->Idle StateChanged) from a
// host-initiated Unpair or FactoryReset (a PairingChanged(false) call,
// from any state): wasPairing tracks whether the most recent StateChanged
// saw Pairing without an intervening PairingChanged, so an explicit
// unpair never gets counted as a timeout.
type metricsTransmitterHost struct {
	host.TransmitterHost
	m *metrics.Metrics

	wasPairing bool
}

func (h *metricsTransmitterHost) StateChanged(s host.TransmitterState) {
	switch {
	case s == host.TransmitterPairing:
		h.m.RecordPairingStart()
		h.wasPairing = true
	case s == host.TransmitterIdle && h.wasPairing:
		h.m.RecordPairingTimeout()
		h.wasPairing = false
	}
	h.TransmitterHost.StateChanged(s)
}

func (h *metricsTransmitterHost) PairingChanged(paired bool) {
	h.wasPairing = false
	if paired {
		h.m.RecordPairingComplete()
	} else {
		h.m.RecordPairingUnpaired()
	}
	h.TransmitterHost.PairingChanged(paired)
}

const sessionsFile = "sessions.json"
const transmitterFile = "transmitter.json"

func runReceiverProcess(ctx context.Context, cfg *config.Config, logger *slog.Logger, sch scheduler.Scheduler, src entropy.Source, store *persistence.Store, m *metrics.Metrics, publicBus, privateBus bus.Bus) error {
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
	gov := governor.New(govCfg)

	rxHost := metricsReceiverHost{ReceiverHost: newCLIReceiverHost(logger), m: m}
	rx := receiver.New(receiver.Config{
		Interfaces:      ifaces,
		Algorithms:      []codec.ProtectionAlgorithm{defaultAlgo},
		SessionCapacity: cfg.Protocol.SessionCapacity,
		PublicBus:       publicBus,
		PrivateBus:      privateBus,
		Scheduler:       sch,
		Governor:        gov,
		EntropySource:   src,
		Host:            rxHost,
		Logger:          logger,
	})
	defer rx.Close()

	sessionsPath := filepath.Join(cfg.Device.DataDir, sessionsFile)
	if err := store.LoadReceiverSessions(sessionsPath, rx.Store()); err != nil && err != persistence.ErrNotExist {
		logger.Error("loading persisted sessions", logging.KeyError, err)
	}
	m.SetSessionsActive(len(rx.Store().Iter()))

	logger.Info("receiver ready", "role", cfg.Device.Role, logging.KeyCount, cfg.Protocol.SessionCapacity)

	<-ctx.Done()

	if err := store.SaveReceiverSessions(sessionsPath, rx.Store()); err != nil {
		m.RecordPersistenceError("sessions")
		return fmt.Errorf("serve: saving sessions on shutdown: %w", err)
	}
	m.RecordPersistenceSave("sessions")
	return nil
}

func runTransmitterProcess(ctx context.Context, cfg *config.Config, logger *slog.Logger, sch scheduler.Scheduler, src entropy.Source, store *persistence.Store, m *metrics.Metrics, publicBus, privateBus bus.Bus) error {
	ifaces, err := cfg.Interfaces()
	if err != nil {
		return err
	}

	govCfg, err := cfg.GovernorConfigFor(sch)
	if err != nil {
		return err
	}
	gov := governor.New(govCfg)
	gov.Start()

	transmitterPath := filepath.Join(cfg.Device.DataDir, transmitterFile)
	saved, err := store.LoadTransmitter(transmitterPath)
	var restore *transmitter.Snapshot
	txID := saved.TransmitterID
	switch {
	case err == nil:
		restore = &transmitter.Snapshot{
			Paired:    saved.Paired,
			Unbound:   saved.Unbound,
			SessionID: saved.SessionID,
			Algorithm: saved.Algorithm,
			Key:       saved.Key,
			TxSeq:     saved.TxSeq,
		}
	case err == persistence.ErrNotExist:
		idBytes, genErr := entropy.Bytes(src, codec.TransmitterIDLen)
		if genErr != nil {
			return fmt.Errorf("serve: generating transmitter id: %w", genErr)
		}
		copy(txID[:], idBytes)
	default:
		return fmt.Errorf("serve: loading persisted transmitter state: %w", err)
	}

	txHost := &metricsTransmitterHost{TransmitterHost: newCLITransmitterHost(logger), m: m}
	tx := transmitter.New(transmitter.Config{
		TransmitterID: txID,
		Interfaces:    ifaces,
		Restore:       restore,
		Governor:      gov,
		PrivateBus:    privateBus,
		PublicBus:     publicBus,
		Scheduler:     sch,
		EntropySource: src,
		Host:          txHost,
		Logger:        logger,
	})
	defer tx.Close()

	logger.Info("transmitter ready", "role", cfg.Device.Role, logging.KeyTransmitterID, fmt.Sprintf("%x", txID))

	<-ctx.Done()

	snap := tx.Snapshot()
	if err := store.SaveTransmitter(transmitterPath, persistence.TransmitterState{
		TransmitterID: txID,
		Paired:        snap.Paired,
		Unbound:       snap.Unbound,
		SessionID:     snap.SessionID,
		Algorithm:     snap.Algorithm,
		Key:           snap.Key,
		TxSeq:         snap.TxSeq,
	}); err != nil {
		m.RecordPersistenceError("transmitter")
		return fmt.Errorf("serve: saving transmitter state on shutdown: %w", err)
	}
	m.RecordPersistenceSave("transmitter")
	return nil
}
