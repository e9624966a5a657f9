package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/tommie/openepo/internal/bus"
	"github.com/tommie/openepo/internal/codec"
	"github.com/tommie/openepo/internal/entropy"
	"github.com/tommie/openepo/internal/governor"
	"github.com/tommie/openepo/internal/logging"
	"github.com/tommie/openepo/internal/receiver"
	"github.com/tommie/openepo/internal/scheduler"
	"github.com/tommie/openepo/internal/transmitter"
)

// demoCmd runs a complete pairing and actuation scenario entirely
// in-process, using internal/bus.Memory for both the public and private
// channels. It needs no network and no real entropy-sensitive deployment
// decisions, so it is the fastest way to see the protocol's state
// transitions without standing up two separate processes.
func demoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run a scripted pairing and action scenario in-process",
		Long: `demo wires a transmitter and a receiver together with in-memory
public and private buses, drives them through pairing, fires one action,
then unpairs — printing every state transition along the way.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo()
		},
	}
}

func runDemo() error {
	logger := logging.NewLogger("info", "text")
	sch := scheduler.NewReal()
	src := entropy.CryptoSource{}

	publicBus := bus.NewMemory(logger)
	privateBus := bus.NewMemory(logger)

	gov := governor.New(governor.Config{
		PreambleDuration: time.Millisecond,
		StartupDelay:     10 * time.Millisecond,
		AdmissionRates: map[codec.MessageType]rate.Limit{
			codec.MessageBind: 5,
			codec.MessageAct:  10,
		},
		Scheduler: sch,
	})

	rxHost := newCLIReceiverHost(logger)
	rx := receiver.New(receiver.Config{
		Interfaces:      []codec.InterfaceType{codec.InterfaceButtonAct},
		Algorithms:      []codec.ProtectionAlgorithm{codec.AlgorithmOCBTag64},
		SessionCapacity: 8,
		PublicBus:       publicBus,
		PrivateBus:      privateBus,
		Scheduler:       sch,
		Governor:        gov,
		EntropySource:   src,
		Host:            rxHost,
		Logger:          logger,
	})
	defer rx.Close()

	var txID [codec.TransmitterIDLen]byte
	idBytes, err := entropy.Bytes(src, codec.TransmitterIDLen)
	if err != nil {
		return fmt.Errorf("generating transmitter id: %w", err)
	}
	copy(txID[:], idBytes)

	txHost := newCLITransmitterHost(logger)
	tx := transmitter.New(transmitter.Config{
		TransmitterID: txID,
		Interfaces:    []codec.InterfaceType{codec.InterfaceButtonAct},
		PrivateBus:    privateBus,
		PublicBus:     publicBus,
		Scheduler:     sch,
		EntropySource: src,
		Host:          txHost,
		Logger:        logger,
	})
	defer tx.Close()

	fmt.Println("Waiting for the receiver to finish starting up...")
	time.Sleep(150 * time.Millisecond)

	fmt.Println("Arming both sides for pairing...")
	rx.SetPairing()
	tx.SetPairing()

	select {
	case paired := <-txHost.PairedCh:
		if !paired {
			return fmt.Errorf("pairing reported unpaired unexpectedly")
		}
		fmt.Println("Paired.")
	case <-time.After(2 * time.Second):
		return fmt.Errorf("timed out waiting for pairing to complete")
	}

	fmt.Println("Firing BUTTON_ACT...")
	tx.Act(codec.InterfaceButtonAct, nil)
	time.Sleep(50 * time.Millisecond)

	fmt.Println("Unpairing...")
	tx.Unpair()
	time.Sleep(50 * time.Millisecond)

	fmt.Println("Firing BUTTON_ACT again (should have no effect, unpaired)...")
	tx.Act(codec.InterfaceButtonAct, nil)
	time.Sleep(50 * time.Millisecond)

	fmt.Println("Demo complete.")
	return nil
}
