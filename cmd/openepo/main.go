// Package main provides the CLI entry point for an Openepo device.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "openepo",
		Short: "Openepo - rolling-code remote-control protocol devices",
		Long: `Openepo drives the transmitter and receiver sides of a short-range,
rolling-code remote-control protocol: a button fob or keypad paired to a
lock, garage door, or blind controller over an untrusted radio link, with
pairing authorized over a trusted line-of-sight channel.`,
		Version: Version,
	}

	rootCmd.AddGroup(&cobra.Group{ID: "run", Title: "Running a device:"})
	rootCmd.AddGroup(&cobra.Group{ID: "explore", Title: "Exploring the protocol:"})

	serve := serveCmd()
	serve.GroupID = "run"
	rootCmd.AddCommand(serve)

	pair := pairCmd()
	pair.GroupID = "run"
	rootCmd.AddCommand(pair)

	demo := demoCmd()
	demo.GroupID = "explore"
	rootCmd.AddCommand(demo)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
