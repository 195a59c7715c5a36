// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Global flags, same shape as the teacher's --port/--baud pair,
	// generalised to RAMSES gateways (serial or WebSocket bridge) plus
	// the YAML config file spec.md §6 describes.
	portName   string
	baudRate   int
	wsURL      string
	wsUsername string
	configPath string
	gatewayID  string
	logLevel   string
	skipTLS    bool

	log zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "ramses",
	Short: "RAMSES-II protocol analyser and gateway controller",
	Long: `ramses is a CLI for decoding, routing, and controlling Honeywell
evohome/RAMSES-II heating systems over a serial or WebSocket-bridged
HGI80-class gateway.

Provides commands to watch live traffic, inspect the learned entity
schema, issue commands, run discovery polling, and drive a 1FC9 binding
handshake.`,
	Version: "1.0.0",
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate")
	rootCmd.PersistentFlags().StringVar(&wsURL, "ws-url", "", "WebSocket gateway bridge URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "ws-username", "", "WebSocket basic-auth username")
	rootCmd.PersistentFlags().BoolVar(&skipTLS, "insecure-skip-verify", false, "Skip TLS certificate verification for wss://")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&gatewayID, "gateway-id", "", "This gateway's own device ID (e.g. 18:000730)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")

	cobra.OnInitialize(func() {
		level, err := zerolog.ParseLevel(logLevel)
		if err != nil {
			level = zerolog.InfoLevel
		}
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			Level(level).
			With().Timestamp().Logger()
	})
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
