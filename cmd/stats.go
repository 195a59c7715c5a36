// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statsListenFor time.Duration

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Listen briefly and print the retained packets of all message indices",
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().DurationVar(&statsListenFor, "listen", 5*time.Second, "How long to listen before printing")
}

func runStats(cmd *cobra.Command, args []string) error {
	g, cfgFile, err := openGateway()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), statsListenFor+5*time.Second)
	defer cancel()

	restore := loadPacketLog(cfgFile)
	if err := g.Start(ctx, restore); err != nil {
		return fmt.Errorf("starting gateway: %w", err)
	}
	defer g.Stop()

	select {
	case <-time.After(statsListenFor):
	case <-ctx.Done():
	}

	_, packets := g.GetState(time.Now(), true)
	fmt.Printf("%d distinct packet entries retained\n", len(packets))
	for header, value := range packets {
		fmt.Printf("  %-30s %s\n", header, value)
	}
	return nil
}
