// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/ramses-project/ramses-core/pkg/ramses"
	"github.com/spf13/cobra"
)

var (
	discoverTarget   string
	discoverCode     string
	discoverInterval time.Duration
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Register a periodic discovery poll for one device and run the scheduler",
	Long: `Registers a single DiscoveryRegistration (e.g. periodic 1F09 sync-cycle
polling of a controller) and runs Gateway.Tick in a loop so its backoff
ladder and OpenTherm deprecation logic can be observed end to end.

Per §4.5: 1-2 consecutive timeouts fall back to the minimum poll cycle,
3-5 to the registration's full interval, and more than 5 throttle the
registration to a 24h cycle.`,
	RunE: runDiscover,
}

func init() {
	rootCmd.AddCommand(discoverCmd)
	discoverCmd.Flags().StringVar(&discoverTarget, "target", "", "Device ID to poll (required)")
	discoverCmd.Flags().StringVar(&discoverCode, "code", "1F09", "Command code to poll with")
	discoverCmd.Flags().DurationVar(&discoverInterval, "interval", ramses.MaxCycleFloor, "Steady-state poll interval")
	discoverCmd.MarkFlagRequired("target")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	target, err := ramses.ParseID(discoverTarget)
	if err != nil {
		return fmt.Errorf("invalid --target: %w", err)
	}

	g, cfgFile, err := openGateway()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	restore := loadPacketLog(cfgFile)
	if err := g.Start(ctx, restore); err != nil {
		return fmt.Errorf("starting gateway: %w", err)
	}
	defer g.Stop()

	command := ramses.Command{
		Verb: ramses.VerbRQ,
		Src:  g.SelfID,
		Dst:  target,
		Code: ramses.Code(discoverCode),
		QoS:  ramses.QoS{RetryLimit: 3, ReplyTimeout: time.Second},
	}
	respHeader := fmt.Sprintf("%s|%s|%s", discoverCode, ramses.VerbRP, target.String())
	reg := ramses.NewDiscoveryRegistration(command, respHeader, discoverInterval, 0, time.Now())
	g.Scheduler().Register(reg)

	log.Info().Str("target", target.String()).Str("code", discoverCode).Msg("discovery registered, polling")

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			g.Tick(ctx, now)
			if reg.Throttled() {
				log.Warn().Str("target", target.String()).Msg("registration throttled to 24h after repeated timeouts")
			}
		}
	}
}
