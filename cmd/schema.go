// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"
)

var (
	schemaDebug          bool
	schemaIncludeExpired bool
	schemaListenFor      time.Duration
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Connect briefly, then print the learned entity schema as YAML-ish text",
	Long: `Opens the gateway, listens long enough to observe live traffic (or
replay a --config packet_log), then prints the learned System/Zone/
Device topology.

With --debug, dumps the full in-memory Gateway graph via go-spew instead
of the summarised schema — useful when diagnosing a promotion or
parenting decision that doesn't match expectations.`,
	RunE: runSchema,
}

func init() {
	rootCmd.AddCommand(schemaCmd)
	schemaCmd.Flags().BoolVar(&schemaDebug, "debug", false, "Dump the full in-memory graph instead of the summarised schema")
	schemaCmd.Flags().BoolVar(&schemaIncludeExpired, "include-expired", false, "Include expired messages in the packets dict")
	schemaCmd.Flags().DurationVar(&schemaListenFor, "listen", 2*time.Second, "How long to listen to live traffic before printing")
}

func runSchema(cmd *cobra.Command, args []string) error {
	g, cfgFile, err := openGateway()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), schemaListenFor+5*time.Second)
	defer cancel()

	restore := loadPacketLog(cfgFile)
	if err := g.Start(ctx, restore); err != nil {
		return fmt.Errorf("starting gateway: %w", err)
	}
	defer g.Stop()

	select {
	case <-time.After(schemaListenFor):
	case <-ctx.Done():
	}

	schema, packets := g.GetState(time.Now(), schemaIncludeExpired)
	if schemaDebug {
		spew.Dump(g)
		return nil
	}

	fmt.Printf("main_tcs: %s\n", schema.MainTCS)
	for ctl, sys := range schema.Systems {
		fmt.Printf("system %s:\n", ctl)
		if sys.ApplianceControl != "" {
			fmt.Printf("  appliance_control: %s\n", sys.ApplianceControl)
		}
		if sys.Dhw != nil {
			fmt.Printf("  dhw: sensor=%s hw_valve=%s htg_valve=%s\n", sys.Dhw.Sensor, sys.Dhw.HotWaterValve, sys.Dhw.HeatingValve)
		}
		for idx, z := range sys.Zones {
			fmt.Printf("  zone %s: class=%s sensor=%s actuators=%v\n", idx, z.Class, z.Sensor, z.Actuators)
		}
	}
	if len(schema.Orphans) > 0 {
		fmt.Printf("orphans: %v\n", schema.Orphans)
	}
	fmt.Printf("\n%d packets retained across all message indices\n", len(packets))
	return nil
}
