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
	bindDevice string
	bindListen bool
	bindZone   string
	bindScheme string
)

var bindCmd = &cobra.Command{
	Use:   "bind",
	Short: "Drive a 1FC9 binding handshake as Supplicant or Respondent",
	Long: `Starts a 1FC9 binding handshake for one faked device.

Without --listen, the device acts as Supplicant: it offers itself for
binding to a named zone (Tender), then waits for an Accept and sends a
Confirm; it is bound once its own Confirm is seen echoed on the bus. It
sends no Ratify (10E0) frame.

With --listen, the device acts as Respondent: it waits for a Tender from
any device, sends an Accept, and waits for the initiator's Confirm.`,
	RunE: runBind,
}

func init() {
	rootCmd.AddCommand(bindCmd)
	bindCmd.Flags().StringVar(&bindDevice, "device", "", "This side's device ID (required, must be a faked device)")
	bindCmd.Flags().BoolVar(&bindListen, "listen", false, "Act as Respondent instead of Supplicant")
	bindCmd.Flags().StringVar(&bindZone, "zone", "00", "Domain/zone index to offer binding for (Supplicant only)")
	bindCmd.Flags().StringVar(&bindScheme, "scheme", "default", "Vendor scheme: default, itho, nuaire, orcon")
	bindCmd.MarkFlagRequired("device")
}

func parseScheme(s string) ramses.VendorScheme {
	switch s {
	case "itho":
		return ramses.SchemeItho
	case "nuaire":
		return ramses.SchemeNuaire
	case "orcon":
		return ramses.SchemeOrcon
	default:
		return ramses.SchemeDefault
	}
}

func runBind(cmd *cobra.Command, args []string) error {
	dev, err := ramses.ParseID(bindDevice)
	if err != nil {
		return fmt.Errorf("invalid --device: %w", err)
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

	if _, err := g.FakeDevice(dev, parseScheme(bindScheme), true); err != nil {
		return fmt.Errorf("faking %s: %w", dev, err)
	}

	if bindListen {
		if err := g.ListenForBinding(dev); err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		log.Info().Str("device", dev.String()).Msg("listening for a binding offer")
	} else {
		phrases := []ramses.BindingPhrase{{DomainIdx: bindZone, Code: ramses.Code30C9, Device: dev}}
		if err := g.InitiateBinding(dev, phrases, parseScheme(bindScheme)); err != nil {
			return fmt.Errorf("initiate: %w", err)
		}
		log.Info().Str("device", dev.String()).Str("zone", bindZone).Msg("offering binding")
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			g.Tick(ctx, now)
			if d, ok := g.Device(dev); ok && d.Binding != nil && !d.Binding.IsBinding() {
				log.Info().Str("device", dev.String()).Msg("binding handshake finished")
				return nil
			}
		}
	}
}
