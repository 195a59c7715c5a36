// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ramses-project/ramses-core/pkg/ramses"
	"github.com/spf13/cobra"
)

var (
	sendVerb     string
	sendDst      string
	sendCode     string
	sendPayload  string
	sendWait     bool
	sendCtx      string
	sendTimeout  time.Duration
	sendGap      time.Duration
	sendRepeats  int
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a single RAMSES-II command and optionally wait for its reply",
	Example: `  ramses send --gateway-id 18:000730 --port /dev/ttyUSB0 \
    --verb RQ --dst 01:158182 --code 1F09 --wait`,
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVar(&sendVerb, "verb", "RQ", "Verb: I, RQ, RP, or W")
	sendCmd.Flags().StringVar(&sendDst, "dst", "", "Destination device ID (required)")
	sendCmd.Flags().StringVar(&sendCode, "code", "", "4-hex-digit command code (required)")
	sendCmd.Flags().StringVar(&sendPayload, "payload", "00", "Payload as a hex string")
	sendCmd.Flags().BoolVar(&sendWait, "wait", false, "Wait for a correlated reply before exiting")
	sendCmd.Flags().StringVar(&sendCtx, "ctx", "", "Expected reply ctx (index hex), if the code carries one, for correlating --wait")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 3*time.Second, "Reply wait timeout")
	sendCmd.Flags().DurationVar(&sendGap, "gap", 0, "Gap between repeated sends")
	sendCmd.Flags().IntVar(&sendRepeats, "repeats", 1, "Number of times to (re)send")
	sendCmd.MarkFlagRequired("dst")
	sendCmd.MarkFlagRequired("code")
}

func runSend(cmd *cobra.Command, args []string) error {
	verb, ok := ramses.ValidVerb(sendVerb)
	if !ok {
		return fmt.Errorf("invalid verb %q", sendVerb)
	}
	dst, err := ramses.ParseID(sendDst)
	if err != nil {
		return fmt.Errorf("invalid --dst: %w", err)
	}
	payload, err := hex.DecodeString(sendPayload)
	if err != nil {
		return fmt.Errorf("invalid --payload: %w", err)
	}

	g, cfgFile, err := openGateway()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout+5*time.Second)
	defer cancel()

	restore := loadPacketLog(cfgFile)
	if err := g.Start(ctx, restore); err != nil {
		return fmt.Errorf("starting gateway: %w", err)
	}
	defer g.Stop()

	command := ramses.Command{
		Verb:    verb,
		Src:     g.SelfID,
		Dst:     dst,
		Code:    ramses.Code(sendCode),
		Payload: payload,
	}

	if !sendWait {
		g.SendCmd(ctx, command, sendGap, sendRepeats)
		return nil
	}

	replyVerb := ramses.VerbRP
	if verb != ramses.VerbRQ {
		replyVerb = ramses.VerbI
	}
	respHeader := fmt.Sprintf("%s|%s|%s", sendCode, replyVerb, dst.String())
	if sendCtx != "" {
		respHeader += "|" + sendCtx
	}

	reply, err := g.AsyncSendCmd(ctx, command, respHeader, sendRepeats, sendTimeout, true)
	if err != nil {
		return fmt.Errorf("send failed: %w", err)
	}
	fmt.Println(reply.Format())
	return nil
}
