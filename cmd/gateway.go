// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"

	"github.com/ramses-project/ramses-core/internal/config"
	"github.com/ramses-project/ramses-core/internal/packetlog"
	"github.com/ramses-project/ramses-core/internal/transport"
	"github.com/ramses-project/ramses-core/pkg/ramses"
)

// openTransport opens either a serial or WebSocket transport depending on
// which global flags were set, the same dispatch the teacher's
// OpenConnection performed over portName/wsURL.
func openTransport() (ramses.Transport, string, error) {
	switch {
	case wsURL != "":
		password, err := transport.GetPassword()
		if err != nil {
			return nil, "", err
		}
		t, err := transport.OpenWebSocket(wsURL, wsUsername, password, skipTLS)
		if err != nil {
			return nil, "", err
		}
		return t, wsURL, nil
	case portName != "":
		t, err := transport.OpenSerial(portName, baudRate)
		if err != nil {
			return nil, "", err
		}
		return t, fmt.Sprintf("%s@%d", portName, baudRate), nil
	default:
		return nil, "", fmt.Errorf("one of --port or --ws-url must be given")
	}
}

// openGateway builds a ready-to-Start Gateway from the global flags and,
// if --config was given, a YAML config file layering schema/known-list/
// block-list/packet-log settings on top of it.
func openGateway() (*ramses.Gateway, *config.File, error) {
	var cfgFile *config.File
	cfg := ramses.Config{}
	gwID := gatewayID

	if configPath != "" {
		f, err := config.Load(configPath)
		if err != nil {
			return nil, nil, err
		}
		cfgFile = f
		cfg = f.RamsesConfig()
		if gwID == "" {
			gwID = f.GatewayID
		}
		if portName == "" && f.Port.Serial.Device != "" {
			portName = f.Port.Serial.Device
			if f.Port.Serial.BaudRate != 0 {
				baudRate = f.Port.Serial.BaudRate
			}
		}
		if wsURL == "" && f.Port.WebSocket.URL != "" {
			wsURL = f.Port.WebSocket.URL
			wsUsername = f.Port.WebSocket.Username
		}
	}

	if gwID == "" {
		return nil, nil, fmt.Errorf("gateway ID required: pass --gateway-id or set gateway_id in --config")
	}
	self, err := ramses.ParseID(gwID)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid --gateway-id %q: %w", gwID, err)
	}

	tr, connInfo, err := openTransport()
	if err != nil {
		return nil, nil, err
	}
	log.Info().Str("connection", connInfo).Msg("opened gateway connection")

	g := ramses.NewGateway(self, cfg, tr, log)

	if cfgFile != nil {
		known, err := cfgFile.KnownDevices()
		if err != nil {
			return nil, nil, err
		}
		blocked, err := cfgFile.BlockedDevices()
		if err != nil {
			return nil, nil, err
		}
		g.KnownList = known
		g.BlockList = blocked
	}

	return g, cfgFile, nil
}

// loadPacketLog reads a rotating packet log named by --config's
// packet_log.file_name, if any, into the line slice Gateway.Start takes
// as its restore argument.
func loadPacketLog(cfgFile *config.File) []string {
	if cfgFile == nil || cfgFile.PacketLog.FileName == "" {
		return nil
	}
	f, err := os.Open(cfgFile.PacketLog.FileName)
	if err != nil {
		return nil
	}
	defer f.Close()
	records := packetlog.Replay(f)
	lines := make([]string, len(records))
	for i, r := range records {
		lines[i] = r.Line
	}
	return lines
}
