// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the YAML configuration spec.md §6 describes the
// shape of (ramses.Config, known_list/block_list, packet_log) into the
// core's data-only structs, the way the teacher keeps its connection
// and protocol packages free of any file-format concerns.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ramses-project/ramses-core/pkg/ramses"
)

// DeviceEntry is one known_list/block_list YAML entry.
type DeviceEntry struct {
	ID     string `yaml:"id"`
	Class  string `yaml:"class,omitempty"`
	Alias  string `yaml:"alias,omitempty"`
	Faked  bool   `yaml:"faked,omitempty"`
	Scheme string `yaml:"scheme,omitempty"`
}

// PacketLog is the rotating packet-log writer's configuration
// (spec.md §6: `packet_log: {file_name, rotate_backups, rotate_bytes}`).
type PacketLog struct {
	FileName      string `yaml:"file_name"`
	RotateBackups int    `yaml:"rotate_backups"`
	RotateBytes   int    `yaml:"rotate_bytes"`
}

// File is the top-level YAML document shape.
type File struct {
	Port struct {
		Serial struct {
			Device   string `yaml:"device"`
			BaudRate int    `yaml:"baud_rate"`
		} `yaml:"serial"`
		WebSocket struct {
			URL      string `yaml:"url"`
			Username string `yaml:"username"`
		} `yaml:"websocket"`
	} `yaml:"port"`

	GatewayID string `yaml:"gateway_id"`

	Ramses struct {
		DisableDiscovery bool   `yaml:"disable_discovery"`
		EnableEavesdrop  bool   `yaml:"enable_eavesdrop"`
		MaxZones         int    `yaml:"max_zones"`
		ReduceProcessing int    `yaml:"reduce_processing"`
		UseAliases       bool   `yaml:"use_aliases"`
		UseNativeOt      string `yaml:"use_native_ot"`
		DisableSending   bool   `yaml:"disable_sending"`
		EnforceKnownList bool   `yaml:"enforce_known_list"`
	} `yaml:"ramses"`

	KnownList []DeviceEntry `yaml:"known_list"`
	BlockList []DeviceEntry `yaml:"block_list"`

	PacketLog PacketLog `yaml:"packet_log"`
}

// Load reads and parses a YAML config file from path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return &f, nil
}

func parseVendorScheme(s string) ramses.VendorScheme {
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

// RamsesConfig converts the YAML `ramses:` block to ramses.Config.
func (f *File) RamsesConfig() ramses.Config {
	r := f.Ramses
	useOT := ramses.UseNativeOTPrefer
	switch r.UseNativeOt {
	case "always":
		useOT = ramses.UseNativeOTAlways
	case "avoid":
		useOT = ramses.UseNativeOTAvoid
	case "never":
		useOT = ramses.UseNativeOTNever
	}
	return ramses.Config{
		DisableDiscovery: r.DisableDiscovery,
		EnableEavesdrop:  r.EnableEavesdrop,
		MaxZones:         r.MaxZones,
		ReduceProcessing: r.ReduceProcessing,
		UseAliases:       r.UseAliases,
		UseNativeOT:      useOT,
		DisableSending:   r.DisableSending,
		EnforceKnownList: r.EnforceKnownList,
	}
}

// KnownDevices converts the YAML known_list into the id-keyed schema map
// Gateway.KnownList consumes.
func (f *File) KnownDevices() (map[ramses.ID]ramses.DeviceSchema, error) {
	out := make(map[ramses.ID]ramses.DeviceSchema, len(f.KnownList))
	for _, e := range f.KnownList {
		id, err := ramses.ParseID(e.ID)
		if err != nil {
			return nil, fmt.Errorf("known_list entry %q: %w", e.ID, err)
		}
		out[id] = ramses.DeviceSchema{
			Class:  ramses.Slug(e.Class),
			Alias:  e.Alias,
			Faked:  e.Faked,
			Scheme: parseVendorScheme(e.Scheme),
		}
	}
	return out, nil
}

// BlockedDevices converts the YAML block_list into an id set.
func (f *File) BlockedDevices() (map[ramses.ID]bool, error) {
	out := make(map[ramses.ID]bool, len(f.BlockList))
	for _, e := range f.BlockList {
		id, err := ramses.ParseID(e.ID)
		if err != nil {
			return nil, fmt.Errorf("block_list entry %q: %w", e.ID, err)
		}
		out[id] = true
	}
	return out, nil
}
