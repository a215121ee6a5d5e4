//go:build linux

package engine

import (
	"fmt"

	"uescope/memory"
	"uescope/memory_linux"
	"uescope/memory_local"
)

// openChannel opens the platform channel for cfg, filling in channel
// defaults first
func openChannel(cfg *Config) (memory.Channel, error) {
	if cfg.Memory == (memory.Config{}) {
		cfg.Memory = memory.DefaultConfig()
	}

	switch cfg.Mode {
	case InProcess:
		return memory_local.Open(cfg.Memory)
	case ByPID:
		return memory_linux.Open(cfg.PID, cfg.Memory)
	case ByName:
		return memory_linux.OpenByName(cfg.ProcessName, cfg.Memory)
	}
	return nil, fmt.Errorf("%v: %w", cfg.Mode, ErrUnsupportedMode)
}
