//go:build windows

package engine

import (
	"fmt"

	"golang.org/x/sys/windows"

	"uescope/memory"
	"uescope/memory_local"
	"uescope/memory_windows"
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
		return memory_windows.Open(cfg.PID, cfg.Memory)
	case ByName:
		return memory_windows.OpenByName(cfg.ProcessName, cfg.Memory)
	case ByHandle:
		return memory_windows.OpenHandle(windows.Handle(cfg.Handle), cfg.Memory)
	}
	return nil, fmt.Errorf("%v: %w", cfg.Mode, ErrUnsupportedMode)
}
