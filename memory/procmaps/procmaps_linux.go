//go:build linux

// Package procmaps walks the mapped regions of a live process, per OS.
package procmaps

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"uescope/memory"
)

// Read parses /proc/[pid]/maps into base-sorted regions
func Read(pid memory.ProcessID) ([]memory.Region, error) {
	file, err := os.Open(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var regions []memory.Region
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}

		addrRange := strings.Split(fields[0], "-")
		if len(addrRange) != 2 {
			continue
		}
		startAddr, err := strconv.ParseUint(addrRange[0], 16, 64)
		if err != nil {
			continue
		}
		endAddr, err := strconv.ParseUint(addrRange[1], 16, 64)
		if err != nil {
			continue
		}

		path := ""
		if len(fields) >= 6 {
			path = fields[5]
		}

		regions = append(regions, memory.Region{
			Base: memory.Address(startAddr),
			Size: memory.Size(endAddr - startAddr),
			Prot: parsePerms(fields[1]),
			Path: path,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	sort.Slice(regions, func(i, j int) bool {
		return regions[i].Base < regions[j].Base
	})
	return regions, nil
}

func parsePerms(perms string) memory.Protection {
	var p memory.Protection
	if len(perms) > 0 && perms[0] == 'r' {
		p |= memory.ProtRead
	}
	if len(perms) > 1 && perms[1] == 'w' {
		p |= memory.ProtWrite
	}
	if len(perms) > 2 && perms[2] == 'x' {
		p |= memory.ProtExecute
	}
	return p
}

// ExePath resolves the target's main executable path
func ExePath(pid memory.ProcessID) (string, error) {
	return os.Readlink(fmt.Sprintf("/proc/%d/exe", pid))
}

// MainModuleBase returns the lowest mapped address backed by the main
// executable
func MainModuleBase(pid memory.ProcessID, regions []memory.Region) (memory.Address, error) {
	exe, err := ExePath(pid)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve executable path: %w", err)
	}
	for _, region := range regions {
		if region.Path == exe {
			return region.Base, nil
		}
	}
	return 0, memory.ErrAddressNotMapped
}

// FindPIDs returns every pid whose comm or exe basename matches name, in
// ascending order, comparing the way pidof does. Our own process is skipped.
func FindPIDs(name string) ([]memory.ProcessID, error) {
	if name == "" {
		return nil, fmt.Errorf("empty process name")
	}

	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, fmt.Errorf("read /proc: %w", err)
	}

	selfPID := os.Getpid()
	var pids []memory.ProcessID
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(e.Name())
		if err != nil || pid <= 0 || pid == selfPID {
			continue
		}

		comm, _ := os.ReadFile(filepath.Join("/proc", e.Name(), "comm"))
		matched := strings.TrimSpace(string(comm)) == name
		if !matched {
			// comm truncates to 15 chars, fall back to the exe symlink
			exe, _ := os.Readlink(filepath.Join("/proc", e.Name(), "exe"))
			matched = exe != "" && filepath.Base(exe) == name
		}
		if matched {
			pids = append(pids, memory.ProcessID(pid))
		}
	}

	if len(pids) == 0 {
		return nil, fmt.Errorf("no process named %q", name)
	}
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })
	return pids, nil
}

// FindPID resolves a process name to the lowest matching pid
func FindPID(name string) (memory.ProcessID, error) {
	pids, err := FindPIDs(name)
	if err != nil {
		return 0, err
	}
	return pids[0], nil
}
