package ranktable

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// DefaultSlots is the slot count assumed when a hostfile line has no
// slots= clause. Training servers ship eight NPUs, so eight is the
// overwhelmingly common value.
const DefaultSlots = 8

// Host is one entry of an MPI-style hostfile.
type Host struct {
	// Name is the hostname or IP address.
	Name string

	// Slots is the number of processes this host accepts.
	Slots int
}

// Hostfile is a parsed hostfile in original line order.
type Hostfile struct {
	Hosts []Host
}

// TotalSlots returns the sum of slots across all hosts, which must match
// the rank size of a job launched against this hostfile.
func (h *Hostfile) TotalSlots() int {
	n := 0
	for _, host := range h.Hosts {
		n += host.Slots
	}
	return n
}

// Names returns the host names in file order.
func (h *Hostfile) Names() []string {
	names := make([]string, 0, len(h.Hosts))
	for _, host := range h.Hosts {
		names = append(names, host.Name)
	}
	return names
}

// ParseHostfile reads an MPI-dialect hostfile.
//
// Each non-empty, non-comment line names one host, optionally followed by
// a "slots=N" clause:
//
//	10.0.0.1 slots=8
//	10.0.0.2 slots=8
//	# standby node
//	node-gamma
//
// Unrecognized trailing clauses (max_slots=, rankfile extensions) are
// ignored so real-world hostfiles pass through. Duplicate hosts and
// out-of-range slot counts are errors.
//
// Parameters:
//   - path: Path to the hostfile
//
// Returns:
//   - The parsed hostfile
//   - Error if the file cannot be read or a line is malformed
func ParseHostfile(path string) (*Hostfile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open hostfile %s: %w", path, err)
	}
	defer f.Close()

	hf := &Hostfile{}
	seen := make(map[string]bool)
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		host := Host{Name: fields[0], Slots: DefaultSlots}
		if host.Name == "" {
			return nil, fmt.Errorf("%s:%d: empty host name", path, lineNo)
		}
		if seen[host.Name] {
			return nil, fmt.Errorf("%s:%d: duplicate host %q", path, lineNo, host.Name)
		}
		seen[host.Name] = true

		for _, field := range fields[1:] {
			if !strings.HasPrefix(field, "slots=") {
				continue
			}
			slots, err := strconv.Atoi(strings.TrimPrefix(field, "slots="))
			if err != nil {
				return nil, fmt.Errorf("%s:%d: bad slots value %q", path, lineNo, field)
			}
			if slots < 1 || slots > 16 {
				return nil, fmt.Errorf("%s:%d: slots must be in 1..16, got %d", path, lineNo, slots)
			}
			host.Slots = slots
		}

		hf.Hosts = append(hf.Hosts, host)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read hostfile %s: %w", path, err)
	}

	if len(hf.Hosts) == 0 {
		return nil, fmt.Errorf("hostfile %s names no hosts", path)
	}
	return hf, nil
}
