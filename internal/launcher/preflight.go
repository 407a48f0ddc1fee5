package launcher

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/zhenhua32/mindformers/internal/device"
	"github.com/zhenhua32/mindformers/internal/job"
	"github.com/zhenhua32/mindformers/internal/logger"
	"github.com/zhenhua32/mindformers/internal/ranktable"
)

// minAvailableMemoryMB is the host memory floor below which a launch
// gets a warning. Training frameworks allocate large host buffers
// during graph compilation.
const minAvailableMemoryMB = 4096

// Preflight validates a job before any worker starts.
//
// Hard failures (returned as errors): missing entrypoint binary,
// missing dataset or config paths, device ids not present on the host,
// devices already held by a running job, and rank table inconsistencies
// with the device selection.
//
// Soft findings are logged as warnings: no detectable accelerators
// (common on development machines) and low available host memory.
func Preflight(j *job.Job, tbl *ranktable.RankTable, devices *device.Manager, busy map[int]string) error {
	if len(j.Entrypoint) == 0 {
		return fmt.Errorf("no entrypoint given")
	}
	// Docker mode resolves the binary inside the image.
	if j.Mode != job.ModeDocker {
		if _, err := exec.LookPath(j.Entrypoint[0]); err != nil {
			return fmt.Errorf("entrypoint %s not found in PATH: %w", j.Entrypoint[0], err)
		}
	}

	for _, check := range []struct{ label, path string }{
		{"dataset", j.DatasetPath},
		{"config", j.ConfigPath},
		{"rank table", j.RankTablePath},
	} {
		if check.path == "" {
			continue
		}
		if _, err := os.Stat(check.path); err != nil {
			return fmt.Errorf("%s path %s: %w", check.label, check.path, err)
		}
	}

	if tbl != nil {
		localRanks, err := tbl.LocalRanks(j.ServerID)
		if err != nil {
			return fmt.Errorf("server %s not found in rank table (servers: %s)",
				j.ServerID, strings.Join(tbl.ServerIDs(), ", "))
		}
		if err := validateWorkerCount(j, localRanks); err != nil {
			return err
		}
		if j.RankSize != tbl.RankCount() {
			return fmt.Errorf("rank size %d does not match rank table with %d ranks", j.RankSize, tbl.RankCount())
		}
	}

	// MPI mode does not bind local devices, placement is mpirun's call.
	// Conversion runs on the host CPU.
	if j.Mode != job.ModeMPI && j.Kind != job.KindConvert {
		if err := checkDevices(j, devices, busy); err != nil {
			return err
		}
	}

	checkMemory()
	return nil
}

// checkDevices verifies the selected device ids exist and are free.
func checkDevices(j *job.Job, devices *device.Manager, busy map[int]string) error {
	if len(j.Devices) == 0 {
		return fmt.Errorf("no devices selected")
	}

	seen := make(map[int]bool, len(j.Devices))
	for _, id := range j.Devices {
		if seen[id] {
			return fmt.Errorf("device %d selected twice", id)
		}
		seen[id] = true
		if holder, ok := busy[id]; ok {
			return fmt.Errorf("device %d is held by running job %s", id, holder)
		}
	}

	if devices == nil || devices.Count() == 0 {
		logger.Warn("No accelerators detected on this host, workers may fail to bind devices")
		return nil
	}
	return devices.Exists(j.Devices...)
}

// checkMemory warns when available host memory is below the floor.
func checkMemory() {
	vm, err := mem.VirtualMemory()
	if err != nil {
		logger.Debug("Could not read host memory: %v", err)
		return
	}
	availMB := vm.Available / (1024 * 1024)
	if availMB < minAvailableMemoryMB {
		logger.Warn("Only %d MB host memory available, graph compilation may be slow or fail", availMB)
	}
}
