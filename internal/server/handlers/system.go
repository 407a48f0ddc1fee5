// Package handlers - system.go implements the host information endpoint.
package handlers

import (
	"fmt"
	"net/http"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/zhenhua32/mindformers/internal/api"
	"github.com/zhenhua32/mindformers/internal/logger"
)

// System handles requests for host-level information.
//
// The response combines kernel facts from the OS with the persisted
// monitor identity, so a fleet dashboard can tell hosts apart even when
// hostnames collide.
//
// HTTP Method: GET
// Endpoint: /api/system
//
// Response: 200 OK with SystemResponse JSON
//
//	{
//	  "hostname": "npu-node-03",
//	  "identity": "xformer-3f2a91c4",
//	  "os": "linux",
//	  "kernel_arch": "aarch64",
//	  "cpu_cores": 192,
//	  "memory_total_mb": 1546188,
//	  "memory_available_mb": 1321004,
//	  "uptime_seconds": 864000
//	}
func (h *Handler) System(w http.ResponseWriter, r *http.Request) {
	resp := api.SystemResponse{OS: runtime.GOOS}

	if info, err := host.Info(); err == nil {
		resp.Hostname = info.Hostname
		resp.KernelArch = info.KernelArch
		resp.UptimeSeconds = info.Uptime
	} else {
		logger.Warn("Failed to read host info: %v", err)
	}

	if cores, err := cpu.Counts(true); err == nil {
		resp.CPUCores = cores
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		resp.MemoryTotalMB = vm.Total / 1024 / 1024
		resp.MemoryAvailableMB = vm.Available / 1024 / 1024
	} else {
		logger.Warn("Failed to read memory info: %v", err)
	}

	identity, err := h.config.GetOrCreateServerIdentity()
	if err != nil {
		h.WriteError(w, fmt.Sprintf("Failed to load monitor identity: %v", err), http.StatusInternalServerError)
		return
	}
	resp.Identity = identity.Name

	h.WriteJSON(w, resp, http.StatusOK)
}
