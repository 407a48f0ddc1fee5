// Package handlers - devices.go implements the device inventory endpoint.
package handlers

import (
	"fmt"
	"net/http"

	"github.com/samber/lo"

	"github.com/zhenhua32/mindformers/internal/api"
	"github.com/zhenhua32/mindformers/internal/device"
	"github.com/zhenhua32/mindformers/internal/logger"
)

// ListDevices handles requests to list the NPUs on the server host.
//
// This endpoint rescans the hardware on every call so hot-replugged or
// recovered devices show up without a monitor restart, then overlays
// the scheduling view: devices held by a tracked running job are marked
// busy with the holder's job id.
//
// The returned inventory covers:
//   - Identity: Logical device id and resolved chip product name
//   - Location: PCI bus address when the scan attributed one
//   - Capacity: On-chip memory when the chip table knows it
//   - Network: Device NIC address from hccn.conf when configured
//
// This endpoint is called by the CLI 'xformer device' command when it
// is pointed at a remote monitor, and by schedulers picking a host.
//
// HTTP Method: GET
// Endpoint: /api/devices
//
// Response: 200 OK with DeviceListResponse JSON
//
//	{
//	  "devices": [
//	    {
//	      "id": 0,
//	      "product": "Ascend 910B",
//	      "pci_address": "0000:c1:00.0",
//	      "memory_mb": 65536,
//	      "nic_ip": "192.168.100.101",
//	      "busy": true,
//	      "job_id": "llama-7b-pretrain-3f2a91c4"
//	    }
//	  ]
//	}
func (h *Handler) ListDevices(w http.ResponseWriter, r *http.Request) {
	if err := h.deviceManager.Rescan(); err != nil {
		h.WriteError(w, fmt.Sprintf("Device detection failed: %v", err), http.StatusInternalServerError)
		return
	}

	busy, err := h.store.RunningDevices()
	if err != nil {
		logger.Warn("Failed to determine busy devices: %v", err)
		busy = map[int]string{}
	}

	devices := lo.Map(h.deviceManager.List(), func(n device.NPU, _ int) api.DeviceInfo {
		info := api.DeviceInfo{
			ID:         n.ID,
			Product:    n.Product,
			PCIAddress: n.PCIAddress,
			MemoryMB:   n.MemoryMB,
			NicIP:      n.NicIP,
		}
		if jobID, held := busy[n.ID]; held {
			info.Busy = true
			info.JobID = jobID
		}
		return info
	})

	h.WriteJSON(w, api.DeviceListResponse{Devices: devices}, http.StatusOK)
}
