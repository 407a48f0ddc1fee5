// Package handlers - models.go implements the model registry endpoint.
package handlers

import (
	"net/http"

	"github.com/zhenhua32/mindformers/internal/api"
)

// ListModels handles requests to list the trainable model cards.
//
// The registry is compiled into the binary, so the listing is the same
// on every host running the same version. Clients use it to discover
// which --model values a launch accepts and what parallel layout each
// card recommends.
//
// HTTP Method: GET
// Endpoint: /api/models
//
// Response: 200 OK with ListModelsResponse JSON
//
//	{
//	  "models": [
//	    {
//	      "name": "llama_7b",
//	      "family": "llama",
//	      "display_name": "LLaMA 7B",
//	      "params": "7B",
//	      "seq_length": 2048,
//	      "num_layers": 32,
//	      "hidden_size": 4096,
//	      "default_parallel": {"data_parallel": 8, "model_parallel": 1, ...}
//	    }
//	  ],
//	  "total": 6
//	}
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	infos := h.modelRegistry.Infos()
	h.WriteJSON(w, api.ListModelsResponse{
		Models: infos,
		Total:  len(infos),
	}, http.StatusOK)
}
