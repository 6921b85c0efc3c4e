package handlers

import (
	"net/http"

	"github.com/tjfontaine/copilot-bridge/internal/api/anthropic"
	"github.com/tjfontaine/copilot-bridge/internal/domain"
	"github.com/tjfontaine/copilot-bridge/internal/server"
)

// The backend listing carries no creation timestamps, so every entry gets a
// fixed one.
const modelCreatedAt = "2024-01-01T00:00:00Z"

// ListModels handles GET /models and GET /v1/models, serving the cached
// backend catalog with client-facing ids.
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	token, err := h.sessionToken(r)
	if err != nil {
		server.AddError(ctx, err)
		domain.WriteError(w, err)
		return
	}

	models, err := h.catalog.Models(ctx, token)
	if err != nil {
		server.AddError(ctx, err)
		domain.WriteError(w, err)
		return
	}

	list := anthropic.ModelList{Data: make([]anthropic.ModelInfo, 0, len(models))}
	for _, m := range models {
		display := m.Name
		if display == "" {
			display = m.ID
		}
		list.Data = append(list.Data, anthropic.ModelInfo{
			ID:          m.ID,
			CreatedAt:   modelCreatedAt,
			DisplayName: display,
			Type:        "model",
		})
	}
	if len(list.Data) > 0 {
		list.FirstID = &list.Data[0].ID
		list.LastID = &list.Data[len(list.Data)-1].ID
	}

	writeJSON(w, http.StatusOK, list)
}
