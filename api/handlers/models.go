package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/nexushq/nexus/api"
	"github.com/nexushq/nexus/internal/registry"
)

// ModelsHandler serves GET /v1/models: the aggregated listing across every
// registered backend.
type ModelsHandler struct {
	reg    *registry.Registry
	logger *zap.Logger
}

func NewModelsHandler(reg *registry.Registry, logger *zap.Logger) *ModelsHandler {
	return &ModelsHandler{reg: reg, logger: logger}
}

// HandleList returns one ModelInfo entry per agent serving a model; a model
// present on several agents yields several entries distinguished by owned_by.
func (h *ModelsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	agents := h.reg.List()

	data := make([]api.ModelInfo, 0, len(agents))
	for _, a := range agents {
		for _, m := range a.Models() {
			data = append(data, api.ModelInfo{
				ID:      m.ID,
				Object:  "model",
				Created: a.LastCheck().Unix(),
				OwnedBy: a.Name,
			})
		}
	}

	WriteJSON(w, http.StatusOK, api.ModelList{Object: "list", Data: data})
}
