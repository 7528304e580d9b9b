package courier

import (
	"net/http"

	"github.com/orderdesk/backend-fulfillment/internal/common"
	"github.com/orderdesk/backend-fulfillment/internal/store"
)

// Handler exposes read-only admin endpoints over the provider registry.
type Handler struct {
	Registry *Registry
}

// ListProviders returns the configured providers. Credentials are never
// included in the response.
func (h Handler) ListProviders(w http.ResponseWriter, _ *http.Request) {
	if h.Registry == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "provider registry not configured", nil)
		return
	}
	providers := h.Registry.List()
	payload := make([]map[string]any, 0, len(providers))
	for _, p := range providers {
		payload = append(payload, serialiseProvider(p))
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": payload})
}

func serialiseProvider(p store.Provider) map[string]any {
	return map[string]any{
		"id":          p.ID,
		"name":        p.Name,
		"adapterType": p.AdapterType,
		"active":      p.Active,
	}
}
