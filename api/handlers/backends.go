package handlers

import (
	"context"
	"net/http"
	"regexp"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nexushq/nexus/api"
	"github.com/nexushq/nexus/internal/health"
	"github.com/nexushq/nexus/internal/nexuserrors"
	"github.com/nexushq/nexus/internal/registry"
)

// validBackendName mirrors the id format used elsewhere in the gateway:
// alphanumeric start, dots/dashes/underscores permitted, bounded length.
var validBackendName = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

var backendKinds = map[string]registry.Kind{
	"ollama":            registry.KindOllama,
	"vllm":              registry.KindVLLM,
	"llamacpp":          registry.KindLlamaCpp,
	"exo":               registry.KindExo,
	"openai_compatible": registry.KindOpenAICompat,
	"lmstudio":          registry.KindLMStudio,
	"anthropic":         registry.KindAnthropic,
	"generic":           registry.KindGeneric,
}

// BackendsHandler serves the admin surface for registering and removing
// backends outside static config or mDNS discovery.
type BackendsHandler struct {
	reg     *registry.Registry
	checker *health.Checker
	logger  *zap.Logger
}

func NewBackendsHandler(reg *registry.Registry, checker *health.Checker, logger *zap.Logger) *BackendsHandler {
	return &BackendsHandler{reg: reg, checker: checker, logger: logger.With(zap.String("component", "backends_handler"))}
}

// HandleAdd serves POST /v1/admin/backends: registers a manually configured
// backend and starts watching its health in the background.
func (h *BackendsHandler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.AddBackendRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	if req.Name == "" || !validBackendName.MatchString(req.Name) {
		WriteError(w, nexuserrors.New(nexuserrors.ErrInvalidRequest, "name must be alphanumeric, up to 128 chars").WithHTTPStatus(http.StatusBadRequest), h.logger)
		return
	}
	if !ValidateURL(req.URL) {
		WriteError(w, nexuserrors.New(nexuserrors.ErrInvalidRequest, "url must be a well-formed http(s) URL").WithHTTPStatus(http.StatusBadRequest), h.logger)
		return
	}
	kind, ok := backendKinds[req.Kind]
	if !ok {
		WriteError(w, nexuserrors.New(nexuserrors.ErrInvalidRequest, "kind is not a recognized backend type").WithHTTPStatus(http.StatusBadRequest), h.logger)
		return
	}
	zone := registry.ZoneOpen
	if req.Zone == string(registry.ZoneRestricted) {
		zone = registry.ZoneRestricted
	}

	id := uuid.NewString()
	a := registry.NewAgent(id, req.Name, req.URL, kind, req.Priority, registry.DiscoveryManual, zone, req.Tier)
	a.APIKeyEnv = req.APIKeyEnv
	h.reg.Add(a)

	if h.checker != nil {
		h.checker.Watch(context.Background(), id)
		h.checker.ProbeNow(id)
	}

	WriteJSON(w, http.StatusCreated, api.AddBackendResponse{ID: id, Status: "registered"})
}

// HandleRemove serves DELETE /v1/admin/backends/{id}: removes a backend from
// the registry immediately, regardless of how it was discovered.
func (h *BackendsHandler) HandleRemove(w http.ResponseWriter, r *http.Request, id string) {
	if h.reg.Get(id) == nil {
		WriteError(w, nexuserrors.New(nexuserrors.ErrModelNotFound, "backend not found").WithHTTPStatus(http.StatusNotFound), h.logger)
		return
	}
	h.reg.Remove(id)
	WriteJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}
