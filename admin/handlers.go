// Package admin provides HTTP handlers for the router administration
// API: API key management, agent registration, and breaker inspection.
// All admin routes are protected by bearer-token authentication via
// AuthMiddleware.
package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/relay-labs/agent-router/agents"
	"github.com/relay-labs/agent-router/internal/breaker"
)

// Handlers holds dependencies for admin HTTP handlers.
type Handlers struct {
	Keys     Store
	Registry *agents.Registry
	// Breakers reports breaker snapshots; nil hides the endpoint's data.
	Breakers func() map[string]breaker.Snapshot
}

// Routes returns a chi.Router with all admin endpoints mounted.
func (h *Handlers) Routes() chi.Router {
	r := chi.NewRouter()

	// Read-only endpoints (read-only or admin scope).
	r.Group(func(r chi.Router) {
		r.Use(RequireScope(ScopeReadOnly, ScopeAdmin))
		r.Get("/keys", h.listKeys)
		r.Get("/keys/{id}", h.getKey)
		r.Get("/agents", h.listAgents)
		r.Get("/agents/{name}", h.getAgent)
		r.Get("/agents/{name}/health", h.agentHealth)
		r.Get("/breakers", h.listBreakers)
	})

	// Write endpoints (admin scope only).
	r.Group(func(r chi.Router) {
		r.Use(RequireScope(ScopeAdmin))
		r.Post("/keys", h.createKey)
		r.Post("/keys/{id}/revoke", h.revokeKey)
		r.Delete("/keys/{id}", h.deleteKey)
		r.Post("/agents", h.registerAgent)
		r.Delete("/agents/{name}", h.deregisterAgent)
	})

	return r
}

// ── keys ─────────────────────────────────────────────────────────────────────

func (h *Handlers) listKeys(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"keys": h.Keys.List()})
}

func (h *Handlers) getKey(w http.ResponseWriter, r *http.Request) {
	key, ok := h.Keys.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "key not found")
		return
	}
	writeJSON(w, http.StatusOK, key.masked())
}

func (h *Handlers) createKey(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name      string     `json:"name"`
		Scopes    []string   `json:"scopes"`
		ExpiresAt *time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	key, err := h.Keys.Create(body.Name, body.Scopes, body.ExpiresAt)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create key")
		return
	}
	// The only response that carries the full secret.
	writeJSON(w, http.StatusCreated, key)
}

func (h *Handlers) revokeKey(w http.ResponseWriter, r *http.Request) {
	if err := h.Keys.Revoke(chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusNotFound, "key not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revoked": true})
}

func (h *Handlers) deleteKey(w http.ResponseWriter, r *http.Request) {
	if err := h.Keys.Delete(chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusNotFound, "key not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── agents ───────────────────────────────────────────────────────────────────

// registerAgentRequest registers a remote JSON-over-HTTP agent.
type registerAgentRequest struct {
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	Capabilities   []string        `json:"capabilities"`
	Endpoint       string          `json:"endpoint"`
	HealthEndpoint string          `json:"health_endpoint,omitempty"`
	InputSchema    json.RawMessage `json:"input_schema,omitempty"`
	OutputSchema   json.RawMessage `json:"output_schema,omitempty"`
	RequiredFields []string        `json:"required_fields,omitempty"`
	Privileged     bool            `json:"privileged,omitempty"`
	TimeoutMs      int             `json:"timeout_ms,omitempty"`
	MaxRetries     int             `json:"max_retries,omitempty"`
}

func (h *Handlers) registerAgent(w http.ResponseWriter, r *http.Request) {
	var body registerAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "endpoint is required")
		return
	}

	desc := agents.Descriptor{
		Name:           body.Name,
		Description:    body.Description,
		Capabilities:   body.Capabilities,
		InputSchema:    body.InputSchema,
		OutputSchema:   body.OutputSchema,
		RequiredFields: body.RequiredFields,
		Privileged:     body.Privileged,
		Timeout:        time.Duration(body.TimeoutMs) * time.Millisecond,
		MaxRetries:     body.MaxRetries,
		Invoker:        agents.NewHTTPInvoker(body.Name, body.Endpoint, body.HealthEndpoint),
	}
	if err := h.Registry.Register(desc); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, desc)
}

func (h *Handlers) deregisterAgent(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.Registry.Deregister(name); err != nil {
		if errors.Is(err, agents.ErrNotFound) {
			writeError(w, http.StatusNotFound, "agent not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to deregister agent")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) listAgents(w http.ResponseWriter, r *http.Request) {
	if capability := r.URL.Query().Get("capability"); capability != "" {
		writeJSON(w, http.StatusOK, map[string]any{
			"agents": h.Registry.FindByCapability(capability),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": h.Registry.List()})
}

func (h *Handlers) getAgent(w http.ResponseWriter, r *http.Request) {
	desc, ok := h.Registry.Get(chi.URLParam(r, "name"))
	if !ok {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, desc)
}

func (h *Handlers) agentHealth(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, ok := h.Registry.Get(name); !ok {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	status := "healthy"
	if err := h.Registry.HealthOf(r.Context(), name); err != nil {
		status = "unhealthy"
	}
	writeJSON(w, http.StatusOK, map[string]string{"agent": name, "status": status})
}

// ── breakers ─────────────────────────────────────────────────────────────────

func (h *Handlers) listBreakers(w http.ResponseWriter, _ *http.Request) {
	snapshots := map[string]breaker.Snapshot{}
	if h.Breakers != nil {
		snapshots = h.Breakers()
	}
	out := make(map[string]any, len(snapshots))
	for target, snap := range snapshots {
		out[target] = map[string]any{
			"state":                snap.State.String(),
			"consecutive_failures": snap.ConsecutiveFailures,
			"opened_at":            snap.OpenedAt,
			"last_probe_at":        snap.LastProbeAt,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"breakers": out})
}
