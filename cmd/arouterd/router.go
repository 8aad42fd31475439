package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	agentrouter "github.com/relay-labs/agent-router"
	"github.com/relay-labs/agent-router/admin"
	"github.com/relay-labs/agent-router/internal/logging"
	"github.com/relay-labs/agent-router/internal/ratelimit"
	"github.com/relay-labs/agent-router/internal/version"
	"github.com/relay-labs/agent-router/orchestrator"
	"github.com/relay-labs/agent-router/providers"
)

// queryRequest is the body of POST /query.
type queryRequest struct {
	orchestrator.Query
	Options orchestrator.Options `json:"options"`
}

// generateResponse is the body of POST /v1/generate: the provider response
// plus the attempt trail of the call that produced it.
type generateResponse struct {
	*providers.Response
	Attempts []agentrouter.ProviderAttempt `json:"attempts,omitempty"`
}

// newRouter builds the HTTP router. limiter may be nil to disable rate
// limiting; gw may be nil when no providers are configured.
func newRouter(orch *orchestrator.Orchestrator, gw *agentrouter.Gateway, keyStore admin.Store, limiter *ratelimit.Store) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware)
	r.Use(middleware.Recoverer)
	r.Use(ratelimit.Middleware(limiter))

	r.Post("/query", func(w http.ResponseWriter, req *http.Request) {
		var body queryRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, string(orchestrator.KindBadRequest), "invalid request body: "+err.Error())
			return
		}
		resp, err := orch.Handle(req.Context(), body.Query, body.Options)
		if err != nil {
			writeError(w, orchestrator.HTTPStatus(err), string(orchestrator.Classify(err)), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, resp)
	})

	r.Post("/v1/generate", func(w http.ResponseWriter, req *http.Request) {
		var body agentrouter.GenerateRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid request body: "+err.Error())
			return
		}
		if err := body.Request.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		if gw == nil {
			writeError(w, http.StatusServiceUnavailable, "no_provider", "no providers configured")
			return
		}
		resp, call, err := gw.Generate(req.Context(), body)
		if err != nil {
			status := http.StatusBadGateway
			var apf *agentrouter.AllProvidersFailed
			if !errors.As(err, &apf) {
				status = http.StatusInternalServerError
			}
			writeError(w, status, "generation_failed", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, generateResponse{Response: resp, Attempts: call.Attempts})
	})

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		status := "healthy"
		var provHealth map[string]providers.Health
		if gw != nil {
			provHealth = gw.Health(req.Context())
			for _, h := range provHealth {
				if h.Status != providers.StatusHealthy {
					status = "degraded"
					break
				}
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    status,
			"version":   version.Short(),
			"providers": provHealth,
			"agents":    orch.Registry().Len(),
		})
	})

	r.Get("/providers", func(w http.ResponseWriter, _ *http.Request) {
		var descs []providers.Descriptor
		if gw != nil {
			descs = gw.Registry().Descriptors()
		}
		writeJSON(w, http.StatusOK, map[string]any{"providers": descs})
	})

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	adminHandlers := &admin.Handlers{
		Keys:     keyStore,
		Registry: orch.Registry(),
		Breakers: orch.BreakerSnapshots,
	}
	r.Route("/admin", func(r chi.Router) {
		r.Use(admin.AuthMiddleware(keyStore))
		r.Mount("/", adminHandlers.Routes())
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the error envelope returned by every endpoint:
// a kind for programmatic handling and a short human-readable message.
func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"kind":    kind,
			"message": message,
		},
	})
}
