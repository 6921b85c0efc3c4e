// Package handlers implements the HTTP surface of the bridge: the Messages
// endpoint with streaming, the model listing, the raw chat completion
// passthrough, and health.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/copilot-bridge/internal/api/copilot"
	"github.com/tjfontaine/copilot-bridge/internal/auth"
	"github.com/tjfontaine/copilot-bridge/internal/catalog"
	"github.com/tjfontaine/copilot-bridge/internal/credential"
	"github.com/tjfontaine/copilot-bridge/internal/recorder"
	"github.com/tjfontaine/copilot-bridge/internal/rename"
)

// Backend is the chat completion surface of the upstream client.
// *copilot.Client satisfies it.
type Backend interface {
	CreateChatCompletion(ctx context.Context, token string, req *copilot.ChatCompletionRequest, opts *copilot.RequestOptions) (*copilot.ChatCompletionResponse, error)
	StreamChatCompletion(ctx context.Context, token string, req *copilot.ChatCompletionRequest, opts *copilot.RequestOptions) (<-chan copilot.StreamResult, error)
	ForwardChatCompletion(ctx context.Context, token string, body []byte, opts *copilot.RequestOptions) (*http.Response, error)
}

// Handler carries the dependencies of all routes.
type Handler struct {
	backend         Backend
	credentials     *credential.Manager
	catalog         *catalog.Cache
	mapper          *rename.Mapper
	emulateThinking bool
	recorder        *recorder.Recorder
	logger          *slog.Logger
}

// Option configures the handler.
type Option func(*Handler)

// WithRecorder enables interaction recording.
func WithRecorder(r *recorder.Recorder) Option {
	return func(h *Handler) {
		h.recorder = r
	}
}

// WithThinkingEmulation controls whether inline thinking tags in backend
// output are surfaced as thinking blocks.
func WithThinkingEmulation(enabled bool) Option {
	return func(h *Handler) {
		h.emulateThinking = enabled
	}
}

// New creates the handler set.
func New(backend Backend, credentials *credential.Manager, cat *catalog.Cache, mapper *rename.Mapper, logger *slog.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		backend:         backend,
		credentials:     credentials,
		catalog:         cat,
		mapper:          mapper,
		emulateThinking: true,
		logger:          logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes registers all endpoints on the router.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.Health)
	r.Get("/models", h.ListModels)
	r.Get("/v1/models", h.ListModels)
	r.Post("/v1/messages", h.Messages)
	r.Post("/chat/completions", h.ChatCompletions)
	r.Post("/v1/chat/completions", h.ChatCompletions)
}

// sessionToken resolves the backend session for a request, preferring the
// configured operator credential over any caller-supplied GitHub token.
func (h *Handler) sessionToken(r *http.Request) (string, error) {
	callerToken := auth.ExtractGitHubToken(r.Header)
	return h.credentials.TokenFor(r.Context(), callerToken)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
