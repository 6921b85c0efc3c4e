package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/tjfontaine/copilot-bridge/internal/api/copilot"
	"github.com/tjfontaine/copilot-bridge/internal/domain"
	"github.com/tjfontaine/copilot-bridge/internal/server"
)

// ChatCompletions handles POST /chat/completions and /v1/chat/completions:
// the backend protocol passed through untranslated. Only the model id is
// rewritten; everything else goes to the backend verbatim.
func (h *Handler) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		domain.WriteError(w, domain.ErrInvalidRequest("failed to read request body: "+err.Error()))
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		domain.WriteError(w, domain.ErrInvalidRequest("invalid request body: "+err.Error()).
			WithCode(domain.ErrorCodeInvalidInput))
		return
	}

	if model, ok := payload["model"].(string); ok && model != "" {
		server.AddLogField(ctx, "model", model)
		payload["model"] = h.mapper.ToBackend(model)
		body, err = json.Marshal(payload)
		if err != nil {
			domain.WriteError(w, domain.ErrInvalidRequest("failed to encode request body: "+err.Error()))
			return
		}
	}

	token, err := h.sessionToken(r)
	if err != nil {
		server.AddError(ctx, err)
		domain.WriteError(w, err)
		return
	}

	opts := passthroughOptions(payload)
	resp, err := h.backend.ForwardChatCompletion(ctx, token, body, opts)
	if err != nil {
		server.AddError(ctx, err)
		domain.WriteError(w, err)
		return
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr != nil {
			if readErr != io.EOF {
				server.AddError(ctx, readErr)
			}
			return
		}
	}
}

// passthroughOptions inspects a raw request for image content and agent-style
// turns so the backend hint headers match what translated requests would send.
func passthroughOptions(payload map[string]any) *copilot.RequestOptions {
	opts := &copilot.RequestOptions{}

	messages, _ := payload["messages"].([]any)
	for _, raw := range messages {
		msg, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		switch msg["role"] {
		case "assistant", "tool":
			opts.Agent = true
		}
		parts, ok := msg["content"].([]any)
		if !ok {
			continue
		}
		for _, rawPart := range parts {
			part, ok := rawPart.(map[string]any)
			if ok && part["type"] == "image_url" {
				opts.Vision = true
			}
		}
	}
	return opts
}
