package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/tjfontaine/copilot-bridge/internal/api/anthropic"
	"github.com/tjfontaine/copilot-bridge/internal/api/copilot"
	"github.com/tjfontaine/copilot-bridge/internal/domain"
	"github.com/tjfontaine/copilot-bridge/internal/recorder"
	"github.com/tjfontaine/copilot-bridge/internal/rename"
	"github.com/tjfontaine/copilot-bridge/internal/server"
	"github.com/tjfontaine/copilot-bridge/internal/translate"
)

// Messages handles POST /v1/messages: translate the request, dispatch to the
// backend, and translate the response or stream back.
func (h *Handler) Messages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req anthropic.MessagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		domain.WriteError(w, domain.ErrInvalidRequest("invalid request body: "+err.Error()).
			WithCode(domain.ErrorCodeInvalidInput))
		return
	}

	// The caller sees its own model name on every response, whatever the
	// backend id resolved to. A trailing release date collapses to the base
	// family name, the same normalization the backend resolve applies.
	displayModel := rename.StripDateSuffix(req.Model)
	server.AddLogField(ctx, "model", displayModel)
	server.AddLogField(ctx, "stream", strconv.FormatBool(req.Stream))

	token, err := h.sessionToken(r)
	if err != nil {
		server.AddError(ctx, err)
		domain.WriteError(w, err)
		return
	}

	backendReq, err := translate.Request(&req, h.mapper)
	if err != nil {
		server.AddError(ctx, err)
		domain.WriteError(w, err)
		return
	}

	opts := &copilot.RequestOptions{
		Vision: translate.HasVision(&req),
		Agent:  translate.IsAgentCall(&req),
	}

	if req.Stream {
		h.streamMessages(w, r, token, backendReq, opts, displayModel)
		return
	}
	h.completeMessages(w, r, token, backendReq, opts, displayModel)
}

func (h *Handler) completeMessages(w http.ResponseWriter, r *http.Request, token string, backendReq *copilot.ChatCompletionRequest, opts *copilot.RequestOptions, displayModel string) {
	ctx := r.Context()
	start := time.Now()

	resp, err := h.backend.CreateChatCompletion(ctx, token, backendReq, opts)
	if err != nil {
		server.AddError(ctx, err)
		domain.WriteError(w, err)
		h.record(ctx, &recorder.Interaction{
			ID:             server.GetRequestID(ctx),
			RequestedModel: displayModel,
			BackendModel:   backendReq.Model,
			Duration:       time.Since(start),
			Error:          err.Error(),
		})
		return
	}

	out := translate.Response(resp, h.emulateThinking)
	out.Model = displayModel
	writeJSON(w, http.StatusOK, out)

	h.record(ctx, &recorder.Interaction{
		ID:             server.GetRequestID(ctx),
		RequestedModel: displayModel,
		BackendModel:   backendReq.Model,
		StopReason:     out.StopReason,
		InputTokens:    out.Usage.InputTokens,
		OutputTokens:   out.Usage.OutputTokens,
		Duration:       time.Since(start),
	})
}

func (h *Handler) streamMessages(w http.ResponseWriter, r *http.Request, token string, backendReq *copilot.ChatCompletionRequest, opts *copilot.RequestOptions, displayModel string) {
	ctx := r.Context()
	start := time.Now()

	summary := &recorder.Interaction{
		ID:             server.GetRequestID(ctx),
		RequestedModel: displayModel,
		BackendModel:   backendReq.Model,
		Streaming:      true,
	}

	ch, err := h.backend.StreamChatCompletion(ctx, token, backendReq, opts)
	if err != nil {
		server.AddError(ctx, err)
		domain.WriteError(w, err)
		summary.Duration = time.Since(start)
		summary.Error = err.Error()
		h.record(ctx, summary)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	state := translate.NewStreamState(h.emulateThinking)
	var streamErr error

	for res := range ch {
		if res.Err != nil {
			if errors.Is(res.Err, copilot.ErrMalformedChunk) {
				h.logger.Warn("skipping malformed chunk", "error", res.Err, "request_id", summary.ID)
				continue
			}
			streamErr = res.Err
			server.AddError(ctx, res.Err)
			apiErr := domain.AsAPIError(res.Err).WithCode(domain.ErrorCodeStreamAborted)
			writeSSE(w, flusher, anthropic.ErrorEvent{
				Type:  anthropic.EventError,
				Error: anthropic.ErrorDetail{Type: string(apiErr.Type), Message: apiErr.Message},
			})
			break
		}

		res.Chunk.Model = displayModel
		for _, ev := range translate.Chunk(res.Chunk, state) {
			captureEvent(summary, ev)
			writeSSE(w, flusher, ev)
		}
	}

	if streamErr == nil {
		// Streams that end without a finish chunk still get a well-formed
		// termination.
		for _, ev := range state.Drain() {
			captureEvent(summary, ev)
			writeSSE(w, flusher, ev)
		}
	} else {
		summary.Error = streamErr.Error()
	}

	summary.Duration = time.Since(start)
	h.record(ctx, summary)
}

// captureEvent lifts the final stop reason and usage off the event stream for
// the interaction record.
func captureEvent(in *recorder.Interaction, ev anthropic.StreamEvent) {
	delta, ok := ev.(anthropic.MessageDeltaEvent)
	if !ok {
		return
	}
	in.StopReason = delta.Delta.StopReason
	if delta.Usage != nil {
		in.InputTokens = delta.Usage.InputTokens
		in.OutputTokens = delta.Usage.OutputTokens
	}
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, ev anthropic.StreamEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.EventType(), data)
	if flusher != nil {
		flusher.Flush()
	}
}

func (h *Handler) record(ctx context.Context, in *recorder.Interaction) {
	if h.recorder == nil {
		return
	}
	// The request context may already be done once a stream finishes.
	if err := h.recorder.Save(context.WithoutCancel(ctx), in); err != nil {
		h.logger.Warn("failed to record interaction", "error", err, "id", in.ID)
	}
}
