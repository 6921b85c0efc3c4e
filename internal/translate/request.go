// Package translate converts between the client's content-block protocol and
// the backend's OpenAI-shaped chat completion protocol, for full responses and
// for incremental streams.
package translate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tjfontaine/copilot-bridge/internal/api/anthropic"
	"github.com/tjfontaine/copilot-bridge/internal/api/copilot"
	"github.com/tjfontaine/copilot-bridge/internal/domain"
	"github.com/tjfontaine/copilot-bridge/internal/rename"
)

// Request converts a Messages request into the backend request shape. The
// model id is resolved to its backend name through the mapper.
func Request(req *anthropic.MessagesRequest, mapper *rename.Mapper) (*copilot.ChatCompletionRequest, error) {
	if req.Model == "" {
		return nil, domain.ErrInvalidRequest("model is required").WithCode(domain.ErrorCodeInvalidInput)
	}
	if len(req.Messages) == 0 {
		return nil, domain.ErrInvalidRequest("messages must not be empty").WithCode(domain.ErrorCodeInvalidInput)
	}

	model := req.Model
	if mapper != nil {
		model = mapper.ToBackend(model)
	}

	messages, err := translateMessages(req)
	if err != nil {
		return nil, err
	}

	toolChoice, err := translateToolChoice(req.ToolChoice)
	if err != nil {
		return nil, err
	}

	return &copilot.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.StopSequences,
		Stream:      req.Stream,
		Tools:       translateTools(req.Tools),
		ToolChoice:  toolChoice,
		User:        userID(req.Metadata),
	}, nil
}

func userID(m *anthropic.Metadata) string {
	if m == nil {
		return ""
	}
	return m.UserID
}

func translateMessages(req *anthropic.MessagesRequest) ([]copilot.ChatMessage, error) {
	var out []copilot.ChatMessage

	if len(req.System) > 0 {
		parts := make([]string, len(req.System))
		for i, blk := range req.System {
			parts[i] = blk.Text
		}
		out = append(out, copilot.ChatMessage{
			Role:    "system",
			Content: copilot.TextContent(strings.Join(parts, "\n\n")),
		})
	}

	for i, msg := range req.Messages {
		switch msg.Role {
		case "user":
			out = append(out, translateUserMessage(msg.Content)...)
		case "assistant":
			assistant, err := translateAssistantMessage(msg.Content)
			if err != nil {
				return nil, err
			}
			out = append(out, assistant)
		default:
			return nil, domain.ErrInvalidRequest(fmt.Sprintf("messages[%d]: unsupported role %q", i, msg.Role)).
				WithCode(domain.ErrorCodeInvalidInput)
		}
	}

	return out, nil
}

// translateUserMessage expands a user turn. Tool results become one backend
// tool message each, emitted before the rest of the turn's content.
func translateUserMessage(blocks anthropic.ContentBlocks) []copilot.ChatMessage {
	var out []copilot.ChatMessage

	for _, blk := range blocks {
		if blk.Type == anthropic.BlockTypeToolResult {
			out = append(out, copilot.ChatMessage{
				Role:       "tool",
				Content:    copilot.TextContent(string(blk.Content)),
				ToolCallID: blk.ToolUseID,
			})
		}
	}

	var rest []anthropic.ContentBlock
	hasImage := false
	for _, blk := range blocks {
		if blk.Type == anthropic.BlockTypeToolResult {
			continue
		}
		if blk.Type == anthropic.BlockTypeImage {
			hasImage = true
		}
		rest = append(rest, blk)
	}

	if len(rest) == 0 {
		return out
	}

	if hasImage {
		var parts []copilot.ContentPart
		for _, blk := range rest {
			switch blk.Type {
			case anthropic.BlockTypeText:
				parts = append(parts, copilot.ContentPart{Type: "text", Text: blk.Text})
			case anthropic.BlockTypeImage:
				parts = append(parts, copilot.ContentPart{
					Type: "image_url",
					ImageURL: &copilot.ImageURL{
						URL: fmt.Sprintf("data:%s;base64,%s", blk.Source.MediaType, blk.Source.Data),
					},
				})
			}
		}
		out = append(out, copilot.ChatMessage{
			Role:    "user",
			Content: copilot.PartsContent(parts),
		})
		return out
	}

	var texts []string
	for _, blk := range rest {
		if blk.Type == anthropic.BlockTypeText {
			texts = append(texts, blk.Text)
		}
	}
	out = append(out, copilot.ChatMessage{
		Role:    "user",
		Content: copilot.TextContent(strings.Join(texts, "\n\n")),
	})
	return out
}

// translateAssistantMessage collapses an assistant turn into one backend
// message. Text and thinking blocks are joined; tool_use blocks become tool
// calls with their input JSON-encoded.
func translateAssistantMessage(blocks anthropic.ContentBlocks) (copilot.ChatMessage, error) {
	var texts []string
	var toolCalls []copilot.ToolCall

	for _, blk := range blocks {
		switch blk.Type {
		case anthropic.BlockTypeText:
			texts = append(texts, blk.Text)
		case anthropic.BlockTypeThinking:
			texts = append(texts, blk.Thinking)
		case anthropic.BlockTypeToolUse:
			input := blk.Input
			if len(input) == 0 {
				input = json.RawMessage("{}")
			}
			toolCalls = append(toolCalls, copilot.ToolCall{
				ID:   blk.ID,
				Type: "function",
				Function: copilot.FunctionCall{
					Name:      blk.Name,
					Arguments: string(input),
				},
			})
		case anthropic.BlockTypeToolResult, anthropic.BlockTypeImage:
			return copilot.ChatMessage{}, domain.ErrInvalidRequest(
				fmt.Sprintf("assistant message cannot contain %s blocks", blk.Type)).
				WithCode(domain.ErrorCodeInvalidInput)
		}
	}

	msg := copilot.ChatMessage{Role: "assistant", ToolCalls: toolCalls}
	if len(texts) > 0 {
		msg.Content = copilot.TextContent(strings.Join(texts, "\n\n"))
	}
	return msg, nil
}

func translateTools(tools []anthropic.Tool) []copilot.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]copilot.Tool, len(tools))
	for i, t := range tools {
		out[i] = copilot.Tool{
			Type: "function",
			Function: copilot.FunctionDef{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		}
	}
	return out
}

func translateToolChoice(tc *anthropic.ToolChoice) (any, error) {
	if tc == nil {
		return nil, nil
	}
	switch tc.Type {
	case "auto":
		return "auto", nil
	case "any":
		return "required", nil
	case "none":
		return "none", nil
	case "tool":
		if tc.Name == "" {
			return nil, domain.ErrInvalidRequest("tool_choice of type tool requires a name").
				WithCode(domain.ErrorCodeInvalidInput)
		}
		return copilot.NamedToolChoice{
			Type:     "function",
			Function: copilot.NamedToolChoiceFunction{Name: tc.Name},
		}, nil
	default:
		return nil, domain.ErrInvalidRequest(fmt.Sprintf("unsupported tool_choice type %q", tc.Type)).
			WithCode(domain.ErrorCodeUnsupportedToolChoice)
	}
}

// HasVision reports whether any user message carries image content, which the
// backend wants flagged via a request header.
func HasVision(req *anthropic.MessagesRequest) bool {
	for _, msg := range req.Messages {
		if msg.Role != "user" {
			continue
		}
		for _, blk := range msg.Content {
			if blk.Type == anthropic.BlockTypeImage {
				return true
			}
		}
	}
	return false
}

// IsAgentCall reports whether the conversation includes assistant turns,
// marking it as agent-initiated for the backend.
func IsAgentCall(req *anthropic.MessagesRequest) bool {
	for _, msg := range req.Messages {
		if msg.Role == "assistant" {
			return true
		}
	}
	return false
}
