package translate

import (
	"encoding/json"

	"github.com/tjfontaine/copilot-bridge/internal/api/anthropic"
	"github.com/tjfontaine/copilot-bridge/internal/api/copilot"
)

// Response converts a complete backend response into the client shape. Text
// content precedes tool-use blocks; when emulateThinking is set, <thinking>
// spans in the text are lifted into thinking blocks.
func Response(resp *copilot.ChatCompletionResponse, emulateThinking bool) *anthropic.MessagesResponse {
	var textBlocks []anthropic.OutputBlock
	var toolBlocks []anthropic.OutputBlock
	var stopReason string

	for i, choice := range resp.Choices {
		if choice.Message.Content != "" {
			if emulateThinking {
				textBlocks = append(textBlocks, ParseThinking(choice.Message.Content)...)
			} else {
				textBlocks = append(textBlocks, anthropic.OutputBlock{
					Type: anthropic.BlockTypeText,
					Text: choice.Message.Content,
				})
			}
		}

		for _, tc := range choice.Message.ToolCalls {
			toolBlocks = append(toolBlocks, toolUseBlock(tc))
		}

		if i == 0 && choice.FinishReason != "" {
			stopReason = MapStopReason(choice.FinishReason)
		}
		// A tool_calls finish on any choice wins.
		if choice.FinishReason == "tool_calls" {
			stopReason = anthropic.StopReasonToolUse
		}
	}

	content := append(textBlocks, toolBlocks...)
	if content == nil {
		content = []anthropic.OutputBlock{}
	}

	return &anthropic.MessagesResponse{
		ID:         resp.ID,
		Type:       "message",
		Role:       "assistant",
		Content:    content,
		Model:      resp.Model,
		StopReason: stopReason,
		Usage:      translateUsage(resp.Usage),
	}
}

// toolUseBlock converts a backend tool call. Malformed argument JSON degrades
// to an empty object instead of failing the response.
func toolUseBlock(tc copilot.ToolCall) anthropic.OutputBlock {
	input := json.RawMessage(tc.Function.Arguments)
	if !json.Valid(input) || len(input) == 0 {
		input = json.RawMessage("{}")
	}
	return anthropic.OutputBlock{
		Type:  anthropic.BlockTypeToolUse,
		ID:    tc.ID,
		Name:  tc.Function.Name,
		Input: input,
	}
}

// MapStopReason maps a backend finish reason to a client stop reason.
// Unrecognized reasons fall back to end_turn.
func MapStopReason(reason string) string {
	switch reason {
	case "stop":
		return anthropic.StopReasonEndTurn
	case "length":
		return anthropic.StopReasonMaxTokens
	case "tool_calls":
		return anthropic.StopReasonToolUse
	case "content_filter":
		return anthropic.StopReasonRefusal
	default:
		return anthropic.StopReasonEndTurn
	}
}

// translateUsage maps backend token accounting. Cached prompt tokens are
// subtracted from input tokens and reported separately.
func translateUsage(u *copilot.Usage) anthropic.Usage {
	if u == nil {
		return anthropic.Usage{}
	}

	cached := 0
	if u.PromptTokensDetails != nil {
		cached = u.PromptTokensDetails.CachedTokens
	}
	input := u.PromptTokens - cached
	if input < 0 {
		input = 0
	}

	out := anthropic.Usage{
		InputTokens:  input,
		OutputTokens: u.CompletionTokens,
	}
	if cached > 0 {
		out.CacheReadInputTokens = &cached
	}
	return out
}
