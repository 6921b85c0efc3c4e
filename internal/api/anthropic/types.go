// Package anthropic provides the client-facing wire types of the bridge: the
// Messages request/response shapes and the streaming event types. Content is
// modeled as discriminated unions with custom JSON handling so translation
// boundaries can match exhaustively on block kinds.
package anthropic

import (
	"encoding/json"
	"fmt"
)

// Block type discriminators.
const (
	BlockTypeText       = "text"
	BlockTypeImage      = "image"
	BlockTypeToolUse    = "tool_use"
	BlockTypeToolResult = "tool_result"
	BlockTypeThinking   = "thinking"
)

// MessagesRequest is the Messages API request shape.
type MessagesRequest struct {
	Model         string       `json:"model"`
	Messages      []Message    `json:"messages"`
	MaxTokens     int          `json:"max_tokens"`
	System        SystemPrompt `json:"system,omitempty"`
	Metadata      *Metadata    `json:"metadata,omitempty"`
	StopSequences []string     `json:"stop_sequences,omitempty"`
	Stream        bool         `json:"stream,omitempty"`
	Temperature   *float64     `json:"temperature,omitempty"`
	TopP          *float64     `json:"top_p,omitempty"`
	TopK          *int         `json:"top_k,omitempty"`
	Tools         []Tool       `json:"tools,omitempty"`
	ToolChoice    *ToolChoice  `json:"tool_choice,omitempty"`
}

// Metadata carries request metadata; only user_id is forwarded.
type Metadata struct {
	UserID string `json:"user_id,omitempty"`
}

// Tool is a client-side tool definition.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ToolChoice selects how the model may use tools.
type ToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// SystemPrompt accepts either a plain string or an array of text blocks.
type SystemPrompt []TextBlock

// TextBlock is a single text segment of a system prompt.
type TextBlock struct {
	Type string `json:"type,omitempty"`
	Text string `json:"text"`
}

func (s *SystemPrompt) UnmarshalJSON(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*s = SystemPrompt{{Type: "text", Text: single}}
		return nil
	}

	var blocks []TextBlock
	if err := json.Unmarshal(data, &blocks); err == nil {
		*s = blocks
		return nil
	}

	return fmt.Errorf("system must be a string or array of text blocks")
}

// Message is one conversation turn.
type Message struct {
	Role    string        `json:"role"`
	Content ContentBlocks `json:"content"`
}

// ContentBlocks supports both the string shortcut and the full array format.
type ContentBlocks []ContentBlock

func (c *ContentBlocks) UnmarshalJSON(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	// Allow the simple string form.
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*c = ContentBlocks{{Type: BlockTypeText, Text: single}}
		return nil
	}

	// Allow the array-of-blocks form.
	var blocks []ContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return fmt.Errorf("content must be a string or array of content blocks: %w", err)
	}
	*c = blocks
	return nil
}

// ContentBlock is one unit of message content. Exactly one variant's fields
// are populated, selected by Type.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// thinking
	Thinking string `json:"thinking,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string            `json:"tool_use_id,omitempty"`
	Content   ToolResultContent `json:"content,omitempty"`
	IsError   bool              `json:"is_error,omitempty"`

	// image
	Source *ImageSource `json:"source,omitempty"`
}

func (b *ContentBlock) UnmarshalJSON(data []byte) error {
	type shadow ContentBlock
	var raw shadow
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch raw.Type {
	case BlockTypeText, BlockTypeThinking:
	case BlockTypeToolUse:
		if raw.ID == "" || raw.Name == "" {
			return fmt.Errorf("tool_use block requires id and name")
		}
	case BlockTypeToolResult:
		if raw.ToolUseID == "" {
			return fmt.Errorf("tool_result block requires tool_use_id")
		}
	case BlockTypeImage:
		if raw.Source == nil {
			return fmt.Errorf("image block requires source")
		}
	case "":
		return fmt.Errorf("content block is missing type")
	default:
		return fmt.Errorf("unknown content block type %q", raw.Type)
	}

	*b = ContentBlock(raw)
	return nil
}

// ToolResultContent accepts either a plain string or an array of text blocks
// and collapses to the concatenated text.
type ToolResultContent string

func (t *ToolResultContent) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*t = ToolResultContent(single)
		return nil
	}

	var blocks []TextBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return fmt.Errorf("tool_result content must be a string or array of text blocks")
	}
	var out string
	for _, blk := range blocks {
		out += blk.Text
	}
	*t = ToolResultContent(out)
	return nil
}

// ImageSource is a base64 image payload.
type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// Stop reasons on the client surface.
const (
	StopReasonEndTurn   = "end_turn"
	StopReasonMaxTokens = "max_tokens"
	StopReasonToolUse   = "tool_use"
	StopReasonRefusal   = "refusal"
)

// MessagesResponse is the non-streaming Messages API response.
type MessagesResponse struct {
	ID           string        `json:"id"`
	Type         string        `json:"type"`
	Role         string        `json:"role"`
	Content      []OutputBlock `json:"content"`
	Model        string        `json:"model"`
	StopReason   string        `json:"stop_reason,omitempty"`
	StopSequence *string       `json:"stop_sequence"`
	Usage        Usage         `json:"usage"`
}

// OutputBlock is an assistant-produced content block: text, tool_use, or
// thinking.
type OutputBlock struct {
	Type     string
	Text     string
	Thinking string
	ID       string
	Name     string
	Input    json.RawMessage
}

func (b OutputBlock) MarshalJSON() ([]byte, error) {
	switch b.Type {
	case BlockTypeText:
		return json.Marshal(struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}{b.Type, b.Text})
	case BlockTypeThinking:
		return json.Marshal(struct {
			Type     string `json:"type"`
			Thinking string `json:"thinking"`
		}{b.Type, b.Thinking})
	case BlockTypeToolUse:
		input := b.Input
		if len(input) == 0 {
			input = json.RawMessage("{}")
		}
		return json.Marshal(struct {
			Type  string          `json:"type"`
			ID    string          `json:"id"`
			Name  string          `json:"name"`
			Input json.RawMessage `json:"input"`
		}{b.Type, b.ID, b.Name, input})
	default:
		return nil, fmt.Errorf("unknown output block type %q", b.Type)
	}
}

// Usage is the client-surface token accounting. Cached prompt tokens are
// reported separately from input tokens, not folded into them.
type Usage struct {
	InputTokens          int  `json:"input_tokens"`
	OutputTokens         int  `json:"output_tokens"`
	CacheReadInputTokens *int `json:"cache_read_input_tokens,omitempty"`
}

// ModelList is the client-surface model listing.
type ModelList struct {
	Data    []ModelInfo `json:"data"`
	FirstID *string     `json:"first_id"`
	HasMore bool        `json:"has_more"`
	LastID  *string     `json:"last_id"`
}

// ModelInfo describes one listed model.
type ModelInfo struct {
	ID          string `json:"id"`
	CreatedAt   string `json:"created_at"`
	DisplayName string `json:"display_name"`
	Type        string `json:"type"`
}
