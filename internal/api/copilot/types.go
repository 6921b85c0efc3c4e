// Package copilot provides wire types and an HTTP client for the backend:
// credential exchange, model listing, and chat completions in the backend's
// OpenAI-shaped protocol.
package copilot

import "encoding/json"

// ChatCompletionRequest is the backend chat completion request.
type ChatCompletionRequest struct {
	Model            string         `json:"model"`
	Messages         []ChatMessage  `json:"messages"`
	MaxTokens        int            `json:"max_tokens,omitempty"`
	Temperature      *float64       `json:"temperature,omitempty"`
	TopP             *float64       `json:"top_p,omitempty"`
	Stop             []string       `json:"stop,omitempty"`
	Stream           bool           `json:"stream,omitempty"`
	N                int            `json:"n,omitempty"`
	FrequencyPenalty *float64       `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64       `json:"presence_penalty,omitempty"`
	Tools            []Tool         `json:"tools,omitempty"`
	ToolChoice       any            `json:"tool_choice,omitempty"`
	User             string         `json:"user,omitempty"`
	StreamOptions    *StreamOptions `json:"stream_options,omitempty"`
}

// StreamOptions configures streaming behavior.
type StreamOptions struct {
	IncludeUsage bool `json:"include_usage,omitempty"`
}

// ChatMessage is a message in the backend request.
type ChatMessage struct {
	Role       string          `json:"role"`
	Content    *MessageContent `json:"content,omitempty"`
	Name       string          `json:"name,omitempty"`
	ToolCalls  []ToolCall      `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

// MessageContent is either plain text or an ordered list of content parts.
// When Parts is non-nil the parts form is marshaled, otherwise the string.
type MessageContent struct {
	Text  string
	Parts []ContentPart
}

// TextContent wraps plain text as message content.
func TextContent(text string) *MessageContent {
	return &MessageContent{Text: text}
}

// PartsContent wraps content parts as message content.
func PartsContent(parts []ContentPart) *MessageContent {
	return &MessageContent{Parts: parts}
}

func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.Parts != nil {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

func (c *MessageContent) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		c.Text = single
		return nil
	}
	return json.Unmarshal(data, &c.Parts)
}

// ContentPart is one element of multi-part message content.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL carries an image reference, typically a data URL.
type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// Tool is a function tool definition.
type Tool struct {
	Type     string      `json:"type"`
	Function FunctionDef `json:"function"`
}

// FunctionDef describes a callable function.
type FunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// NamedToolChoice forces a single function.
type NamedToolChoice struct {
	Type     string                  `json:"type"`
	Function NamedToolChoiceFunction `json:"function"`
}

// NamedToolChoiceFunction names the forced function.
type NamedToolChoiceFunction struct {
	Name string `json:"name"`
}

// ToolCall is a completed tool call on a response message.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the function name and argument JSON.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChatCompletionResponse is the backend non-streaming response.
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// Choice is one completion choice.
type Choice struct {
	Index        int             `json:"index"`
	Message      ResponseMessage `json:"message"`
	FinishReason string          `json:"finish_reason,omitempty"`
}

// ResponseMessage is the assistant message on a choice.
type ResponseMessage struct {
	Role      string     `json:"role"`
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Usage is the backend token accounting.
type Usage struct {
	PromptTokens        int                  `json:"prompt_tokens"`
	CompletionTokens    int                  `json:"completion_tokens"`
	TotalTokens         int                  `json:"total_tokens"`
	PromptTokensDetails *PromptTokensDetails `json:"prompt_tokens_details,omitempty"`
}

// PromptTokensDetails breaks out cached prompt tokens.
type PromptTokensDetails struct {
	CachedTokens int `json:"cached_tokens"`
}

// ChatCompletionChunk is one streamed increment.
type ChatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
	Usage   *Usage        `json:"usage,omitempty"`
}

// ChunkChoice is a choice within a streamed increment.
type ChunkChoice struct {
	Index        int        `json:"index"`
	Delta        ChunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
}

// ChunkDelta is the incremental content of a chunk.
type ChunkDelta struct {
	Role      string          `json:"role,omitempty"`
	Content   *string         `json:"content,omitempty"`
	ToolCalls []ToolCallChunk `json:"tool_calls,omitempty"`
}

// ToolCallChunk is a partial tool call keyed by the backend's slot index.
type ToolCallChunk struct {
	Index    int                `json:"index"`
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type,omitempty"`
	Function *FunctionCallChunk `json:"function,omitempty"`
}

// FunctionCallChunk is a partial function call.
type FunctionCallChunk struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// ModelList is the backend model listing.
type ModelList struct {
	Data   []Model `json:"data"`
	Object string  `json:"object"`
}

// Model describes one backend model. Capability and policy payloads are
// carried opaquely so listings survive round trips unmodified.
type Model struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name,omitempty"`
	Object             string          `json:"object,omitempty"`
	Vendor             string          `json:"vendor,omitempty"`
	Version            string          `json:"version,omitempty"`
	ModelPickerEnabled bool            `json:"model_picker_enabled,omitempty"`
	Preview            bool            `json:"preview,omitempty"`
	Capabilities       json.RawMessage `json:"capabilities,omitempty"`
	Policy             json.RawMessage `json:"policy,omitempty"`
}

// TokenResponse is the credential exchange reply: a short-lived backend token
// with its absolute expiry and the backend's suggested refresh interval.
type TokenResponse struct {
	Token     string `json:"token"`
	RefreshIn int64  `json:"refresh_in"`
	ExpiresAt int64  `json:"expires_at"`
}
