package anthropic

import (
	"encoding/json"
	"fmt"
)

// Stream event type names.
const (
	EventMessageStart      = "message_start"
	EventContentBlockStart = "content_block_start"
	EventContentBlockDelta = "content_block_delta"
	EventContentBlockStop  = "content_block_stop"
	EventMessageDelta      = "message_delta"
	EventMessageStop       = "message_stop"
	EventPing              = "ping"
	EventError             = "error"
)

// StreamEvent is one client-facing streaming event. Each implementation
// marshals to the JSON payload of an SSE frame whose event name is EventType.
type StreamEvent interface {
	EventType() string
}

// MessageStartEvent opens a streamed message.
type MessageStartEvent struct {
	Type    string       `json:"type"`
	Message MessageStart `json:"message"`
}

// MessageStart is the skeleton message carried by message_start.
type MessageStart struct {
	ID           string        `json:"id"`
	Type         string        `json:"type"`
	Role         string        `json:"role"`
	Content      []OutputBlock `json:"content"`
	Model        string        `json:"model"`
	StopReason   *string       `json:"stop_reason"`
	StopSequence *string       `json:"stop_sequence"`
	Usage        Usage         `json:"usage"`
}

func (MessageStartEvent) EventType() string { return EventMessageStart }

// NewMessageStart builds a message_start event with empty content.
func NewMessageStart(id, model string, usage Usage) MessageStartEvent {
	return MessageStartEvent{
		Type: EventMessageStart,
		Message: MessageStart{
			ID:      id,
			Type:    "message",
			Role:    "assistant",
			Content: []OutputBlock{},
			Model:   model,
			Usage:   usage,
		},
	}
}

// ContentBlockStartEvent opens a content block at an index.
type ContentBlockStartEvent struct {
	Type         string            `json:"type"`
	Index        int               `json:"index"`
	ContentBlock ContentBlockStart `json:"content_block"`
}

func (ContentBlockStartEvent) EventType() string { return EventContentBlockStart }

// ContentBlockStart is the union of block shapes a stream can open.
type ContentBlockStart struct {
	Type string

	// tool_use
	ID   string
	Name string
}

func (c ContentBlockStart) MarshalJSON() ([]byte, error) {
	switch c.Type {
	case BlockTypeText:
		return json.Marshal(struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}{c.Type, ""})
	case BlockTypeThinking:
		return json.Marshal(struct {
			Type     string `json:"type"`
			Thinking string `json:"thinking"`
		}{c.Type, ""})
	case BlockTypeToolUse:
		return json.Marshal(struct {
			Type  string          `json:"type"`
			ID    string          `json:"id"`
			Name  string          `json:"name"`
			Input json.RawMessage `json:"input"`
		}{c.Type, c.ID, c.Name, json.RawMessage("{}")})
	default:
		return nil, fmt.Errorf("unknown content block start type %q", c.Type)
	}
}

// ContentBlockDeltaEvent carries an increment for an open block.
type ContentBlockDeltaEvent struct {
	Type  string       `json:"type"`
	Index int          `json:"index"`
	Delta ContentDelta `json:"delta"`
}

func (ContentBlockDeltaEvent) EventType() string { return EventContentBlockDelta }

// Delta type discriminators.
const (
	DeltaTypeText      = "text_delta"
	DeltaTypeInputJSON = "input_json_delta"
	DeltaTypeThinking  = "thinking_delta"
)

// ContentDelta is the union of block increments.
type ContentDelta struct {
	Type string

	Text        string // text_delta
	PartialJSON string // input_json_delta
	Thinking    string // thinking_delta
}

func (d ContentDelta) MarshalJSON() ([]byte, error) {
	switch d.Type {
	case DeltaTypeText:
		return json.Marshal(struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}{d.Type, d.Text})
	case DeltaTypeInputJSON:
		return json.Marshal(struct {
			Type        string `json:"type"`
			PartialJSON string `json:"partial_json"`
		}{d.Type, d.PartialJSON})
	case DeltaTypeThinking:
		return json.Marshal(struct {
			Type     string `json:"type"`
			Thinking string `json:"thinking"`
		}{d.Type, d.Thinking})
	default:
		return nil, fmt.Errorf("unknown content delta type %q", d.Type)
	}
}

// ContentBlockStopEvent closes the block at an index.
type ContentBlockStopEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

func (ContentBlockStopEvent) EventType() string { return EventContentBlockStop }

// MessageDeltaEvent carries the final stop reason and usage.
type MessageDeltaEvent struct {
	Type  string       `json:"type"`
	Delta MessageDelta `json:"delta"`
	Usage *Usage       `json:"usage,omitempty"`
}

// MessageDelta is the body of a message_delta event.
type MessageDelta struct {
	StopReason   string  `json:"stop_reason,omitempty"`
	StopSequence *string `json:"stop_sequence,omitempty"`
}

func (MessageDeltaEvent) EventType() string { return EventMessageDelta }

// MessageStopEvent terminates the stream.
type MessageStopEvent struct {
	Type string `json:"type"`
}

func (MessageStopEvent) EventType() string { return EventMessageStop }

// ErrorEvent surfaces a mid-stream failure; the connection closes after it.
type ErrorEvent struct {
	Type  string      `json:"type"`
	Error ErrorDetail `json:"error"`
}

// ErrorDetail is the error body of an error event.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (ErrorEvent) EventType() string { return EventError }
