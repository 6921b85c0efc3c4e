package translate

import (
	"github.com/tjfontaine/copilot-bridge/internal/api/anthropic"
	"github.com/tjfontaine/copilot-bridge/internal/api/copilot"
)

type blockKind int

const (
	blockNone blockKind = iota
	blockText
	blockThinking
	blockTool
)

// toolCallState accumulates a streamed tool call for one backend slot.
type toolCallState struct {
	id         string
	name       string
	blockIndex int
}

// StreamState is the per-connection translation state machine. It is created
// at stream start, mutated only by Chunk and Drain in event-arrival order,
// and never shared across connections.
type StreamState struct {
	messageStartSent bool
	messageStopSent  bool

	open  blockKind
	index int

	tools  map[int]*toolCallState
	parser *thinkingParser
	usage  *copilot.Usage
}

// NewStreamState creates stream state. With emulateThinking set, streamed text
// is scanned for <thinking> spans and re-emitted as thinking blocks.
func NewStreamState(emulateThinking bool) *StreamState {
	s := &StreamState{tools: make(map[int]*toolCallState)}
	if emulateThinking {
		s.parser = &thinkingParser{}
	}
	return s
}

// Chunk translates one backend chunk into zero or more client events.
func Chunk(chunk *copilot.ChatCompletionChunk, s *StreamState) []anthropic.StreamEvent {
	if chunk.Usage != nil {
		s.usage = chunk.Usage
	}
	if len(chunk.Choices) == 0 || s.messageStopSent {
		return nil
	}

	var events []anthropic.StreamEvent
	choice := chunk.Choices[0]

	if !s.messageStartSent {
		events = append(events, anthropic.NewMessageStart(chunk.ID, chunk.Model, inputUsage(s.usage)))
		s.messageStartSent = true
	}

	if choice.Delta.Content != nil {
		if s.parser != nil {
			for _, ev := range s.parser.push(*choice.Delta.Content) {
				events = s.applyThinkingEvent(events, ev)
			}
		} else {
			events = s.appendText(events, *choice.Delta.Content)
		}
	}

	for _, tc := range choice.Delta.ToolCalls {
		// A fragment carrying id and name opens a fresh tool-use block.
		if tc.ID != "" && tc.Function != nil && tc.Function.Name != "" {
			events = s.closeOpenBlock(events)
			s.tools[tc.Index] = &toolCallState{id: tc.ID, name: tc.Function.Name, blockIndex: s.index}
			events = append(events, anthropic.ContentBlockStartEvent{
				Type:  anthropic.EventContentBlockStart,
				Index: s.index,
				ContentBlock: anthropic.ContentBlockStart{
					Type: anthropic.BlockTypeToolUse,
					ID:   tc.ID,
					Name: tc.Function.Name,
				},
			})
			s.open = blockTool
		}

		if tc.Function != nil && tc.Function.Arguments != "" {
			if acc, ok := s.tools[tc.Index]; ok {
				events = append(events, anthropic.ContentBlockDeltaEvent{
					Type:  anthropic.EventContentBlockDelta,
					Index: acc.blockIndex,
					Delta: anthropic.ContentDelta{Type: anthropic.DeltaTypeInputJSON, PartialJSON: tc.Function.Arguments},
				})
			}
		}
	}

	if choice.FinishReason != nil && *choice.FinishReason != "" {
		events = s.finish(events, MapStopReason(*choice.FinishReason))
	}

	return events
}

// Drain completes a stream that ended without a finish-reason chunk: it
// flushes the thinking parser, closes any open block, and terminates the
// message. It returns nil when the stream already terminated normally.
func (s *StreamState) Drain() []anthropic.StreamEvent {
	if !s.messageStartSent || s.messageStopSent {
		return nil
	}
	return s.finish(nil, anthropic.StopReasonEndTurn)
}

func (s *StreamState) finish(events []anthropic.StreamEvent, stopReason string) []anthropic.StreamEvent {
	if s.parser != nil {
		if ev, ok := s.parser.finish(); ok {
			events = s.applyThinkingEvent(events, ev)
		}
	}
	events = s.closeOpenBlock(events)

	outputTokens := 0
	if s.usage != nil {
		outputTokens = s.usage.CompletionTokens
	}
	usage := inputUsage(s.usage)
	usage.OutputTokens = outputTokens

	events = append(events, anthropic.MessageDeltaEvent{
		Type:  anthropic.EventMessageDelta,
		Delta: anthropic.MessageDelta{StopReason: stopReason},
		Usage: &usage,
	})
	events = append(events, anthropic.MessageStopEvent{Type: anthropic.EventMessageStop})
	s.messageStopSent = true
	return events
}

func (s *StreamState) applyThinkingEvent(events []anthropic.StreamEvent, ev thinkingEvent) []anthropic.StreamEvent {
	switch ev.kind {
	case textDelta:
		return s.appendText(events, ev.text)
	case thinkingStart:
		events = s.closeOpenBlock(events)
		return s.openThinking(events)
	case thinkingDelta:
		if s.open != blockThinking {
			events = s.closeOpenBlock(events)
			events = s.openThinking(events)
		}
		return append(events, anthropic.ContentBlockDeltaEvent{
			Type:  anthropic.EventContentBlockDelta,
			Index: s.index,
			Delta: anthropic.ContentDelta{Type: anthropic.DeltaTypeThinking, Thinking: ev.text},
		})
	case thinkingEnd:
		if s.open == blockThinking {
			events = s.closeOpenBlock(events)
		}
		return events
	}
	return events
}

func (s *StreamState) appendText(events []anthropic.StreamEvent, text string) []anthropic.StreamEvent {
	if s.open != blockNone && s.open != blockText {
		events = s.closeOpenBlock(events)
	}
	if s.open == blockNone {
		events = append(events, anthropic.ContentBlockStartEvent{
			Type:         anthropic.EventContentBlockStart,
			Index:        s.index,
			ContentBlock: anthropic.ContentBlockStart{Type: anthropic.BlockTypeText},
		})
		s.open = blockText
	}
	return append(events, anthropic.ContentBlockDeltaEvent{
		Type:  anthropic.EventContentBlockDelta,
		Index: s.index,
		Delta: anthropic.ContentDelta{Type: anthropic.DeltaTypeText, Text: text},
	})
}

func (s *StreamState) openThinking(events []anthropic.StreamEvent) []anthropic.StreamEvent {
	events = append(events, anthropic.ContentBlockStartEvent{
		Type:         anthropic.EventContentBlockStart,
		Index:        s.index,
		ContentBlock: anthropic.ContentBlockStart{Type: anthropic.BlockTypeThinking},
	})
	s.open = blockThinking
	return events
}

// closeOpenBlock closes the current block and advances the index so it is
// never reused.
func (s *StreamState) closeOpenBlock(events []anthropic.StreamEvent) []anthropic.StreamEvent {
	if s.open == blockNone {
		return events
	}
	events = append(events, anthropic.ContentBlockStopEvent{
		Type:  anthropic.EventContentBlockStop,
		Index: s.index,
	})
	s.index++
	s.open = blockNone
	return events
}

func inputUsage(u *copilot.Usage) anthropic.Usage {
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
	out := anthropic.Usage{InputTokens: input}
	if cached > 0 {
		out.CacheReadInputTokens = &cached
	}
	return out
}
