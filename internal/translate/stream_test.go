package translate

import (
	"testing"

	"github.com/tjfontaine/copilot-bridge/internal/api/anthropic"
	"github.com/tjfontaine/copilot-bridge/internal/api/copilot"
)

func chunkWith(choices ...copilot.ChunkChoice) *copilot.ChatCompletionChunk {
	return &copilot.ChatCompletionChunk{
		ID:      "c1",
		Object:  "chat.completion.chunk",
		Created: 1234567890,
		Model:   "gpt-4o",
		Choices: choices,
	}
}

func textChunk(content string) *copilot.ChatCompletionChunk {
	return chunkWith(copilot.ChunkChoice{Delta: copilot.ChunkDelta{Content: &content}})
}

func finishChunk(reason string) *copilot.ChatCompletionChunk {
	return chunkWith(copilot.ChunkChoice{FinishReason: &reason})
}

func eventTypes(events []anthropic.StreamEvent) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.EventType()
	}
	return out
}

func assertTypes(t *testing.T, events []anthropic.StreamEvent, want ...string) {
	t.Helper()
	got := eventTypes(events)
	if len(got) != len(want) {
		t.Fatalf("event types = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event types = %v, want %v", got, want)
		}
	}
}

func TestStreamFirstChunkEmitsMessageStartAndText(t *testing.T) {
	s := NewStreamState(false)
	events := Chunk(textChunk("Hello"), s)

	assertTypes(t, events, "message_start", "content_block_start", "content_block_delta")

	start := events[0].(anthropic.MessageStartEvent)
	if start.Message.ID != "c1" || start.Message.Model != "gpt-4o" {
		t.Errorf("message_start = %+v", start.Message)
	}
	delta := events[2].(anthropic.ContentBlockDeltaEvent)
	if delta.Index != 0 || delta.Delta.Text != "Hello" {
		t.Errorf("delta = %+v", delta)
	}
}

func TestStreamSubsequentTextReusesBlock(t *testing.T) {
	s := NewStreamState(false)
	Chunk(textChunk("Hello"), s)

	events := Chunk(textChunk(" world"), s)
	assertTypes(t, events, "content_block_delta")
}

func TestStreamFinishClosesAndStops(t *testing.T) {
	s := NewStreamState(false)
	Chunk(textChunk("Hi"), s)

	events := Chunk(finishChunk("stop"), s)
	assertTypes(t, events, "content_block_stop", "message_delta", "message_stop")

	md := events[1].(anthropic.MessageDeltaEvent)
	if md.Delta.StopReason != anthropic.StopReasonEndTurn {
		t.Errorf("stop_reason = %q, want end_turn", md.Delta.StopReason)
	}
}

func TestStreamFullTextScenario(t *testing.T) {
	// One text delta then a finish chunk is the canonical sequence.
	s := NewStreamState(false)

	var all []anthropic.StreamEvent
	all = append(all, Chunk(textChunk("Hello"), s)...)
	all = append(all, Chunk(finishChunk("stop"), s)...)

	assertTypes(t, all,
		"message_start",
		"content_block_start", "content_block_delta", "content_block_stop",
		"message_delta", "message_stop",
	)
}

func TestStreamToolCallCreatesBlock(t *testing.T) {
	s := NewStreamState(false)

	open := chunkWith(copilot.ChunkChoice{Delta: copilot.ChunkDelta{
		Role: "assistant",
		ToolCalls: []copilot.ToolCallChunk{{
			Index:    0,
			ID:       "call_1",
			Type:     "function",
			Function: &copilot.FunctionCallChunk{Name: "get_weather"},
		}},
	}})
	events := Chunk(open, s)
	assertTypes(t, events, "message_start", "content_block_start")

	bs := events[1].(anthropic.ContentBlockStartEvent)
	if bs.ContentBlock.Type != anthropic.BlockTypeToolUse || bs.ContentBlock.ID != "call_1" || bs.ContentBlock.Name != "get_weather" {
		t.Errorf("block start = %+v", bs.ContentBlock)
	}

	args := chunkWith(copilot.ChunkChoice{Delta: copilot.ChunkDelta{
		ToolCalls: []copilot.ToolCallChunk{{
			Index:    0,
			Function: &copilot.FunctionCallChunk{Arguments: `{"loc`},
		}},
	}})
	events = Chunk(args, s)
	assertTypes(t, events, "content_block_delta")

	d := events[0].(anthropic.ContentBlockDeltaEvent)
	if d.Delta.Type != anthropic.DeltaTypeInputJSON || d.Delta.PartialJSON != `{"loc` {
		t.Errorf("delta = %+v", d.Delta)
	}
}

func TestStreamTextAfterToolClosesToolBlock(t *testing.T) {
	s := NewStreamState(false)

	open := chunkWith(copilot.ChunkChoice{Delta: copilot.ChunkDelta{
		ToolCalls: []copilot.ToolCallChunk{{
			Index:    0,
			ID:       "call_1",
			Type:     "function",
			Function: &copilot.FunctionCallChunk{Name: "func"},
		}},
	}})
	Chunk(open, s)

	events := Chunk(textChunk("After tool"), s)
	assertTypes(t, events, "content_block_stop", "content_block_start", "content_block_delta")

	// The text block gets a fresh index.
	stop := events[0].(anthropic.ContentBlockStopEvent)
	start := events[1].(anthropic.ContentBlockStartEvent)
	if stop.Index != 0 || start.Index != 1 {
		t.Errorf("indices: stop=%d start=%d, want 0 and 1", stop.Index, start.Index)
	}
}

func TestStreamSecondToolCallGetsNewBlock(t *testing.T) {
	s := NewStreamState(false)

	first := chunkWith(copilot.ChunkChoice{Delta: copilot.ChunkDelta{
		ToolCalls: []copilot.ToolCallChunk{{
			Index: 0, ID: "call_1", Type: "function",
			Function: &copilot.FunctionCallChunk{Name: "a"},
		}},
	}})
	Chunk(first, s)

	second := chunkWith(copilot.ChunkChoice{Delta: copilot.ChunkDelta{
		ToolCalls: []copilot.ToolCallChunk{{
			Index: 1, ID: "call_2", Type: "function",
			Function: &copilot.FunctionCallChunk{Name: "b"},
		}},
	}})
	events := Chunk(second, s)
	assertTypes(t, events, "content_block_stop", "content_block_start")

	start := events[1].(anthropic.ContentBlockStartEvent)
	if start.Index != 1 || start.ContentBlock.ID != "call_2" {
		t.Errorf("block start = %+v at index %d", start.ContentBlock, start.Index)
	}
}

func TestStreamEmptyChoicesIgnored(t *testing.T) {
	s := NewStreamState(false)
	if events := Chunk(chunkWith(), s); events != nil {
		t.Errorf("events = %v, want none", events)
	}
}

func TestStreamUsageCarriedToMessageDelta(t *testing.T) {
	s := NewStreamState(false)
	Chunk(textChunk("Hi"), s)

	finish := finishChunk("stop")
	finish.Usage = &copilot.Usage{
		PromptTokens:        100,
		CompletionTokens:    7,
		PromptTokensDetails: &copilot.PromptTokensDetails{CachedTokens: 40},
	}
	events := Chunk(finish, s)

	md := events[1].(anthropic.MessageDeltaEvent)
	if md.Usage == nil {
		t.Fatal("message_delta has no usage")
	}
	if md.Usage.InputTokens != 60 || md.Usage.OutputTokens != 7 {
		t.Errorf("usage = %+v", md.Usage)
	}
	if md.Usage.CacheReadInputTokens == nil || *md.Usage.CacheReadInputTokens != 40 {
		t.Errorf("cache_read = %v, want 40", md.Usage.CacheReadInputTokens)
	}
}

func TestStreamThinkingEmulation(t *testing.T) {
	s := NewStreamState(true)

	var all []anthropic.StreamEvent
	all = append(all, Chunk(textChunk("<thinking>Let me think</thinking>The answer is 42."), s)...)
	all = append(all, Chunk(finishChunk("stop"), s)...)

	// The reserve buffer holds back a tag-length tail of the text until the
	// finish flushes it.
	assertTypes(t, all,
		"message_start",
		"content_block_start", "content_block_delta", "content_block_stop",
		"content_block_start", "content_block_delta", "content_block_delta", "content_block_stop",
		"message_delta", "message_stop",
	)

	thinkingStart := all[1].(anthropic.ContentBlockStartEvent)
	if thinkingStart.ContentBlock.Type != anthropic.BlockTypeThinking || thinkingStart.Index != 0 {
		t.Errorf("first block = %+v at %d", thinkingStart.ContentBlock, thinkingStart.Index)
	}
	thinking := all[2].(anthropic.ContentBlockDeltaEvent)
	if thinking.Delta.Type != anthropic.DeltaTypeThinking || thinking.Delta.Thinking != "Let me think" {
		t.Errorf("thinking delta = %+v", thinking.Delta)
	}

	textStart := all[4].(anthropic.ContentBlockStartEvent)
	if textStart.ContentBlock.Type != anthropic.BlockTypeText || textStart.Index != 1 {
		t.Errorf("text block = %+v at %d", textStart.ContentBlock, textStart.Index)
	}
	text := all[5].(anthropic.ContentBlockDeltaEvent).Delta.Text +
		all[6].(anthropic.ContentBlockDeltaEvent).Delta.Text
	if text != "The answer is 42." {
		t.Errorf("text = %q", text)
	}
}

func TestStreamInvariants(t *testing.T) {
	// Any well-formed chunk sequence must produce exactly one message_start
	// and message_stop, balanced non-overlapping block pairs, and strictly
	// increasing indices.
	sequences := map[string][]*copilot.ChatCompletionChunk{
		"text then finish": {textChunk("Hello"), textChunk(" world"), finishChunk("stop")},
		"tool then text": {
			chunkWith(copilot.ChunkChoice{Delta: copilot.ChunkDelta{
				ToolCalls: []copilot.ToolCallChunk{{
					Index: 0, ID: "call_1", Type: "function",
					Function: &copilot.FunctionCallChunk{Name: "f", Arguments: `{"a":1}`},
				}},
			}}),
			textChunk("done"),
			finishChunk("tool_calls"),
		},
		"finish only": {finishChunk("stop")},
	}

	for name, chunks := range sequences {
		t.Run(name, func(t *testing.T) {
			s := NewStreamState(false)
			var all []anthropic.StreamEvent
			for _, c := range chunks {
				all = append(all, Chunk(c, s)...)
			}

			starts, stops := 0, 0
			openIndex := -1
			lastOpened := -1
			for _, ev := range all {
				switch e := ev.(type) {
				case anthropic.MessageStartEvent:
					starts++
				case anthropic.MessageStopEvent:
					stops++
				case anthropic.ContentBlockStartEvent:
					if openIndex != -1 {
						t.Fatalf("block %d opened while %d still open", e.Index, openIndex)
					}
					if e.Index <= lastOpened {
						t.Fatalf("block index %d not increasing past %d", e.Index, lastOpened)
					}
					openIndex = e.Index
					lastOpened = e.Index
				case anthropic.ContentBlockStopEvent:
					if openIndex != e.Index {
						t.Fatalf("stop for block %d but open block is %d", e.Index, openIndex)
					}
					openIndex = -1
				}
			}
			if starts != 1 || stops != 1 {
				t.Errorf("message_start=%d message_stop=%d, want 1 and 1", starts, stops)
			}
			if openIndex != -1 {
				t.Errorf("block %d left open", openIndex)
			}
		})
	}
}

func TestStreamDrainTerminatesUnfinishedStream(t *testing.T) {
	s := NewStreamState(false)
	Chunk(textChunk("partial"), s)

	events := s.Drain()
	assertTypes(t, events, "content_block_stop", "message_delta", "message_stop")

	// A second drain is a no-op.
	if again := s.Drain(); again != nil {
		t.Errorf("second Drain() = %v, want nil", again)
	}
}

func TestStreamDrainBeforeStartIsNoop(t *testing.T) {
	s := NewStreamState(false)
	if events := s.Drain(); events != nil {
		t.Errorf("Drain() = %v, want nil", events)
	}
}

func TestStreamChunksAfterStopIgnored(t *testing.T) {
	s := NewStreamState(false)
	Chunk(textChunk("Hi"), s)
	Chunk(finishChunk("stop"), s)

	if events := Chunk(textChunk("late"), s); events != nil {
		t.Errorf("events after message_stop = %v, want none", events)
	}
}
