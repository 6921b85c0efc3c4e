package translate

import (
	"testing"

	"github.com/tjfontaine/copilot-bridge/internal/api/anthropic"
)

func TestParseThinkingNoTags(t *testing.T) {
	blocks := ParseThinking("Just a regular response.")
	if len(blocks) != 1 {
		t.Fatalf("got %d blocks, want 1", len(blocks))
	}
	if blocks[0].Type != anthropic.BlockTypeText || blocks[0].Text != "Just a regular response." {
		t.Errorf("blocks[0] = %+v", blocks[0])
	}
}

func TestParseThinkingSingleBlock(t *testing.T) {
	blocks := ParseThinking("<thinking>Let me think...</thinking>The answer is 42.")
	if len(blocks) != 2 {
		t.Fatalf("got %d blocks, want 2", len(blocks))
	}
	if blocks[0].Type != anthropic.BlockTypeThinking || blocks[0].Thinking != "Let me think..." {
		t.Errorf("blocks[0] = %+v", blocks[0])
	}
	if blocks[1].Type != anthropic.BlockTypeText || blocks[1].Text != "The answer is 42." {
		t.Errorf("blocks[1] = %+v", blocks[1])
	}
}

func TestParseThinkingTextBeforeAndAfter(t *testing.T) {
	blocks := ParseThinking("Before<thinking>thinking</thinking>After")
	if len(blocks) != 3 {
		t.Fatalf("got %d blocks, want 3", len(blocks))
	}
	if blocks[0].Text != "Before" || blocks[1].Thinking != "thinking" || blocks[2].Text != "After" {
		t.Errorf("blocks = %+v", blocks)
	}
}

func TestParseThinkingMultipleBlocks(t *testing.T) {
	blocks := ParseThinking("<thinking>First</thinking>Middle<thinking>Second</thinking>End")
	if len(blocks) != 4 {
		t.Fatalf("got %d blocks, want 4", len(blocks))
	}
	want := []struct{ typ, content string }{
		{anthropic.BlockTypeThinking, "First"},
		{anthropic.BlockTypeText, "Middle"},
		{anthropic.BlockTypeThinking, "Second"},
		{anthropic.BlockTypeText, "End"},
	}
	for i, w := range want {
		if blocks[i].Type != w.typ {
			t.Errorf("blocks[%d].Type = %q, want %q", i, blocks[i].Type, w.typ)
		}
	}
}

func TestParseThinkingUnclosedTag(t *testing.T) {
	text := "<thinking>This is never closed"
	blocks := ParseThinking(text)
	if len(blocks) != 1 {
		t.Fatalf("got %d blocks, want 1", len(blocks))
	}
	if blocks[0].Type != anthropic.BlockTypeText || blocks[0].Text != text {
		t.Errorf("blocks[0] = %+v", blocks[0])
	}
}

func TestParseThinkingWhitespaceBetweenBlocks(t *testing.T) {
	blocks := ParseThinking("<thinking>Think</thinking>   \n\t  <thinking>More</thinking>")
	// Whitespace-only text between spans is dropped.
	if len(blocks) != 2 {
		t.Fatalf("got %d blocks, want 2", len(blocks))
	}
	if blocks[0].Thinking != "Think" || blocks[1].Thinking != "More" {
		t.Errorf("blocks = %+v", blocks)
	}
}

func TestStreamParserSimpleText(t *testing.T) {
	var p thinkingParser

	// Shorter than the tag-length reserve, so nothing is released yet.
	if events := p.push("Hello "); len(events) != 0 {
		t.Fatalf("got %d events, want 0", len(events))
	}

	events := p.push("world")
	if len(events) != 1 || events[0].kind != textDelta || events[0].text != "H" {
		t.Fatalf("events = %+v", events)
	}

	final, ok := p.finish()
	if !ok || final.kind != textDelta || final.text != "ello world" {
		t.Fatalf("finish = %+v, ok=%v", final, ok)
	}
}

func TestStreamParserThinkingBlock(t *testing.T) {
	var p thinkingParser

	events := p.push("<thinking>Let me ")
	if len(events) != 1 || events[0].kind != thinkingStart {
		t.Fatalf("events = %+v", events)
	}

	events = p.push("think...</thinking>Answer")
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].kind != thinkingDelta || events[0].text != "Let me think..." {
		t.Errorf("events[0] = %+v", events[0])
	}
	if events[1].kind != thinkingEnd {
		t.Errorf("events[1] = %+v", events[1])
	}

	final, ok := p.finish()
	if !ok || final.kind != textDelta || final.text != "Answer" {
		t.Fatalf("finish = %+v, ok=%v", final, ok)
	}
}

func TestStreamParserTagSplitAcrossChunks(t *testing.T) {
	var p thinkingParser

	if events := p.push("Text <thin"); len(events) != 0 {
		t.Fatalf("got %d events, want 0", len(events))
	}

	events := p.push("king>inside</thinking>after")
	if len(events) != 4 {
		t.Fatalf("got %d events, want 4: %+v", len(events), events)
	}
	if events[0].kind != textDelta || events[0].text != "Text " {
		t.Errorf("events[0] = %+v", events[0])
	}
	if events[1].kind != thinkingStart {
		t.Errorf("events[1] = %+v", events[1])
	}
	if events[2].kind != thinkingDelta || events[2].text != "inside" {
		t.Errorf("events[2] = %+v", events[2])
	}
	if events[3].kind != thinkingEnd {
		t.Errorf("events[3] = %+v", events[3])
	}

	final, ok := p.finish()
	if !ok || final.kind != textDelta || final.text != "after" {
		t.Fatalf("finish = %+v, ok=%v", final, ok)
	}
}

func TestStreamParserMultipleBlocksInOnePush(t *testing.T) {
	var p thinkingParser

	events := p.push("<thinking>A</thinking>B<thinking>C</thinking>D")
	want := []thinkingEvent{
		{kind: thinkingStart},
		{kind: thinkingDelta, text: "A"},
		{kind: thinkingEnd},
		{kind: textDelta, text: "B"},
		{kind: thinkingStart},
		{kind: thinkingDelta, text: "C"},
		{kind: thinkingEnd},
	}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d: %+v", len(events), len(want), events)
	}
	for i, w := range want {
		if events[i] != w {
			t.Errorf("events[%d] = %+v, want %+v", i, events[i], w)
		}
	}

	final, ok := p.finish()
	if !ok || final.kind != textDelta || final.text != "D" {
		t.Fatalf("finish = %+v, ok=%v", final, ok)
	}
}

func TestStreamParserIncrementalThinkingDeltas(t *testing.T) {
	var p thinkingParser

	events := p.push("<thinking>First ")
	if len(events) != 1 || events[0].kind != thinkingStart {
		t.Fatalf("events = %+v", events)
	}

	events = p.push("second ")
	if len(events) != 1 || events[0].kind != thinkingDelta || events[0].text != "Fi" {
		t.Fatalf("events = %+v", events)
	}

	events = p.push("third</thinking>")
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2: %+v", len(events), events)
	}
	if events[0].kind != thinkingDelta || events[0].text != "rst second third" {
		t.Errorf("events[0] = %+v", events[0])
	}
	if events[1].kind != thinkingEnd {
		t.Errorf("events[1] = %+v", events[1])
	}
}
