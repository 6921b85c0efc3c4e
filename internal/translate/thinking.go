package translate

import (
	"strings"

	"github.com/tjfontaine/copilot-bridge/internal/api/anthropic"
)

const (
	thinkingOpenTag  = "<thinking>"
	thinkingCloseTag = "</thinking>"
)

// ParseThinking splits assistant text into thinking and text blocks by
// extracting <thinking>...</thinking> spans. Text without any tags comes back
// as a single text block; an unclosed tag leaves the remainder as text.
func ParseThinking(text string) []anthropic.OutputBlock {
	var blocks []anthropic.OutputBlock
	remaining := text
	found := false

	for {
		start := strings.Index(remaining, thinkingOpenTag)
		if start < 0 {
			break
		}
		found = true

		if prefix := remaining[:start]; strings.TrimSpace(prefix) != "" {
			blocks = append(blocks, anthropic.OutputBlock{Type: anthropic.BlockTypeText, Text: prefix})
		}

		afterOpen := remaining[start+len(thinkingOpenTag):]
		end := strings.Index(afterOpen, thinkingCloseTag)
		if end < 0 {
			// Unclosed tag; keep everything from the tag onward as text.
			blocks = append(blocks, anthropic.OutputBlock{Type: anthropic.BlockTypeText, Text: remaining})
			remaining = ""
			break
		}

		blocks = append(blocks, anthropic.OutputBlock{Type: anthropic.BlockTypeThinking, Thinking: afterOpen[:end]})
		remaining = afterOpen[end+len(thinkingCloseTag):]
	}

	if remaining != "" {
		blocks = append(blocks, anthropic.OutputBlock{Type: anthropic.BlockTypeText, Text: remaining})
	}

	if !found {
		return []anthropic.OutputBlock{{Type: anthropic.BlockTypeText, Text: text}}
	}
	return blocks
}

// thinkingEventKind classifies an event from the streaming thinking parser.
type thinkingEventKind int

const (
	thinkingStart thinkingEventKind = iota
	thinkingDelta
	thinkingEnd
	textDelta
)

// thinkingEvent is one event produced by the streaming parser.
type thinkingEvent struct {
	kind thinkingEventKind
	text string
}

// thinkingParser incrementally extracts <thinking> spans from streamed text.
// It withholds a tag-length reserve from emission so a tag split across chunk
// boundaries is still recognized.
type thinkingParser struct {
	buffer     strings.Builder
	inThinking bool
}

func (p *thinkingParser) push(chunk string) []thinkingEvent {
	p.buffer.WriteString(chunk)
	var events []thinkingEvent

	for {
		buf := p.buffer.String()
		if p.inThinking {
			if end := strings.Index(buf, thinkingCloseTag); end >= 0 {
				if end > 0 {
					events = append(events, thinkingEvent{kind: thinkingDelta, text: buf[:end]})
				}
				events = append(events, thinkingEvent{kind: thinkingEnd})
				p.setBuffer(buf[end+len(thinkingCloseTag):])
				p.inThinking = false
				continue
			}
			if emitted := p.emitAllButReserve(buf, len(thinkingCloseTag)); emitted != "" {
				events = append(events, thinkingEvent{kind: thinkingDelta, text: emitted})
			}
			return events
		}

		if start := strings.Index(buf, thinkingOpenTag); start >= 0 {
			if start > 0 {
				events = append(events, thinkingEvent{kind: textDelta, text: buf[:start]})
			}
			events = append(events, thinkingEvent{kind: thinkingStart})
			p.setBuffer(buf[start+len(thinkingOpenTag):])
			p.inThinking = true
			continue
		}
		if emitted := p.emitAllButReserve(buf, len(thinkingOpenTag)); emitted != "" {
			events = append(events, thinkingEvent{kind: textDelta, text: emitted})
		}
		return events
	}
}

// finish drains whatever the reserve held back once the stream has ended.
func (p *thinkingParser) finish() (thinkingEvent, bool) {
	buf := p.buffer.String()
	if buf == "" {
		return thinkingEvent{}, false
	}
	p.buffer.Reset()
	if p.inThinking {
		return thinkingEvent{kind: thinkingDelta, text: buf}, true
	}
	return thinkingEvent{kind: textDelta, text: buf}, true
}

func (p *thinkingParser) emitAllButReserve(buf string, reserve int) string {
	if len(buf) <= reserve {
		return ""
	}
	emit := buf[:len(buf)-reserve]
	p.setBuffer(buf[len(buf)-reserve:])
	return emit
}

func (p *thinkingParser) setBuffer(s string) {
	p.buffer.Reset()
	p.buffer.WriteString(s)
}
