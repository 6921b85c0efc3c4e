// Package rename translates backend model identifiers into client-facing
// identifiers and back.
//
// Forward (ToClient) is pattern-based and applied to each id when the model
// list is fetched. It handles two shapes of claude ids:
//
//	version-first: claude-3.5-sonnet -> claude-sonnet-3-5 (reorder + dot->dash)
//	variant-first: claude-sonnet-4.5 -> claude-sonnet-4-5 (dot->dash only)
//
// Reverse (ToBackend) strips a trailing date token first, then consults the
// override table and a learned map built from the actual model list. Override
// entries take priority in both directions.
package rename

import (
	"regexp"
	"strings"
	"sync"
)

// dateSuffix matches a trailing -YYYYMMDD release date on a model id.
var dateSuffix = regexp.MustCompile(`-\d{8}$`)

// Mapper is a bidirectional model name mapper. Safe for concurrent use.
type Mapper struct {
	autoEnabled     bool
	overrides       map[string]string // backend -> client
	overrideReverse map[string]string // client -> backend

	mu             sync.RWMutex
	learnedReverse map[string]string // client -> backend, built from the model list
}

// New creates a Mapper. Overrides map backend ids to client ids and take
// priority over the pattern rules; auto controls whether the pattern rules
// apply at all.
func New(auto bool, overrides map[string]string) *Mapper {
	reverse := make(map[string]string, len(overrides))
	for backend, client := range overrides {
		reverse[client] = backend
	}
	return &Mapper{
		autoEnabled:     auto,
		overrides:       overrides,
		overrideReverse: reverse,
		learnedReverse:  make(map[string]string),
	}
}

// ToClient maps a backend model id to its client-facing name. Ids that match
// neither an override nor a pattern rule pass through unchanged.
func (m *Mapper) ToClient(backendID string) string {
	if client, ok := m.overrides[backendID]; ok {
		return client
	}
	if m.autoEnabled {
		if renamed, ok := autoRename(backendID); ok {
			return renamed
		}
	}
	return backendID
}

// Register records a concrete backend<->client pair learned from the model
// list, so ToBackend can recover the exact backend id later.
func (m *Mapper) Register(backendID, clientID string) {
	if backendID == clientID {
		return
	}
	m.mu.Lock()
	m.learnedReverse[clientID] = backendID
	m.mu.Unlock()
}

// ToBackend maps a client-facing name back to a backend model id. A trailing
// date token is stripped before matching, so dated variants collapse to their
// base family name. Priority: override -> learned -> stripped passthrough.
func (m *Mapper) ToBackend(clientID string) string {
	stripped := StripDateSuffix(clientID)

	if backend, ok := m.overrideReverse[clientID]; ok {
		return backend
	}
	if backend, ok := m.overrideReverse[stripped]; ok {
		return backend
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if backend, ok := m.learnedReverse[clientID]; ok {
		return backend
	}
	if backend, ok := m.learnedReverse[stripped]; ok {
		return backend
	}
	return stripped
}

// HasRules reports whether any mapping could apply.
func (m *Mapper) HasRules() bool {
	return m.autoEnabled || len(m.overrides) > 0
}

// StripDateSuffix removes a trailing -YYYYMMDD token from a model id:
// claude-sonnet-4-20250115 -> claude-sonnet-4.
func StripDateSuffix(id string) string {
	return dateSuffix.ReplaceAllString(id, "")
}

// autoRename applies the pattern rules for claude ids. The second return is
// false when no transformation is needed.
func autoRename(name string) (string, bool) {
	rest, ok := strings.CutPrefix(name, "claude-")
	if !ok || rest == "" {
		return "", false
	}
	segments := strings.Split(rest, "-")

	if startsWithDigit(segments[0]) {
		// Version-first: claude-{version segments}-{variant segments}.
		// Version segments start with a digit, variant segments don't.
		versionEnd := 0
		for versionEnd < len(segments) && startsWithDigit(segments[versionEnd]) {
			versionEnd++
		}
		if versionEnd == len(segments) {
			// Everything looks like a version, no variant to reorder.
			return "", false
		}
		version := replaceVersionDots(strings.Join(segments[:versionEnd], "-"))
		variant := strings.Join(segments[versionEnd:], "-")
		return "claude-" + variant + "-" + version, true
	}

	// Variant-first: just normalize dots in the whole thing.
	normalized := replaceVersionDots(rest)
	if normalized == rest {
		return "", false
	}
	return "claude-" + normalized, true
}

func startsWithDigit(s string) bool {
	return s != "" && s[0] >= '0' && s[0] <= '9'
}

// replaceVersionDots replaces dots between digits with dashes: 4.6 -> 4-6,
// 3.5.1 -> 3-5-1. Other dots are left alone.
func replaceVersionDots(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '.' && i > 0 && isDigit(s[i-1]) && i+1 < len(s) && isDigit(s[i+1]) {
			b.WriteByte('-')
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
