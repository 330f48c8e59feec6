package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Export formats understood by History.Export.
const (
	FormatText     = "text"
	FormatMarkdown = "markdown"
	FormatYAML     = "yaml"
	FormatJSONL    = "jsonl"
)

// HistoryEntry records one committed transition.
type HistoryEntry struct {
	Prompt      string    `json:"prompt" yaml:"prompt"`
	Result      string    `json:"result" yaml:"result"`
	Score       int       `json:"score" yaml:"score"`
	Manual      bool      `json:"manual" yaml:"manual"`
	CommittedAt time.Time `json:"committed_at" yaml:"committed_at"`
}

// ScoreLabel renders the score, or "manual" for a hand-picked entry.
func (e HistoryEntry) ScoreLabel() string {
	if e.Manual {
		return "manual"
	}
	return strconv.Itoa(e.Score)
}

// History is the append-only record of a session. Entries are never mutated
// after they are appended.
type History struct {
	mu       sync.RWMutex
	original string
	entries  []HistoryEntry
}

// NewHistory starts a history for the original prompt.
func NewHistory(original string) *History {
	return &History{original: original}
}

// RestoreHistory rebuilds a history from persisted entries.
func RestoreHistory(original string, entries []HistoryEntry) *History {
	return &History{original: original, entries: append([]HistoryEntry(nil), entries...)}
}

// Original returns the prompt the session started from.
func (h *History) Original() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.original
}

// Commit appends result, chaining it from the previous result (or the original
// prompt for the first entry).
func (h *History) Commit(result string, score int, at time.Time) HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()

	prompt := h.original
	if n := len(h.entries); n > 0 {
		prompt = h.entries[n-1].Result
	}
	entry := HistoryEntry{
		Prompt:      prompt,
		Result:      result,
		Score:       score,
		Manual:      score == ManualScore,
		CommittedAt: at,
	}
	h.entries = append(h.entries, entry)
	return entry
}

// Entries returns a copy of all entries.
func (h *History) Entries() []HistoryEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]HistoryEntry(nil), h.entries...)
}

// Len returns the number of entries.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// Current returns the working prompt: the last result, or the original prompt.
func (h *History) Current() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if n := len(h.entries); n > 0 {
		return h.entries[n-1].Result
	}
	return h.original
}

// Export renders the history in format.
func (h *History) Export(format string) (string, error) {
	return ExportEntries(h.Original(), h.Entries(), format)
}

// ExportEntries renders entries in format.
func ExportEntries(original string, entries []HistoryEntry, format string) (string, error) {
	switch strings.ToLower(format) {
	case "", FormatText:
		return exportText(entries), nil
	case FormatMarkdown, "md":
		return exportMarkdown(original, entries), nil
	case FormatYAML, "yml":
		data, err := yaml.Marshal(struct {
			Original string         `yaml:"original"`
			Entries  []HistoryEntry `yaml:"entries"`
		}{original, entries})
		if err != nil {
			return "", fmt.Errorf("encode yaml history: %w", err)
		}
		return string(data), nil
	case FormatJSONL:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		for _, entry := range entries {
			if err := enc.Encode(entry); err != nil {
				return "", fmt.Errorf("encode jsonl history: %w", err)
			}
		}
		return buf.String(), nil
	default:
		return "", fmt.Errorf("unknown export format %q", format)
	}
}

func exportText(entries []HistoryEntry) string {
	var sb strings.Builder
	sb.WriteString("Session History:\n\n")
	for i, entry := range entries {
		fmt.Fprintf(&sb, "Step %d:\n", i+1)
		fmt.Fprintf(&sb, "Prompt: %s\n", entry.Prompt)
		fmt.Fprintf(&sb, "Completion: %s\n", entry.Result)
		fmt.Fprintf(&sb, "Score: %s\n\n", entry.ScoreLabel())
	}
	return sb.String()
}

func exportMarkdown(original string, entries []HistoryEntry) string {
	var sb strings.Builder
	sb.WriteString("# Session History\n\n")
	sb.WriteString("## Original Prompt\n\n")
	sb.WriteString(quote(original))
	for i, entry := range entries {
		fmt.Fprintf(&sb, "## Completion %d (score: %s)\n\n", i+1, entry.ScoreLabel())
		sb.WriteString(quote(entry.Result))
	}
	return sb.String()
}

func quote(text string) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	for i, line := range lines {
		lines[i] = "> " + line
	}
	return strings.Join(lines, "\n") + "\n\n"
}

// Overview renders the show-completion view: the original prompt followed by
// each committed completion and its score.
func (h *History) Overview() string {
	entries := h.Entries()
	if len(entries) == 0 {
		return h.Original()
	}
	var sb strings.Builder
	sb.WriteString("Original Prompt:\n")
	sb.WriteString(h.Original())
	sb.WriteString("\n\n")
	for i, entry := range entries {
		fmt.Fprintf(&sb, "Completion %d (score: %s):\n%s\n\n", i+1, entry.ScoreLabel(), entry.Result)
	}
	return sb.String()
}
