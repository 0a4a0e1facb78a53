package activity

import (
	"encoding/json"
	"time"
	"unicode/utf8"

	"github.com/gosuda/tether/internal/sessionlog"
)

// Kind categorizes an activity entry.
type Kind string

const (
	KindStarting       Kind = "starting"
	KindThinking       Kind = "thinking"
	KindToolStart      Kind = "tool_start"
	KindToolComplete   Kind = "tool_complete"
	KindGenerating     Kind = "generating"
	KindError          Kind = "error"
	KindAborted        Kind = "aborted"
	KindModeChanged    Kind = "mode_changed"
	KindContextCleared Kind = "context_cleared"
	KindSessionChanged Kind = "session_changed"
)

// ThinkingPreviewLimit is the rune ceiling of a finished thinking preview.
const ThinkingPreviewLimit = 500

// Entry is one displayable unit of agent behavior. Exactly one payload
// field is set, chosen by Kind. Payloads are never mutated once the entry
// has been stored in a Log; updates replace them.
type Entry struct {
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`

	Thinking   *Thinking   `json:"thinking,omitempty"`
	Tool       *Tool       `json:"tool,omitempty"`
	Generating *Generating `json:"generating,omitempty"`

	// Message carries error and aborted text.
	Message   string `json:"message,omitempty"`
	Mode      string `json:"mode,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

type Thinking struct {
	Content    string `json:"content"`
	Preview    string `json:"preview"`
	InProgress bool   `json:"in_progress"`
}

type Tool struct {
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input,omitempty"`
}

type Generating struct {
	CharCount  int    `json:"char_count"`
	Content    string `json:"content"`
	Preview    string `json:"preview"`
	InProgress bool   `json:"in_progress"`
}

// ToolResult holds the metrics of a finished tool call. It is owned by the
// Log separately from entries and joined by tool-use id at read time.
type ToolResult struct {
	LineCount     int           `json:"line_count,omitempty"`
	MatchCount    int           `json:"match_count,omitempty"`
	LinesAdded    int           `json:"lines_added,omitempty"`
	LinesRemoved  int           `json:"lines_removed,omitempty"`
	OutputPreview string        `json:"output_preview,omitempty"`
	IsError       bool          `json:"is_error,omitempty"`
	Duration      time.Duration `json:"duration,omitempty"`
}

// FromRecord converts the blocks of an assistant record into entries, one
// per block in block order. Tool results, nameless tool calls and empty
// text are skipped.
func FromRecord(rec *sessionlog.Record) []Entry {
	if rec == nil || rec.Kind != sessionlog.KindAssistant {
		return nil
	}

	ts := rec.Timestamp
	var entries []Entry
	for _, b := range rec.Content {
		switch b.Type {
		case sessionlog.BlockThinking:
			entries = append(entries, thinkingEntry(b.Thinking, ts))
		case sessionlog.BlockToolUse:
			if b.Name == "" {
				continue
			}
			entries = append(entries, Entry{
				Kind:      KindToolStart,
				Timestamp: ts,
				Tool:      &Tool{ToolUseID: b.ID, Name: b.Name, Input: b.Input},
			})
		case sessionlog.BlockText:
			if b.Text == "" {
				continue
			}
			entries = append(entries, generatingEntry(b.Text, ts))
		case sessionlog.BlockToolResult:
		}
	}
	return entries
}

func thinkingEntry(content string, ts time.Time) Entry {
	return Entry{
		Kind:      KindThinking,
		Timestamp: ts,
		Thinking: &Thinking{
			Content: content,
			Preview: Preview(content, ThinkingPreviewLimit),
		},
	}
}

func generatingEntry(content string, ts time.Time) Entry {
	return Entry{
		Kind:      KindGenerating,
		Timestamp: ts,
		Generating: &Generating{
			CharCount: utf8.RuneCountInString(content),
			Content:   content,
			Preview:   content,
		},
	}
}

// Starting marks the beginning of a query.
func Starting(at time.Time) Entry {
	return Entry{Kind: KindStarting, Timestamp: at}
}

func Failed(msg string, at time.Time) Entry {
	return Entry{Kind: KindError, Timestamp: at, Message: msg}
}

func Aborted(msg string, at time.Time) Entry {
	return Entry{Kind: KindAborted, Timestamp: at, Message: msg}
}

func ModeChanged(mode string, at time.Time) Entry {
	return Entry{Kind: KindModeChanged, Timestamp: at, Mode: mode}
}

func ContextCleared(at time.Time) Entry {
	return Entry{Kind: KindContextCleared, Timestamp: at}
}

func SessionChanged(sessionID string, at time.Time) Entry {
	return Entry{Kind: KindSessionChanged, Timestamp: at, SessionID: sessionID}
}

// toolUseID returns the correlation id of a tool entry, or "".
func (e *Entry) toolUseID() string {
	if e.Tool == nil {
		return ""
	}
	return e.Tool.ToolUseID
}
