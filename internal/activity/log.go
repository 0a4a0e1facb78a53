package activity

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/tether/internal/sessionlog"
)

const (
	outputPreviewLines = 3
	outputPreviewLimit = 200
)

// View is an entry joined with its tool result, if one has arrived.
type View struct {
	Entry
	Result *ToolResult `json:"result,omitempty"`
}

// Log is the ordered activity of one conversation query. It is safe for
// concurrent use: a stream consumer appends while renderers read.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
	results map[string]ToolResult
}

func NewLog() *Log {
	return &Log{results: make(map[string]ToolResult)}
}

// Append stores entries and returns the index of the last one, or -1 when
// nothing was appended.
func (l *Log) Append(entries ...Entry) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, entries...)
	return len(l.entries) - 1
}

// Replace swaps the entry at i. Out-of-range indexes are ignored.
func (l *Log) Replace(i int, e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if i < 0 || i >= len(l.entries) {
		return
	}
	l.entries[i] = e
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Entries returns a snapshot of the stored entries.
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// AttachResult records the result of a tool call. The first result for an
// id wins; later ones are ignored and false is returned.
func (l *Log) AttachResult(toolUseID string, r ToolResult) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.results[toolUseID]; ok {
		return false
	}
	l.results[toolUseID] = r
	return true
}

func (l *Log) Result(toolUseID string) (ToolResult, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	r, ok := l.results[toolUseID]
	return r, ok
}

// ApplyRecord appends the entries of an assistant record and joins any
// tool_result blocks onto their tool calls. A result whose tool_complete
// entry does not exist yet gets one, named after the matching tool_start.
func (l *Log) ApplyRecord(rec *sessionlog.Record) {
	if rec == nil {
		return
	}

	entries := FromRecord(rec)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, entries...)

	for _, b := range rec.Content {
		if b.Type != sessionlog.BlockToolResult || b.ToolUseID == "" {
			continue
		}
		l.joinResultLocked(rec, b)
	}
}

func (l *Log) joinResultLocked(rec *sessionlog.Record, b sessionlog.Block) {
	if _, done := l.results[b.ToolUseID]; done {
		return
	}

	start, complete := -1, -1
	for i := range l.entries {
		if l.entries[i].toolUseID() != b.ToolUseID {
			continue
		}
		switch l.entries[i].Kind {
		case KindToolStart:
			start = i
		case KindToolComplete:
			complete = i
		default:
		}
	}

	origin := complete
	if origin < 0 {
		origin = start
	}
	if origin < 0 {
		log.Debug().Str("tool_use_id", b.ToolUseID).Msg("activity.Log: result for unknown tool call")
		return
	}
	tool := *l.entries[origin].Tool
	startedAt := l.entries[origin].Timestamp
	if start >= 0 {
		startedAt = l.entries[start].Timestamp
	}

	if complete < 0 {
		l.entries = append(l.entries, Entry{
			Kind:      KindToolComplete,
			Timestamp: rec.Timestamp,
			Tool:      &tool,
		})
	}

	result := computeResult(&tool, b, rec.ToolUseResult)
	if !startedAt.IsZero() && rec.Timestamp.After(startedAt) {
		result.Duration = rec.Timestamp.Sub(startedAt)
	}
	l.results[b.ToolUseID] = result
}

// Live returns the entries for live display. A tool_start is hidden once a
// tool_complete for the same call exists; calls without an id are paired
// by name.
func (l *Log) Live() []View {
	l.mu.RLock()
	defer l.mu.RUnlock()

	completedIDs := make(map[string]struct{})
	completedNames := make(map[string]int)
	for i := range l.entries {
		e := &l.entries[i]
		if e.Kind != KindToolComplete || e.Tool == nil {
			continue
		}
		if id := e.toolUseID(); id != "" {
			completedIDs[id] = struct{}{}
		} else {
			completedNames[e.Tool.Name]++
		}
	}

	views := make([]View, 0, len(l.entries))
	for i := range l.entries {
		e := &l.entries[i]
		if e.Kind == KindToolStart && e.Tool != nil {
			if id := e.toolUseID(); id != "" {
				if _, ok := completedIDs[id]; ok {
					continue
				}
			} else if completedNames[e.Tool.Name] > 0 {
				completedNames[e.Tool.Name]--
				continue
			}
		}
		views = append(views, l.viewLocked(e))
	}
	return views
}

// History returns every entry with results joined.
func (l *Log) History() []View {
	l.mu.RLock()
	defer l.mu.RUnlock()

	views := make([]View, 0, len(l.entries))
	for i := range l.entries {
		views = append(views, l.viewLocked(&l.entries[i]))
	}
	return views
}

func (l *Log) viewLocked(e *Entry) View {
	v := View{Entry: *e}
	if e.Kind != KindToolComplete {
		return v
	}
	if r, ok := l.results[e.toolUseID()]; ok {
		v.Result = &r
	}
	return v
}

func computeResult(tool *Tool, b sessionlog.Block, side *sessionlog.ToolUseResult) ToolResult {
	r := ToolResult{IsError: b.IsError}
	if b.IsError {
		r.OutputPreview = outputPreview(resultText(b, side))
		return r
	}

	switch tool.Name {
	case "Read":
		r.LineCount = readLineCount(b, side)
	case "Grep", "Glob":
		r.MatchCount = matchCount(b, side)
	case "Edit", "MultiEdit", "Write":
		r.LinesAdded, r.LinesRemoved = diffCounts(tool.Name, tool.Input)
	default:
		r.OutputPreview = outputPreview(resultText(b, side))
	}
	return r
}

func resultText(b sessionlog.Block, side *sessionlog.ToolUseResult) string {
	if b.Content != "" || side == nil {
		return b.Content
	}
	if side.Stdout != "" {
		return side.Stdout
	}
	if side.Stderr != "" {
		return side.Stderr
	}
	return side.Text
}

func readLineCount(b sessionlog.Block, side *sessionlog.ToolUseResult) int {
	if side != nil {
		if side.File != nil && side.File.NumLines > 0 {
			return side.File.NumLines
		}
		if side.NumLines > 0 {
			return side.NumLines
		}
	}
	return countLines(b.Content)
}

func matchCount(b sessionlog.Block, side *sessionlog.ToolUseResult) int {
	if side != nil {
		switch {
		case side.NumFiles > 0:
			return side.NumFiles
		case len(side.Filenames) > 0:
			return len(side.Filenames)
		case side.NumLines > 0:
			return side.NumLines
		}
	}

	content := strings.TrimSpace(b.Content)
	if content == "" || strings.HasPrefix(content, "No files found") || strings.HasPrefix(content, "No matches found") {
		return 0
	}

	n := 0
	for line := range strings.SplitSeq(content, "\n") {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n
}

type editInput struct {
	OldString string `json:"old_string"`
	NewString string `json:"new_string"`
	Content   string `json:"content"`
	Edits     []struct {
		OldString string `json:"old_string"`
		NewString string `json:"new_string"`
	} `json:"edits"`
}

func diffCounts(name string, input json.RawMessage) (added, removed int) {
	var in editInput
	if len(input) == 0 || json.Unmarshal(input, &in) != nil {
		return 0, 0
	}

	switch name {
	case "Write":
		return countLines(in.Content), 0
	case "MultiEdit":
		for _, e := range in.Edits {
			added += countLines(e.NewString)
			removed += countLines(e.OldString)
		}
		return added, removed
	default:
		return countLines(in.NewString), countLines(in.OldString)
	}
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}

func outputPreview(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	lines := strings.SplitN(s, "\n", outputPreviewLines+1)
	preview := strings.Join(lines[:min(len(lines), outputPreviewLines)], "\n")
	if len(lines) > outputPreviewLines {
		preview += "\n" + ellipsis
	}
	return Preview(preview, outputPreviewLimit)
}
