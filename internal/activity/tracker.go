package activity

import (
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/tether/internal/sessionlog"
)

const defaultGeneratingLimit = 3000

// Tracker folds a live agent event stream into a Log. A Tracker is driven
// by a single goroutine; the Log it writes to may be read concurrently.
type Tracker struct {
	log             *Log
	sessionID       string
	thinkingLimit   int
	generatingLimit int
	now             func() time.Time

	open     map[int]*openBlock
	streamed bool
	result   *ResultEvent
}

type openBlock struct {
	entry     int
	blockType sessionlog.BlockType
	toolUseID string
	name      string
	startedAt time.Time
	buf       strings.Builder
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithClock overrides the time source used for entry timestamps.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

// WithThinkingLimit sets the rune ceiling of thinking previews.
func WithThinkingLimit(n int) TrackerOption {
	return func(t *Tracker) { t.thinkingLimit = n }
}

// WithGeneratingLimit sets the rune ceiling of the rolling text preview.
func WithGeneratingLimit(n int) TrackerOption {
	return func(t *Tracker) { t.generatingLimit = n }
}

// NewTracker returns a Tracker writing into l. sessionID is the session the
// conversation was on before this query, used to report session changes.
func NewTracker(l *Log, sessionID string, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		log:             l,
		sessionID:       sessionID,
		thinkingLimit:   ThinkingPreviewLimit,
		generatingLimit: defaultGeneratingLimit,
		now:             time.Now,
		open:            make(map[int]*openBlock),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Apply folds one event into the log.
func (t *Tracker) Apply(ev Event) {
	switch e := ev.(type) {
	case InitEvent:
		t.applyInit(e)
	case BlockStartEvent:
		t.startBlock(e)
	case BlockDeltaEvent:
		t.appendDelta(e)
	case BlockStopEvent:
		t.stopBlock(e)
	case MessageEvent:
		t.applyMessage(e)
	case ResultEvent:
		t.applyResult(e)
	case ControlRequestEvent, IgnoredEvent:
	}
}

func (t *Tracker) applyInit(e InitEvent) {
	now := t.now()
	if e.SessionID != "" && t.sessionID != "" && e.SessionID != t.sessionID {
		t.log.Append(SessionChanged(e.SessionID, now))
	}
	if e.SessionID != "" {
		t.sessionID = e.SessionID
	}
	t.log.Append(Starting(now))
}

func (t *Tracker) startBlock(e BlockStartEvent) {
	t.streamed = true

	b := &openBlock{
		entry:     -1,
		blockType: e.BlockType,
		toolUseID: e.ToolUseID,
		name:      e.ToolName,
		startedAt: t.now(),
	}
	t.open[e.Index] = b

	if e.BlockType == sessionlog.BlockToolUse && e.ToolName != "" {
		b.entry = t.log.Append(Entry{
			Kind:      KindToolStart,
			Timestamp: b.startedAt,
			Tool:      &Tool{ToolUseID: e.ToolUseID, Name: e.ToolName},
		})
	}
}

func (t *Tracker) appendDelta(e BlockDeltaEvent) {
	b, ok := t.open[e.Index]
	if !ok || e.Text == "" {
		return
	}
	b.buf.WriteString(e.Text)

	switch b.blockType {
	case sessionlog.BlockThinking:
		content := b.buf.String()
		t.upsert(b, Entry{
			Kind:      KindThinking,
			Timestamp: b.startedAt,
			Thinking: &Thinking{
				Content:    content,
				Preview:    Format(content, t.thinkingLimit, Tail, true),
				InProgress: true,
			},
		})
	case sessionlog.BlockText:
		content := b.buf.String()
		t.upsert(b, Entry{
			Kind:      KindGenerating,
			Timestamp: b.startedAt,
			Generating: &Generating{
				CharCount:  utf8.RuneCountInString(content),
				Content:    content,
				Preview:    Format(content, t.generatingLimit, Tail, true),
				InProgress: true,
			},
		})
	default:
	}
}

func (t *Tracker) stopBlock(e BlockStopEvent) {
	b, ok := t.open[e.Index]
	if !ok {
		return
	}
	delete(t.open, e.Index)
	content := b.buf.String()

	switch b.blockType {
	case sessionlog.BlockThinking:
		if b.entry < 0 {
			return
		}
		t.log.Replace(b.entry, Entry{
			Kind:      KindThinking,
			Timestamp: b.startedAt,
			Thinking: &Thinking{
				Content: content,
				Preview: Preview(content, t.thinkingLimit),
			},
		})
	case sessionlog.BlockText:
		if b.entry < 0 {
			return
		}
		t.log.Replace(b.entry, generatingEntry(content, b.startedAt))
	case sessionlog.BlockToolUse:
		if b.entry < 0 {
			return
		}
		// The call stays a tool_start until its result message arrives.
		t.log.Replace(b.entry, Entry{
			Kind:      KindToolStart,
			Timestamp: b.startedAt,
			Tool:      &Tool{ToolUseID: b.toolUseID, Name: b.name, Input: parseInput(content)},
		})
	default:
	}
}

func (t *Tracker) upsert(b *openBlock, e Entry) {
	if b.entry < 0 {
		b.entry = t.log.Append(e)
		return
	}
	t.log.Replace(b.entry, e)
}

func parseInput(s string) json.RawMessage {
	if s == "" || !json.Valid([]byte(s)) {
		return nil
	}
	return json.RawMessage(s)
}

func (t *Tracker) applyMessage(e MessageEvent) {
	rec := e.Record
	if rec == nil {
		return
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = t.now()
	}

	// Streamed assistant content is already in the log; the full message
	// only matters when partial messages are not being emitted.
	if rec.Kind == sessionlog.KindAssistant && t.streamed {
		return
	}
	t.log.ApplyRecord(rec)
}

func (t *Tracker) applyResult(e ResultEvent) {
	t.result = &e
	if e.SessionID != "" {
		t.sessionID = e.SessionID
	}
	if e.IsError {
		msg := e.Result
		if msg == "" {
			msg = e.Subtype
		}
		t.log.Append(Failed(msg, t.now()))
	}
}

// Fail records the end of the stream with err and classifies it. Only a
// genuine failure adds an error entry.
func (t *Tracker) Fail(err error) Termination {
	term := ClassifyTermination(t.LastCompletedTool(), err)
	switch term {
	case TerminationFailure:
		t.log.Append(Failed(err.Error(), t.now()))
	case TerminationPlanExit:
		log.Debug().Err(err).Str("session_id", t.sessionID).Msg("activity.Tracker: stream ended after plan exit")
	case TerminationNormal:
	}
	return term
}

// Abort records a user-initiated stop.
func (t *Tracker) Abort(msg string) {
	t.log.Append(Aborted(msg, t.now()))
}

// LastCompletedTool returns the tool name when the most recent entry is a
// tool_complete, or "".
func (t *Tracker) LastCompletedTool() string {
	entries := t.log.Entries()
	if len(entries) == 0 {
		return ""
	}
	last := entries[len(entries)-1]
	if last.Kind != KindToolComplete || last.Tool == nil {
		return ""
	}
	return last.Tool.Name
}

func (t *Tracker) SessionID() string { return t.sessionID }

// Result returns the final result event, or nil if none arrived.
func (t *Tracker) Result() *ResultEvent { return t.result }

func (t *Tracker) Log() *Log { return t.log }
