package activity

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gosuda/tether/internal/sessionlog"
)

var ErrEmptyEvent = errors.New("activity: empty event line") //nolint:gochecknoglobals // sentinel error

// Event is one line of the agent's stream-json output. The concrete types
// below are the only implementations.
type Event interface {
	event()
}

// InitEvent is the system/init line emitted once per process.
type InitEvent struct {
	SessionID      string
	Model          string
	CWD            string
	PermissionMode string
}

// BlockStartEvent opens a content block of the message being generated.
type BlockStartEvent struct {
	Index     int
	BlockType sessionlog.BlockType
	ToolUseID string
	ToolName  string
}

// DeltaType discriminates incremental block payloads.
type DeltaType string

const (
	DeltaText      DeltaType = "text_delta"
	DeltaThinking  DeltaType = "thinking_delta"
	DeltaInputJSON DeltaType = "input_json_delta"
)

type BlockDeltaEvent struct {
	Index int
	Type  DeltaType
	// Text holds the text, thinking or partial JSON fragment.
	Text string
}

type BlockStopEvent struct {
	Index int
}

// MessageEvent carries a complete assistant or user message.
type MessageEvent struct {
	Record *sessionlog.Record
}

type Usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
}

// ResultEvent is the final line of a query.
type ResultEvent struct {
	Subtype    string  `json:"subtype"`
	IsError    bool    `json:"is_error"`
	Result     string  `json:"result"`
	SessionID  string  `json:"session_id"`
	DurationMS int64   `json:"duration_ms"`
	NumTurns   int     `json:"num_turns"`
	CostUSD    float64 `json:"total_cost_usd"`
	Usage      Usage   `json:"usage"`
}

// ControlRequestEvent asks the host to decide on a tool call.
type ControlRequestEvent struct {
	RequestID string
	Subtype   string
	ToolName  string
	ToolUseID string
	Input     json.RawMessage
}

// IgnoredEvent is any line without a display meaning, such as
// message_start pings or hook notifications.
type IgnoredEvent struct {
	Type string
}

func (InitEvent) event()           {}
func (BlockStartEvent) event()     {}
func (BlockDeltaEvent) event()     {}
func (BlockStopEvent) event()      {}
func (MessageEvent) event()        {}
func (ResultEvent) event()         {}
func (ControlRequestEvent) event() {}
func (IgnoredEvent) event()        {}

type rawEvent struct {
	Type           string          `json:"type"`
	Subtype        string          `json:"subtype"`
	SessionID      string          `json:"session_id"`
	Model          string          `json:"model"`
	CWD            string          `json:"cwd"`
	PermissionMode string          `json:"permissionMode"`
	Event          *rawStreamEvent `json:"event"`
	RequestID      string          `json:"request_id"`
	Request        *rawControl     `json:"request"`
}

type rawStreamEvent struct {
	Type         string `json:"type"`
	Index        int    `json:"index"`
	ContentBlock *struct {
		Type sessionlog.BlockType `json:"type"`
		ID   string               `json:"id"`
		Name string               `json:"name"`
	} `json:"content_block"`
	Delta *struct {
		Type        DeltaType `json:"type"`
		Text        string    `json:"text"`
		Thinking    string    `json:"thinking"`
		PartialJSON string    `json:"partial_json"`
	} `json:"delta"`
}

type rawControl struct {
	Subtype   string          `json:"subtype"`
	ToolName  string          `json:"tool_name"`
	ToolUseID string          `json:"tool_use_id"`
	Input     json.RawMessage `json:"input"`
}

// ParseEvent decodes one stream-json line.
func ParseEvent(line []byte) (Event, error) {
	if len(line) == 0 {
		return nil, ErrEmptyEvent
	}

	var raw rawEvent
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, fmt.Errorf("activity.ParseEvent: %w", err)
	}

	switch raw.Type {
	case "system":
		if raw.Subtype != "init" {
			return IgnoredEvent{Type: "system/" + raw.Subtype}, nil
		}
		return InitEvent{
			SessionID:      raw.SessionID,
			Model:          raw.Model,
			CWD:            raw.CWD,
			PermissionMode: raw.PermissionMode,
		}, nil

	case "stream_event":
		return parseStreamEvent(raw.Event), nil

	case "assistant", "user":
		rec, err := sessionlog.ParseRecord(line)
		if err != nil {
			return nil, fmt.Errorf("activity.ParseEvent: %s message: %w", raw.Type, err)
		}
		return MessageEvent{Record: rec}, nil

	case "result":
		var res ResultEvent
		if err := json.Unmarshal(line, &res); err != nil {
			return nil, fmt.Errorf("activity.ParseEvent: result: %w", err)
		}
		return res, nil

	case "control_request":
		if raw.Request == nil {
			return nil, fmt.Errorf("activity.ParseEvent: control_request %q without request", raw.RequestID)
		}
		return ControlRequestEvent{
			RequestID: raw.RequestID,
			Subtype:   raw.Request.Subtype,
			ToolName:  raw.Request.ToolName,
			ToolUseID: raw.Request.ToolUseID,
			Input:     raw.Request.Input,
		}, nil

	default:
		return IgnoredEvent{Type: raw.Type}, nil
	}
}

func parseStreamEvent(ev *rawStreamEvent) Event {
	if ev == nil {
		return IgnoredEvent{Type: "stream_event"}
	}

	switch ev.Type {
	case "content_block_start":
		if ev.ContentBlock == nil {
			return IgnoredEvent{Type: ev.Type}
		}
		return BlockStartEvent{
			Index:     ev.Index,
			BlockType: ev.ContentBlock.Type,
			ToolUseID: ev.ContentBlock.ID,
			ToolName:  ev.ContentBlock.Name,
		}
	case "content_block_delta":
		if ev.Delta == nil {
			return IgnoredEvent{Type: ev.Type}
		}
		d := BlockDeltaEvent{Index: ev.Index, Type: ev.Delta.Type}
		switch ev.Delta.Type {
		case DeltaText:
			d.Text = ev.Delta.Text
		case DeltaThinking:
			d.Text = ev.Delta.Thinking
		case DeltaInputJSON:
			d.Text = ev.Delta.PartialJSON
		default:
			return IgnoredEvent{Type: string(ev.Delta.Type)}
		}
		return d
	case "content_block_stop":
		return BlockStopEvent{Index: ev.Index}
	default:
		return IgnoredEvent{Type: ev.Type}
	}
}
