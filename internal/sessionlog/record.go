package sessionlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// RecordKind is the top-level "type" discriminator of a session log line.
type RecordKind string

const (
	KindUser      RecordKind = "user"
	KindAssistant RecordKind = "assistant"
)

// BlockType is the "type" discriminator of a content block.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockThinking   BlockType = "thinking"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ErrEmptyLine is returned by ParseRecord for blank input.
var ErrEmptyLine = errors.New("sessionlog: empty line") //nolint:gochecknoglobals // sentinel error

// Block is one typed element of a record's message content.
type Block struct {
	Type     BlockType       `json:"type"`
	Text     string          `json:"text,omitempty"`
	Thinking string          `json:"thinking,omitempty"`
	ID       string          `json:"id,omitempty"`
	Name     string          `json:"name,omitempty"`
	Input    json.RawMessage `json:"input,omitempty"`

	// ToolUseID links a tool_result block to the tool_use it answers.
	ToolUseID string `json:"tool_use_id,omitempty"`
	// Content is the flattened tool_result payload.
	Content string `json:"content,omitempty"`
	IsError bool   `json:"is_error,omitempty"`
}

// ToolUseResult is the out-of-band side-channel payload some tools attach
// to the user record that carries their result.
type ToolUseResult struct {
	Type      string      `json:"type,omitempty"`
	FilePath  string      `json:"filePath,omitempty"`
	Content   string      `json:"content,omitempty"`
	File      *ResultFile `json:"file,omitempty"`
	NumFiles  int         `json:"numFiles,omitempty"`
	NumLines  int         `json:"numLines,omitempty"`
	Filenames []string    `json:"filenames,omitempty"`
	Stdout    string      `json:"stdout,omitempty"`
	Stderr    string      `json:"stderr,omitempty"`

	// Text holds the payload when the log stored a bare string.
	Text string `json:"-"`
}

// ResultFile is the nested file description used by Read results.
type ResultFile struct {
	FilePath string `json:"filePath"`
	Content  string `json:"content"`
	NumLines int    `json:"numLines,omitempty"`
}

// Record is one parsed line of a session log.
type Record struct {
	Kind             RecordKind
	UUID             string
	ParentUUID       string
	Timestamp        time.Time
	SessionID        string
	IsMeta           bool
	IsCompactSummary bool
	Content          []Block
	ToolUseResult    *ToolUseResult
}

type rawRecord struct {
	Type             RecordKind      `json:"type"`
	UUID             string          `json:"uuid"`
	ParentUUID       string          `json:"parentUuid"`
	Timestamp        string          `json:"timestamp"`
	SessionID        string          `json:"sessionId"`
	IsMeta           bool            `json:"isMeta"`
	IsCompactSummary bool            `json:"isCompactSummary"`
	Message          *rawMessage     `json:"message"`
	ToolUseResult    json.RawMessage `json:"toolUseResult"`
}

type rawMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type rawBlock struct {
	Type      BlockType       `json:"type"`
	Text      string          `json:"text"`
	Thinking  string          `json:"thinking"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
	IsError   bool            `json:"is_error"`
}

// ParseRecord decodes a single log line. Content given as a plain string is
// normalized to one text block.
func ParseRecord(line []byte) (*Record, error) {
	if len(strings.TrimSpace(string(line))) == 0 {
		return nil, ErrEmptyLine
	}

	var raw rawRecord
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, fmt.Errorf("sessionlog.ParseRecord: %w", err)
	}

	rec := &Record{
		Kind:             raw.Type,
		UUID:             raw.UUID,
		ParentUUID:       raw.ParentUUID,
		SessionID:        raw.SessionID,
		IsMeta:           raw.IsMeta,
		IsCompactSummary: raw.IsCompactSummary,
	}

	if raw.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339Nano, raw.Timestamp); err == nil {
			rec.Timestamp = ts
		}
	}

	if raw.Message != nil {
		blocks, err := parseContent(raw.Message.Content)
		if err != nil {
			return nil, fmt.Errorf("sessionlog.ParseRecord: content: %w", err)
		}
		rec.Content = blocks
	}

	rec.ToolUseResult = parseToolUseResult(raw.ToolUseResult)

	return rec, nil
}

func parseContent(data json.RawMessage) ([]Block, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}

	if data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return nil, err
		}
		if text == "" {
			return nil, nil
		}
		return []Block{{Type: BlockText, Text: text}}, nil
	}

	var raws []rawBlock
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, err
	}

	blocks := make([]Block, 0, len(raws))
	for _, rb := range raws {
		blocks = append(blocks, Block{
			Type:      rb.Type,
			Text:      rb.Text,
			Thinking:  rb.Thinking,
			ID:        rb.ID,
			Name:      rb.Name,
			Input:     rb.Input,
			ToolUseID: rb.ToolUseID,
			Content:   flattenResultContent(rb.Content),
			IsError:   rb.IsError,
		})
	}

	return blocks, nil
}

// flattenResultContent accepts a tool_result content that is either a string
// or an array of {"type":"text","text":...} parts.
func flattenResultContent(data json.RawMessage) string {
	if len(data) == 0 {
		return ""
	}

	var s string
	if json.Unmarshal(data, &s) == nil {
		return s
	}

	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if json.Unmarshal(data, &parts) != nil {
		return ""
	}

	texts := make([]string, 0, len(parts))
	for _, p := range parts {
		if p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

func parseToolUseResult(data json.RawMessage) *ToolUseResult {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}

	var s string
	if json.Unmarshal(data, &s) == nil {
		return &ToolUseResult{Text: s}
	}

	var r ToolUseResult
	if json.Unmarshal(data, &r) != nil {
		return nil
	}
	return &r
}

// HasBlock reports whether the record contains a block of the given type.
func (r *Record) HasBlock(t BlockType) bool {
	for _, b := range r.Content {
		if b.Type == t {
			return true
		}
	}
	return false
}

// Text concatenates the record's non-empty text blocks.
func (r *Record) Text() string {
	var parts []string
	for _, b := range r.Content {
		if b.Type == BlockText && strings.TrimSpace(b.Text) != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ToolUses returns the tool_use blocks of the record in order.
func (r *Record) ToolUses() []Block {
	var uses []Block
	for _, b := range r.Content {
		if b.Type == BlockToolUse {
			uses = append(uses, b)
		}
	}
	return uses
}
