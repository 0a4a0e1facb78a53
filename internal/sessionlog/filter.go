package sessionlog

import (
	"encoding/json"
	"strings"
)

// planDirMarker is the directory the CLI writes plan documents into.
const planDirMarker = "/.claude/plans/"

// Keep reports whether a record is conversational: a user or assistant
// record with non-empty content. Progress pings, queue operations, summaries
// and other control records are dropped.
func Keep(rec *Record) bool {
	if rec == nil {
		return false
	}
	if rec.Kind != KindUser && rec.Kind != KindAssistant {
		return false
	}
	return len(rec.Content) > 0
}

// Filter returns the conversational records of records, in order.
func Filter(records []*Record) []*Record {
	kept := make([]*Record, 0, len(records))
	for _, rec := range records {
		if Keep(rec) {
			kept = append(kept, rec)
		}
	}
	return kept
}

// IsUserTextTurnStarter reports whether rec is genuine user input. A user
// record that only echoes a tool result back to the agent is not.
func IsUserTextTurnStarter(rec *Record) bool {
	if !Keep(rec) || rec.Kind != KindUser {
		return false
	}
	if rec.IsMeta || rec.IsCompactSummary {
		return false
	}
	for _, b := range rec.Content {
		if b.Type == BlockText && strings.TrimSpace(b.Text) != "" {
			return true
		}
	}
	return false
}

// IsAssistantText reports whether rec is an assistant record carrying
// non-empty text output.
func IsAssistantText(rec *Record) bool {
	if !Keep(rec) || rec.Kind != KindAssistant {
		return false
	}
	return rec.Text() != ""
}

// FindLastUserMessage returns the most recent genuine user input, or nil.
func FindLastUserMessage(records []*Record) *Record {
	for i := len(records) - 1; i >= 0; i-- {
		if IsUserTextTurnStarter(records[i]) {
			return records[i]
		}
	}
	return nil
}

// IsPlanFilePath reports whether path points at a plan document.
func IsPlanFilePath(path string) bool {
	return strings.Contains(path, planDirMarker) && strings.HasSuffix(path, ".md")
}

type planToolInput struct {
	FilePath string `json:"file_path"`
	Content  string `json:"content"`
	Plan     string `json:"plan"`
}

// PlanFilePath returns the plan document path referenced by the record's
// tool inputs or tool side-channel result, or "".
func PlanFilePath(rec *Record) string {
	path, _ := planReference(rec)
	return path
}

// planReference finds a plan path and, when available, the plan content.
func planReference(rec *Record) (path, content string) {
	if rec == nil {
		return "", ""
	}

	if r := rec.ToolUseResult; r != nil {
		if IsPlanFilePath(r.FilePath) {
			return r.FilePath, r.Content
		}
		if r.File != nil && IsPlanFilePath(r.File.FilePath) {
			return r.File.FilePath, r.File.Content
		}
	}

	for _, b := range rec.Content {
		if b.Type != BlockToolUse || len(b.Input) == 0 {
			continue
		}
		var in planToolInput
		if json.Unmarshal(b.Input, &in) != nil {
			continue
		}
		if IsPlanFilePath(in.FilePath) {
			return in.FilePath, in.Content
		}
	}

	return "", ""
}

// DisplayText is the text a chat view should show for the record. Tool
// calls touching a plan document show the plan itself; other tool-only
// records show a "[Tool: Name]" placeholder.
func DisplayText(rec *Record) string {
	if rec == nil {
		return ""
	}

	if _, content := planReference(rec); content != "" {
		return content
	}

	for _, b := range rec.Content {
		if b.Type == BlockToolUse && b.Name == "ExitPlanMode" {
			var in planToolInput
			if json.Unmarshal(b.Input, &in) == nil && in.Plan != "" {
				return in.Plan
			}
		}
	}

	if text := rec.Text(); text != "" {
		return text
	}

	uses := rec.ToolUses()
	if len(uses) == 0 {
		return ""
	}
	names := make([]string, 0, len(uses))
	for _, u := range uses {
		names = append(names, "[Tool: "+u.Name+"]")
	}
	return strings.Join(names, " ")
}
