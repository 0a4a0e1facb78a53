package activity

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// RenderOptions bounds the size of a rendered live view.
type RenderOptions struct {
	// Window is the number of most recent entries shown. Zero shows all.
	Window        int
	ThinkingLimit int
}

func DefaultRenderOptions() RenderOptions {
	return RenderOptions{Window: 20, ThinkingLimit: ThinkingPreviewLimit}
}

// Render formats views as Slack mrkdwn, newest last.
func Render(views []View, opts RenderOptions) string {
	if len(views) == 0 {
		return "_Waiting for activity..._"
	}

	lines := make([]string, 0, len(views)+1)
	if opts.Window > 0 && len(views) > opts.Window {
		lines = append(lines, fmt.Sprintf("_... %d earlier entries_", len(views)-opts.Window))
		views = views[len(views)-opts.Window:]
	}

	for _, v := range views {
		if line := RenderEntry(v, opts); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// RenderEntry formats one view, or returns "" for views with nothing to show.
func RenderEntry(v View, opts RenderOptions) string {
	switch v.Kind {
	case KindStarting:
		return ":rocket: _Starting..._"
	case KindThinking:
		return renderThinking(v.Thinking, opts.ThinkingLimit)
	case KindToolStart:
		if v.Tool == nil {
			return ""
		}
		return fmt.Sprintf(":hammer_and_wrench: %s _running..._", toolLabel(v.Tool))
	case KindToolComplete:
		if v.Tool == nil {
			return ""
		}
		return renderToolComplete(v.Tool, v.Result)
	case KindGenerating:
		if v.Generating == nil || v.Generating.CharCount == 0 {
			return ""
		}
		if v.Generating.InProgress {
			return fmt.Sprintf(":pencil2: _Generating... (%d chars)_", v.Generating.CharCount)
		}
		return fmt.Sprintf(":pencil2: Response (%d chars)", v.Generating.CharCount)
	case KindError:
		return ":warning: *Error:* " + v.Message
	case KindAborted:
		if v.Message == "" {
			return ":octagonal_sign: Aborted"
		}
		return ":octagonal_sign: Aborted: " + v.Message
	case KindModeChanged:
		return fmt.Sprintf(":gear: Mode set to `%s`", v.Mode)
	case KindContextCleared:
		return ":broom: Context cleared"
	case KindSessionChanged:
		return fmt.Sprintf(":arrows_counterclockwise: Session `%s`", v.SessionID)
	default:
		return ""
	}
}

func renderThinking(th *Thinking, limit int) string {
	if th == nil || th.Content == "" {
		return ""
	}
	if th.InProgress {
		return ":thought_balloon: _Thinking..._\n" + quote(Format(th.Content, limit, Tail, true))
	}
	return ":thought_balloon: *Thinking*\n" + quote(Format(th.Content, limit, Head, false))
}

func renderToolComplete(tool *Tool, r *ToolResult) string {
	label := toolLabel(tool)
	if r == nil {
		return ":white_check_mark: " + label
	}

	icon := ":white_check_mark:"
	if r.IsError {
		icon = ":x:"
	}

	var details []string
	switch {
	case r.LineCount > 0:
		details = append(details, plural(r.LineCount, "line"))
	case r.MatchCount > 0:
		details = append(details, plural(r.MatchCount, "match"))
	case r.LinesAdded > 0 || r.LinesRemoved > 0:
		details = append(details, fmt.Sprintf("+%d -%d", r.LinesAdded, r.LinesRemoved))
	}
	if r.Duration > 0 {
		details = append(details, r.Duration.Round(100*time.Millisecond).String())
	}

	out := icon + " " + label
	if len(details) > 0 {
		out += " (" + strings.Join(details, ", ") + ")"
	}
	if r.OutputPreview != "" {
		out += "\n" + quote(r.OutputPreview)
	}
	return out
}

type toolSummaryInput struct {
	FilePath    string `json:"file_path"`
	Path        string `json:"path"`
	Command     string `json:"command"`
	Pattern     string `json:"pattern"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

const summaryLimit = 80

// toolLabel is the tool name plus its most telling argument.
func toolLabel(tool *Tool) string {
	label := "`" + tool.Name + "`"

	var in toolSummaryInput
	if len(tool.Input) == 0 || json.Unmarshal(tool.Input, &in) != nil {
		return label
	}

	var arg string
	switch {
	case in.FilePath != "":
		arg = filepath.Base(in.FilePath)
	case in.Command != "":
		arg = in.Command
	case in.Pattern != "":
		arg = in.Pattern
	case in.URL != "":
		arg = in.URL
	case in.Path != "":
		arg = in.Path
	case in.Description != "":
		arg = in.Description
	}
	if arg == "" {
		return label
	}
	arg = strings.ReplaceAll(Preview(arg, summaryLimit), "\n", " ")
	return label + " " + arg
}

func quote(s string) string {
	return "> " + strings.ReplaceAll(s, "\n", "\n> ")
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	if strings.HasSuffix(noun, "ch") {
		return fmt.Sprintf("%d %ses", n, noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
