package activity

// Mode selects which end of over-long content survives truncation.
type Mode int

const (
	// Head keeps the beginning. Used for completed content.
	Head Mode = iota
	// Tail keeps the most recent text. Used for rolling live views.
	Tail
)

const (
	ellipsis = "..."
	// TruncatedFooter is appended to finished content that was cut.
	TruncatedFooter = "\n_(truncated, full content attached)_"
)

func (m Mode) String() string {
	if m == Tail {
		return "tail"
	}
	return "head"
}

// Format truncates content to limit runes. Content that fits is returned
// unchanged in every mode. When inProgress is false and content was cut,
// TruncatedFooter is appended. A non-positive limit disables truncation.
func Format(content string, limit int, mode Mode, inProgress bool) string {
	out, cut := truncate(content, limit, mode)
	if cut && !inProgress {
		out += TruncatedFooter
	}
	return out
}

// Preview is head truncation without the footer.
func Preview(content string, limit int) string {
	out, _ := truncate(content, limit, Head)
	return out
}

// IsTruncated reports whether Format would cut content at limit.
func IsTruncated(content string, limit int) bool {
	_, cut := truncate(content, limit, Head)
	return cut
}

func truncate(content string, limit int, mode Mode) (string, bool) {
	if limit <= 0 || len(content) <= limit {
		return content, false
	}

	runes := []rune(content)
	if len(runes) <= limit {
		return content, false
	}

	if mode == Tail {
		return ellipsis + string(runes[len(runes)-limit:]), true
	}
	return string(runes[:limit]) + ellipsis, true
}
