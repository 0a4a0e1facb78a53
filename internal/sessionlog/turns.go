package sessionlog

// Segment is the part of a turn that ends with an assistant text output.
type Segment struct {
	// Activity holds the non-text records since the previous segment.
	Activity   []*Record
	TextOutput *Record
}

// Turn is one user input plus the agent's full response to it.
type Turn struct {
	// UserInput is nil only for records that precede the first user input.
	UserInput *Record
	Segments  []Segment
	// Trailing holds activity after the last text output.
	Trailing []*Record
	// UUIDs lists every record consumed into this turn, in log order.
	UUIDs        []string
	PlanFilePath string
}

// GroupTurns partitions the conversational records into turns. Each genuine
// user input opens a turn; within a turn every assistant text output closes
// a segment.
func GroupTurns(records []*Record) []Turn {
	var (
		turns   []Turn
		current *Turn
		pending []*Record
	)

	flush := func() {
		if current == nil {
			return
		}
		current.Trailing = pending
		pending = nil
		turns = append(turns, *current)
		current = nil
	}

	for _, rec := range Filter(records) {
		if IsUserTextTurnStarter(rec) {
			flush()
			current = &Turn{UserInput: rec}
			current.addUUID(rec)
			current.notePlan(rec)
			continue
		}

		if current == nil {
			current = &Turn{}
		}
		current.addUUID(rec)
		current.notePlan(rec)

		if IsAssistantText(rec) {
			current.Segments = append(current.Segments, Segment{
				Activity:   pending,
				TextOutput: rec,
			})
			pending = nil
			continue
		}
		pending = append(pending, rec)
	}
	flush()

	return turns
}

func (t *Turn) addUUID(rec *Record) {
	if rec.UUID != "" {
		t.UUIDs = append(t.UUIDs, rec.UUID)
	}
}

func (t *Turn) notePlan(rec *Record) {
	if path := PlanFilePath(rec); path != "" {
		t.PlanFilePath = path
	}
}

// HasUnseen reports whether any record of the turn is missing from seen.
func (t *Turn) HasUnseen(seen map[string]struct{}) bool {
	for _, id := range t.UUIDs {
		if _, ok := seen[id]; !ok {
			return true
		}
	}
	return false
}

// UnseenTurns returns the turns that contain at least one unseen record.
// Such a turn is returned whole, including records seen elsewhere, so it can
// be redisplayed coherently.
func UnseenTurns(turns []Turn, seen map[string]struct{}) []Turn {
	var out []Turn
	for i := range turns {
		if turns[i].HasUnseen(seen) {
			out = append(out, turns[i])
		}
	}
	return out
}

// Records returns every record of the turn in log order.
func (t *Turn) Records() []*Record {
	var out []*Record
	if t.UserInput != nil {
		out = append(out, t.UserInput)
	}
	for _, seg := range t.Segments {
		out = append(out, seg.Activity...)
		out = append(out, seg.TextOutput)
	}
	out = append(out, t.Trailing...)
	return out
}
