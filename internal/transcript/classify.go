package transcript

import (
	"strings"
	"unicode/utf8"

	"chamada/internal/calls"
)

// failureMarkers are phrases that only show up when the call broke down.
// Kept narrow so ordinary talk about "errors" is not misread.
var failureMarkers = []string{
	"an error occurred",
	"technical error",
	"technical difficulties",
	"ocorreu um erro",
	"erro técnico",
	"falha técnica",
	"problema técnico",
	"transcript unavailable",
}

// Classify derives the call outcome from rendered lines.
func Classify(r Result) calls.Outcome {
	for _, l := range r.Lines {
		text := strings.ToLower(l.Text)
		for _, m := range failureMarkers {
			if strings.Contains(text, m) {
				return calls.OutcomeError
			}
		}
	}
	if len(r.Lines) < 2 {
		return calls.OutcomeNoConversation
	}

	speakers := map[string]struct{}{}
	for _, l := range r.Lines {
		if l.Role == RoleSystem {
			continue
		}
		speakers[l.Role] = struct{}{}
	}
	if len(speakers) <= 1 {
		return calls.OutcomeOneSided
	}
	return calls.OutcomeCompleted
}

// Analytics are the per-call numbers sent along with the transcript.
type Analytics struct {
	MessageCounts map[string]int
	Turns         int
	AvgMessageLen float64
}

// Analyze counts messages per role, speaker turns (runs of consecutive lines
// by the same role) and the mean message length in characters.
func Analyze(r Result) Analytics {
	a := Analytics{MessageCounts: map[string]int{}}
	if len(r.Lines) == 0 {
		return a
	}

	total := 0
	prev := ""
	for _, l := range r.Lines {
		a.MessageCounts[l.Role]++
		total += utf8.RuneCountInString(l.Text)
		if l.Role != prev {
			a.Turns++
			prev = l.Role
		}
	}
	a.AvgMessageLen = float64(total) / float64(len(r.Lines))
	return a
}
