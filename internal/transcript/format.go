// Package transcript turns raw conversation history into a readable
// transcript, classifies how the conversation went and derives analytics.
package transcript

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chamada/pkg/logger"
)

// NoConversation is returned as the transcript text when no turn had
// usable content.
const NoConversation = "No conversation found."

// Unavailable is delivered in place of a transcript when history could not
// be read at all.
const Unavailable = "Transcript unavailable."

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleOther     = "other"
)

var labels = map[string]string{
	RoleUser:      "User",
	RoleAssistant: "Agent",
	RoleSystem:    "System",
	RoleOther:     "Participant",
}

// Turn is a typed history entry. Format also accepts map[string]any with the
// same "role"/"content" keys.
type Turn struct {
	Role    string
	Content any
}

// Line is one rendered transcript line.
type Line struct {
	Role string
	Text string
}

// Result is the output of Format.
type Result struct {
	Text    string
	Lines   []Line
	Skipped int
}

var (
	errNoContent  = errors.New("turn has no content")
	errBadContent = errors.New("unsupported content type")
	errNotTurn    = errors.New("unsupported turn type")
)

// Format renders history one line per usable turn. It never fails: a turn
// that cannot be read is logged and skipped.
func Format(ctx context.Context, history []any) Result {
	log := logger.From(ctx)

	var res Result
	for i, item := range history {
		line, ok, err := renderTurn(item)
		if err != nil {
			res.Skipped++
			log.Warn("transcript turn skipped", "index", i, "err", err)
			continue
		}
		if !ok {
			continue
		}
		res.Lines = append(res.Lines, line)
	}

	if len(res.Lines) == 0 {
		res.Text = NoConversation
		return res
	}

	var b strings.Builder
	for i, l := range res.Lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(labels[l.Role])
		b.WriteString(": ")
		b.WriteString(l.Text)
	}
	res.Text = b.String()
	return res
}

// renderTurn returns ok=false for turns that are valid but carry nothing to
// show (whitespace, non-message items).
func renderTurn(item any) (line Line, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			ok = false
		}
	}()

	var role string
	var content any
	switch t := item.(type) {
	case Turn:
		role, content = t.Role, t.Content
	case *Turn:
		if t == nil {
			return Line{}, false, errNotTurn
		}
		role, content = t.Role, t.Content
	case map[string]any:
		if typ, has := t["type"]; has && typ != "message" {
			return Line{}, false, nil
		}
		role, _ = t["role"].(string)
		content = t["content"]
	default:
		return Line{}, false, fmt.Errorf("%w: %T", errNotTurn, item)
	}

	text, err := extractText(content)
	if err != nil {
		return Line{}, false, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Line{}, false, nil
	}
	return Line{Role: normalizeRole(role), Text: text}, true, nil
}

func extractText(content any) (string, error) {
	switch c := content.(type) {
	case nil:
		return "", errNoContent
	case string:
		return c, nil
	case []string:
		return strings.Join(c, " "), nil
	case []any:
		parts := make([]string, 0, len(c))
		for _, frag := range c {
			switch f := frag.(type) {
			case string:
				parts = append(parts, f)
			case map[string]any:
				if f["type"] != "text" {
					continue
				}
				if s, ok := f["text"].(string); ok {
					parts = append(parts, s)
				}
			}
		}
		return strings.Join(parts, " "), nil
	default:
		return "", fmt.Errorf("%w: %T", errBadContent, content)
	}
}

func normalizeRole(r string) string {
	switch strings.ToLower(strings.TrimSpace(r)) {
	case "user", "human", "customer":
		return RoleUser
	case "assistant", "agent", "ai":
		return RoleAssistant
	case "system", "developer":
		return RoleSystem
	default:
		return RoleOther
	}
}
