package turn

import (
	"strings"

	"github.com/bdobrica/Towa/internal/towa/dialog"
)

// AnswerParser extracts field values from a free-text reply to a
// clarification prompt. It is pluggable so a smarter extractor can replace
// the deterministic default without touching the turn flow.
type AnswerParser interface {
	Parse(missing []dialog.MissingField, reply string) map[string]string
}

// KeyValueParser is the default parser. It understands "key=value" and
// "key: value" pairs; when exactly one field is missing, a reply with no
// recognizable pair is taken whole as that field's value.
type KeyValueParser struct{}

// Parse implements AnswerParser.
func (KeyValueParser) Parse(missing []dialog.MissingField, reply string) map[string]string {
	known := make(map[string]bool, len(missing))
	for _, m := range missing {
		known[m.Name] = true
	}

	answers := make(map[string]string)
	for _, tok := range strings.Fields(reply) {
		key, value, ok := splitPair(tok)
		if ok && known[key] {
			answers[key] = value
		}
	}
	if len(answers) > 0 {
		return answers
	}

	// "key: value" with a space after the colon.
	for _, m := range missing {
		for _, marker := range []string{m.Name + ":", m.Name + "="} {
			idx := strings.Index(reply, marker)
			if idx < 0 {
				continue
			}
			rest := strings.TrimSpace(reply[idx+len(marker):])
			if fields := strings.Fields(rest); len(fields) > 0 {
				answers[m.Name] = fields[0]
			}
		}
	}
	if len(answers) > 0 {
		return answers
	}

	if len(missing) == 1 {
		if v := strings.TrimSpace(reply); v != "" {
			answers[missing[0].Name] = v
		}
	}
	return answers
}

func splitPair(tok string) (key, value string, ok bool) {
	for _, sep := range []string{"=", ":"} {
		if k, v, found := strings.Cut(tok, sep); found && k != "" && v != "" {
			return k, v, true
		}
	}
	return "", "", false
}
