// Package intent maps free-form chat utterances onto automation operations.
//
// Classification is deterministic keyword and pattern matching — no LLM is
// involved in control decisions. The Resolver interface lets an LLM-backed
// classifier be swapped in later without touching the slot-filling core.
package intent

import (
	"strings"
	"unicode"
)

// Candidate is one (operation, partial-args) pair extracted from an utterance.
// Args carries whatever parameter values the resolver could pull out of the
// text; the slot validator decides whether they are enough to execute.
type Candidate struct {
	Operation string
	Args      map[string]string
}

// Resolver turns a raw utterance into zero or more operation candidates,
// ordered best-first. An empty slice means no recognisable intent.
type Resolver interface {
	Classify(utterance string) []Candidate
}

// actionVerbs signal that the user wants something done rather than making
// small talk. Matching any one of these is a precondition for classification.
var actionVerbs = []string{
	"launch", "run", "start", "kick off", "execute", "trigger",
	"list", "show", "get", "display", "what", "which",
	"cancel", "stop", "abort", "kill",
	"delete", "remove", "drop",
	"create", "add", "set up", "setup", "make", "new",
	"update", "sync", "refresh",
	"switch", "use", "select", "activate",
	"test", "check", "verify", "ping",
	"diagnose", "analyze", "analyse", "why", "debug",
	"output", "logs", "stdout", "events",
	"can you", "could you", "please", "i need", "i want", "i'd like",
}

// verbRule resolves an operation from a (verb-family, subject) combination.
// Verbs and subjects are matched against the lowercased utterance; the first
// rule whose verb and subject both appear wins, so order encodes priority.
type verbRule struct {
	verbs     []string
	subjects  []string
	operation string
}

var (
	launchVerbs = []string{"launch", "run", "start", "kick off", "execute", "trigger"}
	listVerbs   = []string{"list", "show", "display", "what", "which", "get"}
	cancelVerbs = []string{"cancel", "stop", "abort", "kill"}
	deleteVerbs = []string{"delete", "remove", "drop"}
	createVerbs = []string{"create", "add", "set up", "setup", "make", "new"}
	updateVerbs = []string{"update", "sync", "refresh"}
	switchVerbs = []string{"switch", "use", "select", "activate"}
	testVerbs   = []string{"test", "check", "verify", "ping"}
)

// rules is evaluated top to bottom. More specific subjects come first so
// that e.g. "show the output of job 7" matches jobs.stdout before jobs.get.
var rules = []verbRule{
	// Job diagnostics and output.
	{[]string{"diagnose", "analyze", "analyse", "debug", "why"}, []string{"job", "fail", "error", "wrong"}, "jobs.diagnose"},
	{[]string{"show", "get", "display", "what", "fetch", "see"}, []string{"output", "stdout", "log"}, "jobs.stdout"},
	{[]string{"show", "get", "display", "list"}, []string{"event"}, "jobs.events"},

	// Job lifecycle.
	{cancelVerbs, []string{"job"}, "jobs.cancel"},
	{deleteVerbs, []string{"job"}, "jobs.delete"},
	{listVerbs, []string{"jobs", "runs", "recent"}, "jobs.list"},
	{[]string{"status", "get", "show", "check", "what"}, []string{"job"}, "jobs.get"},
	{launchVerbs, []string{"template", "job", "playbook", "deploy"}, "jobs.launch"},

	// Templates.
	{deleteVerbs, []string{"template"}, "templates.delete"},
	{createVerbs, []string{"template"}, "templates.create"},
	{listVerbs, []string{"template"}, "templates.list"},

	// Projects.
	{updateVerbs, []string{"project"}, "projects.update"},
	{deleteVerbs, []string{"project"}, "projects.delete"},
	{createVerbs, []string{"project"}, "projects.create"},
	{listVerbs, []string{"project"}, "projects.list"},

	// Inventories.
	{deleteVerbs, []string{"inventory", "inventories"}, "inventories.delete"},
	{createVerbs, []string{"inventory", "inventories"}, "inventories.create"},
	{listVerbs, []string{"inventory", "inventories"}, "inventories.list"},

	// Environments.
	{testVerbs, []string{"environment", "env", "connection", "connectivity"}, "env.test"},
	{switchVerbs, []string{"environment", "env"}, "env.use"},
	{[]string{"what", "which", "show", "current", "active"}, []string{"environment", "env"}, "env.active"},
	{listVerbs, []string{"environments", "envs"}, "env.list"},
}

// KeywordResolver is the deterministic fallback classifier.
type KeywordResolver struct{}

// NewKeywordResolver returns a resolver backed by the static rule tables.
func NewKeywordResolver() *KeywordResolver {
	return &KeywordResolver{}
}

// Classify extracts operation candidates from free-form text.
func (r *KeywordResolver) Classify(utterance string) []Candidate {
	lower := strings.ToLower(utterance)

	hasVerb := false
	for _, v := range actionVerbs {
		if strings.Contains(lower, v) {
			hasVerb = true
			break
		}
	}
	if !hasVerb {
		return nil
	}

	var out []Candidate
	seen := make(map[string]bool)
	for _, rule := range rules {
		if !containsAny(lower, rule.verbs) || !containsAny(lower, rule.subjects) {
			continue
		}
		if seen[rule.operation] {
			continue
		}
		seen[rule.operation] = true
		out = append(out, Candidate{
			Operation: rule.operation,
			Args:      extractArgs(lower, rule.operation),
		})
	}
	return out
}

func containsAny(text string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(text, n) {
			return true
		}
	}
	return false
}

// extractArgs pulls parameter values out of the utterance using per-operation
// heuristics. Everything is best-effort; missing values are simply left for
// the slot validator to ask about.
func extractArgs(lower, operation string) map[string]string {
	args := make(map[string]string)

	switch operation {
	case "jobs.get", "jobs.cancel", "jobs.delete", "jobs.stdout", "jobs.events", "jobs.diagnose":
		if id := numberAfter(lower, "job"); id != "" {
			args["job_id"] = id
		}
	case "jobs.launch":
		if id := numberAfter(lower, "template"); id != "" {
			args["template_id"] = id
		}
		if v := phraseAfter(lower, []string{"limit to ", "limited to ", "only on "}); v != "" {
			args["limit"] = v
		}
	case "templates.create", "projects.create", "inventories.create":
		if v := phraseAfter(lower, []string{"called ", "named ", "name it ", "name: ", "call it "}); v != "" {
			args["name"] = v
		}
	case "templates.delete":
		if id := numberAfter(lower, "template"); id != "" {
			args["template_id"] = id
		}
	case "projects.delete", "projects.update":
		if id := numberAfter(lower, "project"); id != "" {
			args["project_id"] = id
		}
	case "inventories.delete":
		if id := numberAfter(lower, "inventory"); id != "" {
			args["inventory_id"] = id
		}
	case "env.use", "env.test":
		if v := phraseAfter(lower, []string{"environment ", "env ", "to "}); v != "" && !isStopWord(v) {
			args["env_name"] = v
		}
	}

	if len(args) == 0 {
		return map[string]string{}
	}
	return args
}

// numberAfter finds the first run of digits that follows the given subject
// word, e.g. numberAfter("cancel job 77 now", "job") == "77". A number
// directly joined to the subject ("job#77", "job:77") also matches.
func numberAfter(text, subject string) string {
	idx := strings.Index(text, subject)
	if idx < 0 {
		return ""
	}
	rest := text[idx+len(subject):]
	start := -1
	for i, r := range rest {
		if unicode.IsDigit(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			return rest[start:i]
		}
		// Skip separators between subject and number; bail on a new word.
		if !strings.ContainsRune(" #:=.", r) {
			return ""
		}
	}
	if start >= 0 {
		return rest[start:]
	}
	return ""
}

// phraseAfter returns the single word that follows the first matching
// marker phrase, stripped of punctuation. Empty when no marker matches.
func phraseAfter(text string, markers []string) string {
	for _, m := range markers {
		idx := strings.Index(text, m)
		if idx < 0 {
			continue
		}
		rest := strings.TrimSpace(text[idx+len(m):])
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			continue
		}
		word := strings.Trim(fields[0], `"'.,;!?`)
		if word != "" {
			return word
		}
	}
	return ""
}

// isStopWord filters out words that the "to " marker tends to capture when
// the utterance was not actually naming an environment.
func isStopWord(w string) bool {
	switch w {
	case "the", "a", "an", "my", "that", "this", "it", "see", "check", "make":
		return true
	}
	return false
}
