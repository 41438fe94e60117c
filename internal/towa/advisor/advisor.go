// Package advisor trades a cheap automatic lookup for a clarification turn.
//
// When an operation is missing an identifier that a discovery call can
// plausibly supply (e.g. "the most recent job"), the advisor fills it in
// before slot validation runs, so the user is not asked a question the
// system could answer itself. The advisor runs only on first attempts,
// never on resumes, and never causes a failure of its own: any discovery
// error falls through to ordinary slot-filling.
package advisor

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
)

// Discovery is the lookup capability the advisor needs. It is implemented
// by the execution layer on top of the automation API.
type Discovery interface {
	// MostRecentJobID returns the ID of the newest job, optionally
	// restricted to failed jobs. ok is false when no job matched.
	MostRecentJobID(ctx context.Context, failedOnly bool) (id int, ok bool, err error)
}

// rule describes one substitution: when operation is invoked without field,
// run the discovery and inject the result.
type rule struct {
	operation  string
	field      string
	failedOnly bool
}

// rules covers the operations whose identifier is usually "the job I just
// ran". Diagnosis looks at failed jobs specifically; the rest take the
// newest job regardless of outcome.
var rules = []rule{
	{"jobs.diagnose", "job_id", true},
	{"jobs.stdout", "job_id", false},
	{"jobs.get", "job_id", false},
	{"jobs.events", "job_id", false},
}

// Advisor rewrites invocation attempts using a Discovery backend.
type Advisor struct {
	discovery Discovery
}

// New returns an advisor backed by discovery. A nil discovery disables all
// substitutions.
func New(discovery Discovery) *Advisor {
	return &Advisor{discovery: discovery}
}

// MaybeRewrite returns (operation, args) with a discovered identifier
// injected when a rule applies, or unchanged otherwise. The returned map is
// a copy when a substitution happens, so callers may treat it as owned.
func (a *Advisor) MaybeRewrite(ctx context.Context, operation string, args map[string]string) (string, map[string]string) {
	if a == nil || a.discovery == nil {
		return operation, args
	}

	for _, r := range rules {
		if r.operation != operation {
			continue
		}
		if strings.TrimSpace(args[r.field]) != "" {
			return operation, args
		}

		id, ok, err := a.discovery.MostRecentJobID(ctx, r.failedOnly)
		if err != nil {
			slog.Debug("advisor: discovery failed; falling back to clarification",
				"operation", operation, "field", r.field, "err", err)
			return operation, args
		}
		if !ok {
			return operation, args
		}

		out := make(map[string]string, len(args)+1)
		for k, v := range args {
			out[k] = v
		}
		out[r.field] = strconv.Itoa(id)
		slog.Debug("advisor: injected discovered identifier",
			"operation", operation, "field", r.field, "value", id)
		return operation, out
	}

	return operation, args
}
