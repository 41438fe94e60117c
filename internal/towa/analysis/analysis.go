// Package analysis classifies failed job events into root-cause categories
// and pairs each category with concrete next steps. The classifier is a
// pattern table over the first failed event's error text; it favors wrong
// useful answers over "unknown" only when a pattern actually matches.
package analysis

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/bdobrica/Towa/internal/towa/awx"
)

// Category is a failure root-cause classification.
type Category string

const (
	CategoryInventoryIssue    Category = "inventory_issue"
	CategoryAuthFailure       Category = "auth_failure"
	CategoryMissingVariable   Category = "missing_variable"
	CategorySyntaxError       Category = "syntax_error"
	CategoryModuleFailure     Category = "module_failure"
	CategoryConnectionTimeout Category = "connection_timeout"
	CategoryPermissionDenied  Category = "permission_denied"
	CategoryUnknown           Category = "unknown"
)

// Analysis is the categorized verdict for one failed job. The JSON tags
// match the document offloaded diagnostic workers emit.
type Analysis struct {
	Category     Category `json:"category"`
	Task         string   `json:"task,omitempty"`
	Play         string   `json:"play,omitempty"`
	Host         string   `json:"host,omitempty"`
	ErrorMessage string   `json:"error_message,omitempty"`
	Fixes        []string `json:"fixes,omitempty"`
	FailedEvents int      `json:"failed_events"`
}

var undefinedVarPattern = regexp.MustCompile(`['"]([\w]+)['"][^'"]*undefined`)

// Analyze inspects a job's failed events and returns a categorized report.
// With no failed events the category is unknown and the fixes point at the
// job record itself.
func Analyze(events []awx.JobEvent) Analysis {
	var failed []awx.JobEvent
	for _, ev := range events {
		if ev.Failed {
			failed = append(failed, ev)
		}
	}

	if len(failed) == 0 {
		return Analysis{
			Category: CategoryUnknown,
			Fixes:    []string{"No failed events found. Check the job status for details."},
		}
	}

	ev := failed[0]
	errMsg := errorMessageFor(ev)
	category := classify(errMsg, ev.Task)

	return Analysis{
		Category:     category,
		Task:         ev.Task,
		Play:         ev.Play,
		Host:         ev.Host,
		ErrorMessage: errMsg,
		Fixes:        fixesFor(category, errMsg, ev.Task),
		FailedEvents: len(failed),
	}
}

// errorMessageFor prefers the module result's msg field over raw stdout;
// AWX nests it under event_data.res.msg.
func errorMessageFor(ev awx.JobEvent) string {
	if res, ok := ev.EventData["res"].(map[string]any); ok {
		if msg, ok := res["msg"].(string); ok && msg != "" {
			return msg
		}
	}
	return ev.Stdout
}

// classify maps error text to a category via substring patterns, most
// specific first.
func classify(errMsg, task string) Category {
	text := strings.ToLower(errMsg)

	switch {
	case containsAny(text, "unreachable", "could not resolve hostname", "connection refused"):
		return CategoryInventoryIssue
	case containsAny(text, "authentication failed", "invalid credentials", "unauthorized"):
		return CategoryAuthFailure
	case containsAny(text, "undefined variable", "variable is not defined", "is undefined"):
		return CategoryMissingVariable
	case containsAny(text, "syntax error", "yaml syntax", "unexpected token", "invalid syntax"):
		return CategorySyntaxError
	case containsAny(text, "timeout", "timed out"):
		return CategoryConnectionTimeout
	case strings.Contains(text, "permission") && strings.Contains(text, "denied"):
		return CategoryPermissionDenied
	}

	// Package-manager tasks failing on resolution are module failures.
	lowerTask := strings.ToLower(task)
	if containsAny(lowerTask, "yum", "apt", "dnf", "package") &&
		containsAny(text, "no package", "not found") {
		return CategoryModuleFailure
	}

	return CategoryUnknown
}

// fixesFor returns the ordered suggestion list for a category.
func fixesFor(category Category, errMsg, task string) []string {
	switch category {
	case CategoryInventoryIssue:
		return []string{
			"Verify the host exists in the inventory",
			"Check network connectivity to the target host",
			"Ensure the hostname resolves correctly (DNS or /etc/hosts)",
			"Verify firewall rules allow SSH connections",
		}
	case CategoryAuthFailure:
		return []string{
			"Verify SSH credentials or keys are correct",
			"Check that the user has access to the target host",
			"Ensure the SSH key is in authorized_keys",
			"Verify the sudo/become password if one is required",
		}
	case CategoryMissingVariable:
		fixes := []string{}
		if m := undefinedVarPattern.FindStringSubmatch(errMsg); m != nil {
			fixes = append(fixes, fmt.Sprintf("Define the variable %q in extra_vars or the playbook", m[1]))
		}
		return append(fixes,
			"Check the playbook for required variables",
			"Add missing variables to extra_vars in the job template",
			"Verify variable names are spelled correctly",
		)
	case CategorySyntaxError:
		return []string{
			"Check YAML syntax in the playbook",
			"Verify indentation uses spaces, not tabs",
			"Run ansible-playbook --syntax-check locally",
			"Check for missing quotes or special characters",
		}
	case CategoryConnectionTimeout:
		return []string{
			"Increase timeout values in ansible.cfg",
			"Check network latency to the target hosts",
			"Verify no firewall is blocking connections",
			"Check whether the target host is overloaded",
		}
	case CategoryPermissionDenied:
		return []string{
			"Check file and directory permissions on the target host",
			"Verify the user has the necessary privileges",
			"Use 'become: yes' if elevated privileges are needed",
			"Check SELinux/AppArmor policies if applicable",
		}
	case CategoryModuleFailure:
		return []string{
			fmt.Sprintf("Check the documentation for the %q task's module parameters", task),
			"Verify the module is available on the target system",
			"Check that module prerequisites are installed",
			"Review the module error message for specifics",
		}
	default:
		return []string{
			"Review the full job output for more context",
			"Verify all task parameters are correct",
			"Try running the task manually on the target host",
		}
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
