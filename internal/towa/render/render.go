// Package render turns execution outcomes into chat messages.
//
// Every function here is a pure formatter: no I/O, no errors, total over
// its inputs (nil payloads render as a generic fallback rather than
// panicking). The output is Matrix-flavoured markdown.
package render

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/bdobrica/Towa/internal/towa/awx"
	"github.com/bdobrica/Towa/internal/towa/bridge"
	"github.com/bdobrica/Towa/internal/towa/dialog"
	"github.com/bdobrica/Towa/internal/towa/environments"
)

const (
	// maxStdoutLines bounds console output per message; the remainder is
	// summarized with a "+N more" marker.
	maxStdoutLines = 40
	// maxListRows bounds tabular listings per message.
	maxListRows = 15
)

// Outcome renders a successful execution.
func Outcome(out *bridge.Outcome) string {
	if out == nil {
		return "✅ Done."
	}

	switch {
	case out.Job != nil:
		return renderJob(out.Operation, out.Job)
	case out.Jobs != nil:
		return renderJobList(out.Jobs)
	case out.Templates != nil:
		return renderTemplates(out.Operation, out.Templates)
	case out.Projects != nil:
		return renderProjects(out.Operation, out.Projects)
	case out.Inventories != nil:
		return renderInventories(out.Operation, out.Inventories)
	case out.Events != nil:
		return renderEvents(out.Events)
	case out.Update != nil:
		return fmt.Sprintf("🔄 Project sync **%d** finished with status `%s`.", out.Update.ID, out.Update.Status)
	case out.Diagnosis != nil:
		return renderDiagnosis(out.Diagnosis)
	case out.Environments != nil:
		return renderEnvironments(out.Environments)
	case out.Environment != nil:
		return fmt.Sprintf("🌐 Active environment: **%s** (`%s`)", out.Environment.Name, out.Environment.URL)
	case out.EnvTest != nil:
		return renderEnvTest(out.EnvTest)
	case out.Text != "":
		return renderStdout(out.Text)
	case out.Message != "":
		return "✅ " + out.Message
	case out.Fields != nil:
		return renderFields(out.Fields)
	default:
		return "✅ Done."
	}
}

// Clarification renders a NeedsInput result: the ordered missing-field
// prompts plus the token the surface must echo back.
func Clarification(res dialog.InvocationResult) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("I need a bit more to run `%s`:\n\n", res.Operation))
	for i, m := range res.Missing {
		prompt := m.Prompt
		if prompt == "" {
			prompt = fmt.Sprintf("please provide `%s`", m.Name)
		}
		sb.WriteString(fmt.Sprintf("%d. **%s** — %s", i+1, m.Name, prompt))
		if len(m.Choices) > 0 {
			sb.WriteString(fmt.Sprintf(" (one of: `%s`)", strings.Join(m.Choices, "`, `")))
		}
		sb.WriteString("\n")
	}
	sb.WriteString(fmt.Sprintf("\nReply with the values (e.g. `%s=...`) — ref `%s`.",
		firstFieldName(res.Missing), res.Token))
	return sb.String()
}

var resumeRef = regexp.MustCompile("ref `([^`]+)`")

// ResumeRef extracts the resume token from a rendered clarification, so the
// chat surface can remember which question a later bare reply answers. The
// format is owned by Clarification above.
func ResumeRef(reply string) (string, bool) {
	m := resumeRef.FindStringSubmatch(reply)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Failure renders a dialog-level failure (expired or unknown token).
func Failure(reason string) string {
	if reason == "" {
		reason = "something went wrong"
	}
	return "❌ " + reason
}

// Error renders an execution failure with kind-specific guidance. The
// underlying error chain stays in the logs; the user sees what to do next.
func Error(err *bridge.Error) string {
	if err == nil {
		return "❌ The operation failed for an unknown reason."
	}

	switch err.Kind {
	case bridge.KindAuth:
		return "🔒 AWX rejected the credentials. Check the token or username/password for the active environment (`env.test` shows which one that is)."
	case bridge.KindConnection:
		return "🔌 Could not reach AWX. The instance may be down or unreachable from here — try `env.test`, and check the URL if it keeps failing."
	case bridge.KindNotFound:
		return "🔍 AWX has no record matching that request. The ID may be wrong, or the resource was deleted."
	case bridge.KindValidation:
		return fmt.Sprintf("⚠️ AWX rejected the request: %s. Adjust the parameters and try again.", rootMessage(err))
	default:
		return "❌ The operation failed unexpectedly. Details are in the logs under the current trace ID."
	}
}

// --- per-payload renderers ---

func renderJob(operation string, job *awx.Job) string {
	icon := statusIcon(job.Status)
	header := fmt.Sprintf("%s Job **%d** — `%s`", icon, job.ID, job.Status)
	if operation == "jobs.launch" {
		header = fmt.Sprintf("🚀 Launched job **%d** from template %d — status `%s`", job.ID, job.TemplateID, job.Status)
	}

	var sb strings.Builder
	sb.WriteString(header)
	if job.Name != "" {
		sb.WriteString(fmt.Sprintf("\nName: %s", job.Name))
	}
	if job.Playbook != "" {
		sb.WriteString(fmt.Sprintf("\nPlaybook: `%s`", job.Playbook))
	}
	if job.Finished != nil {
		sb.WriteString(fmt.Sprintf("\nFinished: %s (%.1fs)", job.Finished.Format("2006-01-02 15:04:05"), job.Elapsed))
	}
	if job.JobExplanation != "" {
		sb.WriteString(fmt.Sprintf("\nNote: %s", job.JobExplanation))
	}
	return sb.String()
}

func renderJobList(jobs []awx.Job) string {
	if len(jobs) == 0 {
		return "No jobs found."
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("**%d job(s):**\n", len(jobs)))
	for i, j := range jobs {
		if i == maxListRows {
			sb.WriteString(fmt.Sprintf("… +%d more\n", len(jobs)-maxListRows))
			break
		}
		name := j.Name
		if name == "" {
			name = "(unnamed)"
		}
		sb.WriteString(fmt.Sprintf("%s **%d** %s — `%s`\n", statusIcon(j.Status), j.ID, name, j.Status))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func renderTemplates(operation string, templates []awx.JobTemplate) string {
	if operation == "templates.create" && len(templates) == 1 {
		t := templates[0]
		return fmt.Sprintf("✅ Template **%s** created with ID **%d** (playbook `%s`).", t.Name, t.ID, t.Playbook)
	}
	if len(templates) == 0 {
		return "No job templates found."
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("**%d template(s):**\n", len(templates)))
	for i, t := range templates {
		if i == maxListRows {
			sb.WriteString(fmt.Sprintf("… +%d more\n", len(templates)-maxListRows))
			break
		}
		sb.WriteString(fmt.Sprintf("• **%d** %s — `%s`\n", t.ID, t.Name, t.Playbook))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func renderProjects(operation string, projects []awx.Project) string {
	if operation == "projects.create" && len(projects) == 1 {
		p := projects[0]
		return fmt.Sprintf("✅ Project **%s** created with ID **%d** (%s).", p.Name, p.ID, p.SCMURL)
	}
	if len(projects) == 0 {
		return "No projects found."
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("**%d project(s):**\n", len(projects)))
	for i, p := range projects {
		if i == maxListRows {
			sb.WriteString(fmt.Sprintf("… +%d more\n", len(projects)-maxListRows))
			break
		}
		sb.WriteString(fmt.Sprintf("• **%d** %s (`%s`) — %s\n", p.ID, p.Name, p.SCMType, p.Status))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func renderInventories(operation string, inventories []awx.Inventory) string {
	if operation == "inventories.create" && len(inventories) == 1 {
		inv := inventories[0]
		return fmt.Sprintf("✅ Inventory **%s** created with ID **%d**.", inv.Name, inv.ID)
	}
	if len(inventories) == 0 {
		return "No inventories found."
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("**%d inventor(ies):**\n", len(inventories)))
	for i, inv := range inventories {
		if i == maxListRows {
			sb.WriteString(fmt.Sprintf("… +%d more\n", len(inventories)-maxListRows))
			break
		}
		sb.WriteString(fmt.Sprintf("• **%d** %s — %d host(s)\n", inv.ID, inv.Name, inv.TotalHosts))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func renderEvents(events []awx.JobEvent) string {
	if len(events) == 0 {
		return "No job events recorded."
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("**%d event(s):**\n", len(events)))
	for i, ev := range events {
		if i == maxListRows {
			sb.WriteString(fmt.Sprintf("… +%d more\n", len(events)-maxListRows))
			break
		}
		marker := "•"
		if ev.Failed {
			marker = "❌"
		}
		task := ev.Task
		if task == "" {
			task = ev.Event
		}
		if ev.Host != "" {
			sb.WriteString(fmt.Sprintf("%s %s @ %s\n", marker, task, ev.Host))
		} else {
			sb.WriteString(fmt.Sprintf("%s %s\n", marker, task))
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func renderDiagnosis(d *bridge.Diagnosis) string {
	var sb strings.Builder
	sb.WriteString("🩺 " + d.Summary)
	for i, task := range d.FailedTasks {
		if i == 5 {
			sb.WriteString(fmt.Sprintf("\n… +%d more failing task(s)", len(d.FailedTasks)-5))
			break
		}
		sb.WriteString(fmt.Sprintf("\n• **%s** on `%s`", task.Task, task.Host))
		if task.Stdout != "" {
			sb.WriteString(fmt.Sprintf("\n  ```\n  %s\n  ```", firstLine(task.Stdout)))
		}
	}
	if a := d.Analysis; a != nil {
		sb.WriteString(fmt.Sprintf("\nLikely cause: `%s`", a.Category))
		if a.ErrorMessage != "" {
			sb.WriteString(fmt.Sprintf(" — %s", firstLine(a.ErrorMessage)))
		}
		if len(a.Fixes) > 0 {
			sb.WriteString("\nSuggested fixes:")
			for _, fix := range a.Fixes {
				sb.WriteString("\n  - " + fix)
			}
		}
	}
	return sb.String()
}

func renderEnvironments(envs []environments.Environment) string {
	if len(envs) == 0 {
		return "No AWX environments configured. Set TOWA_AWX_URL or add one."
	}

	var sb strings.Builder
	sb.WriteString("**Environments:**\n")
	for _, e := range envs {
		marker := "•"
		if e.Active {
			marker = "👉"
		}
		sb.WriteString(fmt.Sprintf("%s **%s** — `%s`\n", marker, e.Name, e.URL))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func renderEnvTest(r *environments.TestResult) string {
	if !r.Reachable {
		return fmt.Sprintf("❌ Environment **%s** is unreachable: %v", r.Name, r.Err)
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("✅ Environment **%s** is reachable (%s).", r.Name, r.Latency.Round(time.Millisecond)))
	if r.User != "" {
		sb.WriteString(fmt.Sprintf("\nAuthenticated as `%s`.", r.User))
	}
	if r.Version != "" {
		sb.WriteString(fmt.Sprintf("\nAWX version %s.", r.Version))
	}
	return sb.String()
}

func renderStdout(text string) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	truncated := 0
	if len(lines) > maxStdoutLines {
		truncated = len(lines) - maxStdoutLines
		lines = lines[:maxStdoutLines]
	}

	var sb strings.Builder
	sb.WriteString("```\n")
	sb.WriteString(strings.Join(lines, "\n"))
	sb.WriteString("\n```")
	if truncated > 0 {
		sb.WriteString(fmt.Sprintf("\n+%d more line(s)", truncated))
	}
	return sb.String()
}

// renderFields is the generic structured fallback: sorted "key: value"
// lines for operations without a curated template.
func renderFields(fields map[string]any) string {
	if len(fields) == 0 {
		return "✅ Done."
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(fmt.Sprintf("**%s**: %v\n", k, fields[k]))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// --- small helpers ---

func statusIcon(status string) string {
	switch status {
	case "successful":
		return "✅"
	case "failed", "error":
		return "❌"
	case "running", "pending", "waiting":
		return "⏳"
	case "canceled":
		return "🚫"
	default:
		return "•"
	}
}

func firstFieldName(missing []dialog.MissingField) string {
	if len(missing) == 0 {
		return "field"
	}
	return missing[0].Name
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

// rootMessage walks to the innermost error message for user display.
func rootMessage(err *bridge.Error) string {
	inner := err.Err
	for {
		type causer interface{ Unwrap() error }
		c, ok := inner.(causer)
		if !ok || c.Unwrap() == nil {
			break
		}
		inner = c.Unwrap()
	}
	return inner.Error()
}
