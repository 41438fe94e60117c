package render

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/bdobrica/Towa/internal/towa/analysis"
	"github.com/bdobrica/Towa/internal/towa/awx"
	"github.com/bdobrica/Towa/internal/towa/bridge"
	"github.com/bdobrica/Towa/internal/towa/dialog"
	"github.com/bdobrica/Towa/internal/towa/environments"
)

func TestOutcome_LaunchedJob(t *testing.T) {
	got := Outcome(&bridge.Outcome{
		Operation: "jobs.launch",
		Job:       &awx.Job{ID: 101, Status: "pending", TemplateID: 42},
	})
	for _, want := range []string{"101", "42", "pending"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestOutcome_JobListTruncates(t *testing.T) {
	jobs := make([]awx.Job, 20)
	for i := range jobs {
		jobs[i] = awx.Job{ID: i + 1, Name: fmt.Sprintf("job-%d", i+1), Status: "successful"}
	}

	got := Outcome(&bridge.Outcome{Operation: "jobs.list", Jobs: jobs})
	if !strings.Contains(got, "+5 more") {
		t.Errorf("missing truncation marker:\n%s", got)
	}
	if strings.Contains(got, "job-16") {
		t.Errorf("truncated row rendered:\n%s", got)
	}
}

func TestOutcome_EmptyJobList(t *testing.T) {
	got := Outcome(&bridge.Outcome{Operation: "jobs.list", Jobs: []awx.Job{}})
	if got != "No jobs found." {
		t.Errorf("got %q", got)
	}
}

func TestOutcome_StdoutTruncates(t *testing.T) {
	lines := make([]string, 50)
	for i := range lines {
		lines[i] = fmt.Sprintf("line %d", i+1)
	}

	got := Outcome(&bridge.Outcome{Operation: "jobs.stdout", Text: strings.Join(lines, "\n")})
	if !strings.Contains(got, "+10 more line(s)") {
		t.Errorf("missing truncation marker:\n%s", got)
	}
	if !strings.HasPrefix(got, "```") {
		t.Errorf("stdout not fenced:\n%s", got)
	}
	if strings.Contains(got, "line 41") {
		t.Errorf("truncated line rendered:\n%s", got)
	}
}

func TestOutcome_ShortStdoutUnmarked(t *testing.T) {
	got := Outcome(&bridge.Outcome{Operation: "jobs.stdout", Text: "ok\nPLAY RECAP"})
	if strings.Contains(got, "more line") {
		t.Errorf("truncation marker on short output:\n%s", got)
	}
}

func TestOutcome_Diagnosis(t *testing.T) {
	got := Outcome(&bridge.Outcome{
		Operation: "jobs.diagnose",
		Diagnosis: &bridge.Diagnosis{
			Job:     &awx.Job{ID: 5, Status: "failed"},
			Summary: "Job 5 failed on 1 task(s); first failure: \"Install nginx\".",
			FailedTasks: []bridge.FailedTask{
				{Task: "Install nginx", Host: "web1", Stdout: "E: Unable to locate package nginx\nmore detail"},
			},
		},
	})
	for _, want := range []string{"Install nginx", "web1", "Unable to locate package"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "more detail") {
		t.Errorf("only the first stdout line should render:\n%s", got)
	}
}

func TestOutcome_DiagnosisWithAnalysis(t *testing.T) {
	got := Outcome(&bridge.Outcome{
		Operation: "jobs.diagnose",
		Diagnosis: &bridge.Diagnosis{
			Job:     &awx.Job{ID: 5, Status: "failed"},
			Summary: "Job 5 failed on 1 task(s).",
			FailedTasks: []bridge.FailedTask{
				{Task: "Gathering Facts", Host: "web1"},
			},
			Analysis: &analysis.Analysis{
				Category:     analysis.CategoryInventoryIssue,
				ErrorMessage: "fatal: UNREACHABLE!",
				Fixes:        []string{"Verify the host exists in the inventory"},
			},
		},
	})
	if !strings.Contains(got, "inventory_issue") {
		t.Errorf("category missing:\n%s", got)
	}
	if !strings.Contains(got, "Verify the host exists") {
		t.Errorf("fixes missing:\n%s", got)
	}
}

func TestResumeRefRoundTrip(t *testing.T) {
	reply := Clarification(dialog.NeedsInput("jobs.launch", []dialog.MissingField{
		{Name: "template_id", Prompt: "Which template?", Required: true},
	}, "0192f0c1-foo"))

	token, ok := ResumeRef(reply)
	if !ok || token != "0192f0c1-foo" {
		t.Fatalf("ResumeRef() = %q, %v", token, ok)
	}

	if _, ok := ResumeRef("✅ Done."); ok {
		t.Fatal("plain outcome should carry no resume ref")
	}
}

func TestOutcome_Environments(t *testing.T) {
	got := Outcome(&bridge.Outcome{
		Operation: "env.list",
		Environments: []environments.Environment{
			{Name: "prod", URL: "https://awx-prod", Active: true},
			{Name: "staging", URL: "https://awx-staging"},
		},
	})
	if !strings.Contains(got, "👉 **prod**") {
		t.Errorf("active marker missing:\n%s", got)
	}
	if !strings.Contains(got, "staging") {
		t.Errorf("staging missing:\n%s", got)
	}
}

func TestOutcome_GenericFieldsSorted(t *testing.T) {
	got := Outcome(&bridge.Outcome{
		Operation: "system.info",
		Fields:    map[string]any{"version": "24.6.1", "user": "towa", "hosts": 12},
	})
	hosts := strings.Index(got, "hosts")
	user := strings.Index(got, "user")
	version := strings.Index(got, "version")
	if hosts < 0 || user < 0 || version < 0 || !(hosts < user && user < version) {
		t.Errorf("fields not sorted:\n%s", got)
	}
}

func TestOutcome_NilSafe(t *testing.T) {
	if got := Outcome(nil); got == "" {
		t.Error("nil outcome rendered empty")
	}
	if got := Outcome(&bridge.Outcome{Operation: "jobs.cancel"}); got == "" {
		t.Error("payload-less outcome rendered empty")
	}
}

func TestClarification_ListsPromptsInOrder(t *testing.T) {
	got := Clarification(dialog.InvocationResult{
		Status:    dialog.StatusNeedsInput,
		Operation: "jobs.stdout",
		Missing: []dialog.MissingField{
			{Name: "job_id", Prompt: "which job?", Required: true},
			{Name: "format", Prompt: "output format", Choices: []string{"txt", "json"}},
		},
		Token: "0191e4a0-aaaa-bbbb-cccc-000000000000",
	})

	jobIdx := strings.Index(got, "job_id")
	formatIdx := strings.Index(got, "format")
	if jobIdx < 0 || formatIdx < 0 || jobIdx > formatIdx {
		t.Errorf("prompts out of order:\n%s", got)
	}
	if !strings.Contains(got, "`txt`, `json`") {
		t.Errorf("choices missing:\n%s", got)
	}
	if !strings.Contains(got, "0191e4a0-aaaa-bbbb-cccc-000000000000") {
		t.Errorf("token missing:\n%s", got)
	}
}

func TestError_KindSpecificGuidance(t *testing.T) {
	tests := []struct {
		kind bridge.Kind
		want string
	}{
		{bridge.KindAuth, "credentials"},
		{bridge.KindConnection, "reach"},
		{bridge.KindNotFound, "no record"},
		{bridge.KindValidation, "rejected"},
		{bridge.KindUnknown, "logs"},
	}

	for _, tc := range tests {
		got := Error(&bridge.Error{Kind: tc.kind, Operation: "jobs.get", Err: errors.New("boom")})
		if !strings.Contains(got, tc.want) {
			t.Errorf("kind %s: output %q missing %q", tc.kind, got, tc.want)
		}
	}
}

func TestError_NeverLeaksWrappedChain(t *testing.T) {
	inner := fmt.Errorf("GET /api/v2/jobs/7/ → 500: %w", awx.ErrConnection)
	got := Error(&bridge.Error{Kind: bridge.KindConnection, Operation: "jobs.get", Err: inner})
	if strings.Contains(got, "/api/v2/") {
		t.Errorf("internal detail leaked to user:\n%s", got)
	}
}

func TestError_NilSafe(t *testing.T) {
	if got := Error(nil); got == "" {
		t.Error("nil error rendered empty")
	}
}

func TestFailure(t *testing.T) {
	got := Failure("token not found or expired; please restart")
	if !strings.Contains(got, "token not found or expired") {
		t.Errorf("got %q", got)
	}
}
