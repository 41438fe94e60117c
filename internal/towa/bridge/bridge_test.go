package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/bdobrica/Towa/common/retry"
	"github.com/bdobrica/Towa/internal/towa/analysis"
	"github.com/bdobrica/Towa/internal/towa/awx"
	"github.com/bdobrica/Towa/internal/towa/environments"
	"github.com/bdobrica/Towa/internal/towa/store"
	"github.com/bdobrica/Towa/internal/towa/taskrunner"
)

// fakeAPI scripts AWX responses per method. Unset methods fail loudly so a
// test exercising the wrong path is caught immediately.
type fakeAPI struct {
	launchJob       func(templateID int, opts awx.LaunchOptions) (*awx.Job, error)
	getJob          func(jobID int) (*awx.Job, error)
	listJobs        func(opts awx.ListJobsOptions) ([]awx.Job, error)
	cancelJob       func(jobID int) error
	jobStdout       func(jobID int, format string, tail int) (string, error)
	jobEvents       func(jobID int, failedOnly bool, pageSize int) ([]awx.JobEvent, error)
	listTemplates   func(opts awx.ListOptions) ([]awx.JobTemplate, error)
	createTemplate  func(req awx.CreateTemplateRequest) (*awx.JobTemplate, error)
	listProjects    func(opts awx.ListOptions) ([]awx.Project, error)
	createProject   func(req awx.CreateProjectRequest) (*awx.Project, error)
	listInventories func(opts awx.ListOptions) ([]awx.Inventory, error)
	dashboard       func() (map[string]any, error)
}

func (f *fakeAPI) Ping(context.Context) error { return nil }
func (f *fakeAPI) Me(context.Context) (*awx.MeResponse, error) {
	return &awx.MeResponse{Username: "towa"}, nil
}
func (f *fakeAPI) InstanceInfo(context.Context) (*awx.InstanceConfig, error) {
	return &awx.InstanceConfig{Version: "24.6.1"}, nil
}
func (f *fakeAPI) Dashboard(context.Context) (map[string]any, error) {
	if f.dashboard == nil {
		return map[string]any{}, nil
	}
	return f.dashboard()
}
func (f *fakeAPI) LaunchJob(_ context.Context, templateID int, opts awx.LaunchOptions) (*awx.Job, error) {
	if f.launchJob == nil {
		return nil, errors.New("fake: LaunchJob not scripted")
	}
	return f.launchJob(templateID, opts)
}
func (f *fakeAPI) GetJob(_ context.Context, jobID int) (*awx.Job, error) {
	if f.getJob == nil {
		return nil, errors.New("fake: GetJob not scripted")
	}
	return f.getJob(jobID)
}
func (f *fakeAPI) ListJobs(_ context.Context, opts awx.ListJobsOptions) ([]awx.Job, error) {
	if f.listJobs == nil {
		return nil, errors.New("fake: ListJobs not scripted")
	}
	return f.listJobs(opts)
}
func (f *fakeAPI) CancelJob(_ context.Context, jobID int) error {
	if f.cancelJob == nil {
		return errors.New("fake: CancelJob not scripted")
	}
	return f.cancelJob(jobID)
}
func (f *fakeAPI) DeleteJob(context.Context, int) error { return errors.New("fake: not scripted") }
func (f *fakeAPI) JobStdout(_ context.Context, jobID int, format string, tail int) (string, error) {
	if f.jobStdout == nil {
		return "", errors.New("fake: JobStdout not scripted")
	}
	return f.jobStdout(jobID, format, tail)
}
func (f *fakeAPI) JobEvents(_ context.Context, jobID int, failedOnly bool, pageSize int) ([]awx.JobEvent, error) {
	if f.jobEvents == nil {
		return nil, errors.New("fake: JobEvents not scripted")
	}
	return f.jobEvents(jobID, failedOnly, pageSize)
}
func (f *fakeAPI) ListTemplates(_ context.Context, opts awx.ListOptions) ([]awx.JobTemplate, error) {
	if f.listTemplates == nil {
		return nil, errors.New("fake: ListTemplates not scripted")
	}
	return f.listTemplates(opts)
}
func (f *fakeAPI) CreateTemplate(_ context.Context, req awx.CreateTemplateRequest) (*awx.JobTemplate, error) {
	if f.createTemplate == nil {
		return nil, errors.New("fake: CreateTemplate not scripted")
	}
	return f.createTemplate(req)
}
func (f *fakeAPI) DeleteTemplate(context.Context, int) error { return errors.New("fake: not scripted") }
func (f *fakeAPI) ListProjects(_ context.Context, opts awx.ListOptions) ([]awx.Project, error) {
	if f.listProjects == nil {
		return nil, errors.New("fake: ListProjects not scripted")
	}
	return f.listProjects(opts)
}
func (f *fakeAPI) CreateProject(_ context.Context, req awx.CreateProjectRequest) (*awx.Project, error) {
	if f.createProject == nil {
		return nil, errors.New("fake: CreateProject not scripted")
	}
	return f.createProject(req)
}
func (f *fakeAPI) DeleteProject(context.Context, int) error { return errors.New("fake: not scripted") }
func (f *fakeAPI) UpdateProject(context.Context, int, bool) (*awx.ProjectUpdate, error) {
	return nil, errors.New("fake: not scripted")
}
func (f *fakeAPI) ListInventories(_ context.Context, opts awx.ListOptions) ([]awx.Inventory, error) {
	if f.listInventories == nil {
		return nil, errors.New("fake: ListInventories not scripted")
	}
	return f.listInventories(opts)
}
func (f *fakeAPI) CreateInventory(context.Context, string, string, int) (*awx.Inventory, error) {
	return nil, errors.New("fake: not scripted")
}
func (f *fakeAPI) DeleteInventory(context.Context, int) error { return errors.New("fake: not scripted") }

func newTestBridge(api API) *Bridge {
	return New(func(context.Context) (API, error) { return api, nil }, nil)
}

func TestExecute_LaunchPassesArguments(t *testing.T) {
	var gotTemplate int
	var gotOpts awx.LaunchOptions
	api := &fakeAPI{
		launchJob: func(templateID int, opts awx.LaunchOptions) (*awx.Job, error) {
			gotTemplate, gotOpts = templateID, opts
			return &awx.Job{ID: 101, Status: "pending"}, nil
		},
	}

	out, err := newTestBridge(api).Execute(context.Background(), "jobs.launch", map[string]string{
		"template_id": "42",
		"limit":       "web",
		"extra_vars":  `{"env":"staging"}`,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if gotTemplate != 42 || gotOpts.Limit != "web" || gotOpts.ExtraVars != `{"env":"staging"}` {
		t.Errorf("call = (%d, %+v)", gotTemplate, gotOpts)
	}
	if out.Operation != "jobs.launch" || out.Job == nil || out.Job.ID != 101 {
		t.Errorf("outcome = %+v", out)
	}
}

func TestExecute_BadIntegerIsValidationError(t *testing.T) {
	b := newTestBridge(&fakeAPI{})

	_, err := b.Execute(context.Background(), "jobs.get", map[string]string{"job_id": "abc"})
	var tagged *Error
	if !errors.As(err, &tagged) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if tagged.Kind != KindValidation {
		t.Errorf("kind = %q, want validation", tagged.Kind)
	}
}

func TestExecute_ClassifiesClientErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"auth", fmt.Errorf("get job: %w", awx.ErrAuth), KindAuth},
		{"connection", fmt.Errorf("get job: %w", awx.ErrConnection), KindConnection},
		{"not found", fmt.Errorf("get job: %w", awx.ErrNotFound), KindNotFound},
		{"validation", fmt.Errorf("get job: %w", awx.ErrValidation), KindValidation},
		{"unknown", errors.New("something odd"), KindUnknown},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			api := &fakeAPI{getJob: func(int) (*awx.Job, error) { return nil, tc.err }}
			_, err := newTestBridge(api).Execute(context.Background(), "jobs.get", map[string]string{"job_id": "7"})

			var tagged *Error
			if !errors.As(err, &tagged) {
				t.Fatalf("expected *Error, got %T", err)
			}
			if tagged.Kind != tc.want {
				t.Errorf("kind = %q, want %q", tagged.Kind, tc.want)
			}
		})
	}
}

func TestExecute_UnwrapsRetryExhaustion(t *testing.T) {
	wrapped := &retry.Exhausted{
		Attempts: 3,
		Err:      fmt.Errorf("GET /api/v2/jobs/7/: %w", awx.ErrConnection),
	}
	api := &fakeAPI{getJob: func(int) (*awx.Job, error) { return nil, wrapped }}

	_, err := newTestBridge(api).Execute(context.Background(), "jobs.get", map[string]string{"job_id": "7"})
	var tagged *Error
	if !errors.As(err, &tagged) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if tagged.Kind != KindConnection {
		t.Errorf("kind = %q; retry wrapper must not hide the cause", tagged.Kind)
	}
}

func TestExecute_DiagnoseCollectsFailedTasks(t *testing.T) {
	api := &fakeAPI{
		getJob: func(jobID int) (*awx.Job, error) {
			return &awx.Job{ID: jobID, Status: "failed", Failed: true}, nil
		},
		jobEvents: func(jobID int, failedOnly bool, pageSize int) ([]awx.JobEvent, error) {
			if !failedOnly {
				t.Error("diagnose must request failed events only")
			}
			return []awx.JobEvent{
				{Failed: true, Task: "Install nginx", Host: "web1", Stdout: "E: Unable to locate package"},
				{Failed: false, Task: "Gathering Facts"},
				{Failed: true, Task: "Install nginx", Host: "web2"},
			}, nil
		},
	}

	out, err := newTestBridge(api).Execute(context.Background(), "jobs.diagnose", map[string]string{"job_id": "5"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	diag := out.Diagnosis
	if diag == nil || len(diag.FailedTasks) != 2 {
		t.Fatalf("diagnosis = %+v", diag)
	}
	if diag.FailedTasks[0].Task != "Install nginx" || diag.FailedTasks[0].Host != "web1" {
		t.Errorf("first failed task = %+v", diag.FailedTasks[0])
	}
	if diag.Summary == "" {
		t.Error("empty summary")
	}
	if diag.Analysis == nil || diag.Analysis.FailedEvents != 2 {
		t.Errorf("analysis = %+v", diag.Analysis)
	}
}

func TestExecute_DiagnoseClassifiesRootCause(t *testing.T) {
	api := &fakeAPI{
		getJob: func(jobID int) (*awx.Job, error) {
			return &awx.Job{ID: jobID, Status: "failed", Failed: true}, nil
		},
		jobEvents: func(jobID int, failedOnly bool, pageSize int) ([]awx.JobEvent, error) {
			return []awx.JobEvent{
				{Failed: true, Task: "Gathering Facts", Host: "web1", Stdout: "fatal: UNREACHABLE! => connection refused"},
			}, nil
		},
	}

	out, err := newTestBridge(api).Execute(context.Background(), "jobs.diagnose", map[string]string{"job_id": "9"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	a := out.Diagnosis.Analysis
	if a == nil || a.Category != analysis.CategoryInventoryIssue {
		t.Fatalf("analysis = %+v", a)
	}
	if len(a.Fixes) == 0 {
		t.Error("no suggested fixes")
	}
}

func TestExecute_DiagnoseSuccessfulJob(t *testing.T) {
	api := &fakeAPI{
		getJob: func(jobID int) (*awx.Job, error) {
			return &awx.Job{ID: jobID, Status: "successful"}, nil
		},
	}

	out, err := newTestBridge(api).Execute(context.Background(), "jobs.diagnose", map[string]string{"job_id": "5"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(out.Diagnosis.FailedTasks) != 0 {
		t.Errorf("failed tasks reported for a successful job: %+v", out.Diagnosis)
	}
}

// fakeRunner scripts the worker offload.
type fakeRunner struct {
	enabled bool
	result  json.RawMessage
	err     error
	tasks   []taskrunner.Task
}

func (f *fakeRunner) Enabled() bool { return f.enabled }
func (f *fakeRunner) Run(_ context.Context, task taskrunner.Task) (json.RawMessage, error) {
	f.tasks = append(f.tasks, task)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func TestExecute_DiagnoseOffloadsToWorker(t *testing.T) {
	runner := &fakeRunner{
		enabled: true,
		result: json.RawMessage(`{
			"job": {"id": 12, "status": "failed", "failed": true},
			"failed_tasks": [{"play": "site", "task": "Install nginx", "host": "web1"}],
			"analysis": {"category": "module_failure", "failed_events": 1},
			"summary": "Job 12 failed on 1 task(s)."
		}`),
	}
	// The fake API scripts nothing: with the worker handling the job, no
	// AWX call may happen.
	b := newTestBridge(&fakeAPI{}).WithTaskRunner(runner)

	out, err := b.Execute(context.Background(), "jobs.diagnose", map[string]string{"job_id": "12"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(runner.tasks) != 1 || runner.tasks[0].Type != "job_diagnose" {
		t.Fatalf("tasks = %+v", runner.tasks)
	}
	if runner.tasks[0].Params["job_id"] != 12 {
		t.Errorf("params = %+v", runner.tasks[0].Params)
	}
	diag := out.Diagnosis
	if diag == nil || diag.Job == nil || diag.Job.ID != 12 {
		t.Fatalf("diagnosis = %+v", diag)
	}
	if diag.Analysis == nil || diag.Analysis.Category != analysis.CategoryModuleFailure {
		t.Errorf("analysis = %+v", diag.Analysis)
	}
}

func TestExecute_DiagnoseWorkerFailureFallsBackInProcess(t *testing.T) {
	runner := &fakeRunner{enabled: true, err: errors.New("image pull failed")}
	api := &fakeAPI{
		getJob: func(jobID int) (*awx.Job, error) {
			return &awx.Job{ID: jobID, Status: "failed", Failed: true}, nil
		},
		jobEvents: func(jobID int, failedOnly bool, pageSize int) ([]awx.JobEvent, error) {
			return []awx.JobEvent{{Failed: true, Task: "Copy config", Host: "web1"}}, nil
		},
	}

	out, err := newTestBridge(api).WithTaskRunner(runner).Execute(
		context.Background(), "jobs.diagnose", map[string]string{"job_id": "5"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(out.Diagnosis.FailedTasks) != 1 {
		t.Errorf("fallback diagnosis = %+v", out.Diagnosis)
	}
}

func TestExecute_DiagnoseSkipsDisabledRunner(t *testing.T) {
	runner := &fakeRunner{enabled: false}
	api := &fakeAPI{
		getJob: func(jobID int) (*awx.Job, error) {
			return &awx.Job{ID: jobID, Status: "successful"}, nil
		},
	}

	if _, err := newTestBridge(api).WithTaskRunner(runner).Execute(
		context.Background(), "jobs.diagnose", map[string]string{"job_id": "5"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(runner.tasks) != 0 {
		t.Errorf("disabled runner received work: %+v", runner.tasks)
	}
}

func TestExecute_ListOpsPassFilterAndPaging(t *testing.T) {
	var got awx.ListOptions
	record := func(opts awx.ListOptions) { got = opts }
	api := &fakeAPI{
		listTemplates: func(opts awx.ListOptions) ([]awx.JobTemplate, error) {
			record(opts)
			return []awx.JobTemplate{{ID: 1, Name: "web-deploy"}}, nil
		},
		listProjects: func(opts awx.ListOptions) ([]awx.Project, error) {
			record(opts)
			return nil, nil
		},
		listInventories: func(opts awx.ListOptions) ([]awx.Inventory, error) {
			record(opts)
			return nil, nil
		},
	}
	b := newTestBridge(api)
	args := map[string]string{"filter": "web", "page": "2", "page_size": "10"}

	for _, op := range []string{"templates.list", "projects.list", "inventories.list"} {
		got = awx.ListOptions{}
		if _, err := b.Execute(context.Background(), op, args); err != nil {
			t.Fatalf("%s: %v", op, err)
		}
		if got.NameFilter != "web" || got.Page != 2 || got.PageSize != 10 {
			t.Errorf("%s options = %+v", op, got)
		}
	}

	// Unset paging falls back to the first page of a sane size.
	if _, err := b.Execute(context.Background(), "templates.list", nil); err != nil {
		t.Fatalf("templates.list: %v", err)
	}
	if got.NameFilter != "" || got.Page != 1 || got.PageSize != 25 {
		t.Errorf("default options = %+v", got)
	}
}

func TestExecute_CreateTemplateCarriesLimit(t *testing.T) {
	var got awx.CreateTemplateRequest
	api := &fakeAPI{
		createTemplate: func(req awx.CreateTemplateRequest) (*awx.JobTemplate, error) {
			got = req
			return &awx.JobTemplate{ID: 3, Name: req.Name}, nil
		},
	}

	_, err := newTestBridge(api).Execute(context.Background(), "templates.create", map[string]string{
		"name":      "deploy-web",
		"inventory": "4",
		"project":   "9",
		"playbook":  "site.yml",
		"limit":     "web-servers",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got.Limit != "web-servers" || got.InventoryID != 4 || got.ProjectID != 9 {
		t.Errorf("request = %+v", got)
	}
}

func TestExecute_CreateProjectCarriesOrganization(t *testing.T) {
	var got awx.CreateProjectRequest
	api := &fakeAPI{
		createProject: func(req awx.CreateProjectRequest) (*awx.Project, error) {
			got = req
			return &awx.Project{ID: 8, Name: req.Name}, nil
		},
	}
	b := newTestBridge(api)

	_, err := b.Execute(context.Background(), "projects.create", map[string]string{
		"name":         "infra",
		"organization": "2",
		"scm_type":     "git",
		"scm_url":      "https://git.example.com/infra.git",
		"description":  "infrastructure playbooks",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got.OrganizationID != 2 || got.Description != "infrastructure playbooks" {
		t.Errorf("request = %+v", got)
	}

	// AWX rejects organization-less projects, so the bridge must too.
	_, err = b.Execute(context.Background(), "projects.create", map[string]string{"name": "infra"})
	var tagged *Error
	if !errors.As(err, &tagged) || tagged.Kind != KindValidation {
		t.Fatalf("missing organization: %v", err)
	}
}

func TestMostRecentJobID(t *testing.T) {
	var gotOpts awx.ListJobsOptions
	api := &fakeAPI{
		listJobs: func(opts awx.ListJobsOptions) ([]awx.Job, error) {
			gotOpts = opts
			return []awx.Job{{ID: 77}}, nil
		},
	}
	b := newTestBridge(api)

	id, ok, err := b.MostRecentJobID(context.Background(), true)
	if err != nil || !ok || id != 77 {
		t.Fatalf("MostRecentJobID = (%d, %v, %v)", id, ok, err)
	}
	if gotOpts.Status != "failed" || gotOpts.PageSize != 1 {
		t.Errorf("opts = %+v", gotOpts)
	}

	api.listJobs = func(awx.ListJobsOptions) ([]awx.Job, error) { return nil, nil }
	if _, ok, err := b.MostRecentJobID(context.Background(), false); ok || err != nil {
		t.Errorf("empty list: ok=%v err=%v", ok, err)
	}
}

// fakeEnvOps scripts the environment manager surface.
type fakeEnvOps struct {
	active *environments.Environment
	used   string
}

func (f *fakeEnvOps) List(context.Context) ([]environments.Environment, error) {
	return []environments.Environment{{Name: "prod", Active: true}, {Name: "staging"}}, nil
}
func (f *fakeEnvOps) Active(context.Context) (*environments.Environment, error) {
	if f.active == nil {
		return nil, environments.ErrNoEnvironment
	}
	return f.active, nil
}
func (f *fakeEnvOps) Use(_ context.Context, name string) error {
	if name != "prod" && name != "staging" {
		return fmt.Errorf("environment %q: %w", name, store.ErrNotFound)
	}
	f.used = name
	return nil
}
func (f *fakeEnvOps) Test(_ context.Context, name string) (*environments.TestResult, error) {
	return &environments.TestResult{Name: name, Reachable: true}, nil
}

func TestExecute_EnvironmentOperations(t *testing.T) {
	envs := &fakeEnvOps{active: &environments.Environment{Name: "prod", Active: true}}
	b := New(func(context.Context) (API, error) { return &fakeAPI{}, nil }, envs)
	ctx := context.Background()

	out, err := b.Execute(ctx, "env.list", nil)
	if err != nil || len(out.Environments) != 2 {
		t.Fatalf("env.list: %v %+v", err, out)
	}

	out, err = b.Execute(ctx, "env.active", nil)
	if err != nil || out.Environment == nil || out.Environment.Name != "prod" {
		t.Fatalf("env.active: %v %+v", err, out)
	}

	out, err = b.Execute(ctx, "env.use", map[string]string{"env_name": "staging"})
	if err != nil || envs.used != "staging" {
		t.Fatalf("env.use: %v (used=%q)", err, envs.used)
	}
	if out.Message == "" {
		t.Error("env.use produced no confirmation")
	}

	_, err = b.Execute(ctx, "env.use", map[string]string{"env_name": "nope"})
	var tagged *Error
	if !errors.As(err, &tagged) || tagged.Kind != KindNotFound {
		t.Fatalf("env.use unknown: %v", err)
	}
}

func TestExecute_NoActiveEnvironmentIsNotFound(t *testing.T) {
	b := New(func(context.Context) (API, error) { return &fakeAPI{}, nil }, &fakeEnvOps{})

	_, err := b.Execute(context.Background(), "env.active", nil)
	var tagged *Error
	if !errors.As(err, &tagged) || tagged.Kind != KindNotFound {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestExecute_UnsupportedOperation(t *testing.T) {
	b := newTestBridge(&fakeAPI{})

	_, err := b.Execute(context.Background(), "nonsense.op", nil)
	var tagged *Error
	if !errors.As(err, &tagged) || tagged.Kind != KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestExecute_SystemInfoAggregates(t *testing.T) {
	api := &fakeAPI{dashboard: func() (map[string]any, error) {
		return map[string]any{"hosts": map[string]any{"total": 12.0}}, nil
	}}

	out, err := newTestBridge(api).Execute(context.Background(), "system.info", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Fields["version"] != "24.6.1" || out.Fields["user"] != "towa" {
		t.Errorf("fields = %+v", out.Fields)
	}
	if _, ok := out.Fields["hosts"]; !ok {
		t.Errorf("dashboard counters missing: %+v", out.Fields)
	}
}
