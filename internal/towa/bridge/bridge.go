// Package bridge executes fully-resolved operations against AWX and
// normalizes every outcome into a shape the presenter can render.
//
// Operation arguments arrive as the flat string map produced by the dialog
// layer; the bridge is where they become typed API calls. All failures are
// classified into a closed set of kinds (see errors.go), with retry
// wrappers unwrapped so the reported kind reflects the underlying cause.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/bdobrica/Towa/internal/towa/analysis"
	"github.com/bdobrica/Towa/internal/towa/awx"
	"github.com/bdobrica/Towa/internal/towa/environments"
	"github.com/bdobrica/Towa/internal/towa/store"
	"github.com/bdobrica/Towa/internal/towa/taskrunner"
)

// API is the slice of the AWX client the bridge drives. *awx.Client
// satisfies it.
type API interface {
	Ping(ctx context.Context) error
	Me(ctx context.Context) (*awx.MeResponse, error)
	InstanceInfo(ctx context.Context) (*awx.InstanceConfig, error)
	Dashboard(ctx context.Context) (map[string]any, error)

	LaunchJob(ctx context.Context, templateID int, opts awx.LaunchOptions) (*awx.Job, error)
	GetJob(ctx context.Context, jobID int) (*awx.Job, error)
	ListJobs(ctx context.Context, opts awx.ListJobsOptions) ([]awx.Job, error)
	CancelJob(ctx context.Context, jobID int) error
	DeleteJob(ctx context.Context, jobID int) error
	JobStdout(ctx context.Context, jobID int, format string, tailLines int) (string, error)
	JobEvents(ctx context.Context, jobID int, failedOnly bool, pageSize int) ([]awx.JobEvent, error)

	ListTemplates(ctx context.Context, opts awx.ListOptions) ([]awx.JobTemplate, error)
	CreateTemplate(ctx context.Context, req awx.CreateTemplateRequest) (*awx.JobTemplate, error)
	DeleteTemplate(ctx context.Context, templateID int) error

	ListProjects(ctx context.Context, opts awx.ListOptions) ([]awx.Project, error)
	CreateProject(ctx context.Context, req awx.CreateProjectRequest) (*awx.Project, error)
	DeleteProject(ctx context.Context, projectID int) error
	UpdateProject(ctx context.Context, projectID int, wait bool) (*awx.ProjectUpdate, error)

	ListInventories(ctx context.Context, opts awx.ListOptions) ([]awx.Inventory, error)
	CreateInventory(ctx context.Context, name, description string, organizationID int) (*awx.Inventory, error)
	DeleteInventory(ctx context.Context, inventoryID int) error
}

// ClientSource yields an API bound to the currently active environment.
// Called per operation so environment switches take effect immediately.
type ClientSource func(ctx context.Context) (API, error)

// EnvOps is the environment-management surface the bridge needs.
// *environments.Manager satisfies it.
type EnvOps interface {
	List(ctx context.Context) ([]environments.Environment, error)
	Active(ctx context.Context) (*environments.Environment, error)
	Use(ctx context.Context, name string) error
	Test(ctx context.Context, name string) (*environments.TestResult, error)
}

// FailedTask is one failing step extracted from a job's event stream.
type FailedTask struct {
	Play   string `json:"play"`
	Task   string `json:"task"`
	Host   string `json:"host"`
	Stdout string `json:"stdout"`
}

// Diagnosis is the result of jobs.diagnose: the job record, its failing
// tasks, and a categorized root-cause verdict. The JSON tags define the
// document an offloaded diagnostic worker prints as its result.
type Diagnosis struct {
	Job         *awx.Job           `json:"job"`
	FailedTasks []FailedTask       `json:"failed_tasks,omitempty"`
	Analysis    *analysis.Analysis `json:"analysis,omitempty"`
	Summary     string             `json:"summary"`
}

// Outcome is a successfully executed operation. Exactly one payload field
// is set, matching the operation; the presenter switches on Operation.
type Outcome struct {
	Operation string

	Job         *awx.Job
	Jobs        []awx.Job
	Templates   []awx.JobTemplate
	Projects    []awx.Project
	Inventories []awx.Inventory
	Events      []awx.JobEvent
	Update      *awx.ProjectUpdate
	Diagnosis   *Diagnosis

	Environments []environments.Environment
	Environment  *environments.Environment
	EnvTest      *environments.TestResult

	// Text carries free-form output (job stdout).
	Text string
	// Message carries a short confirmation for operations with no record
	// to show (cancel, delete).
	Message string
	// Fields is the generic structured payload for catalog-less
	// operations (system.info).
	Fields map[string]any
}

// TaskRunner offloads heavy work to an isolated worker. *taskrunner.Runner
// satisfies it; a disabled runner is consulted and skipped.
type TaskRunner interface {
	Enabled() bool
	Run(ctx context.Context, task taskrunner.Task) (json.RawMessage, error)
}

// Bridge dispatches operation names to API calls.
type Bridge struct {
	source ClientSource
	envs   EnvOps
	runner TaskRunner
}

// New creates a bridge. envs may be nil when environment operations are
// not wired (they will fail as validation errors).
func New(source ClientSource, envs EnvOps) *Bridge {
	return &Bridge{source: source, envs: envs}
}

// WithTaskRunner routes jobs.diagnose through r when r reports itself
// enabled; execution falls back in-process when the worker fails.
func (b *Bridge) WithTaskRunner(r TaskRunner) *Bridge {
	b.runner = r
	return b
}

// Execute runs operation with args. The returned error, when non-nil, is
// always a *Error.
func (b *Bridge) Execute(ctx context.Context, operation string, args map[string]string) (*Outcome, error) {
	if strings.HasPrefix(operation, "env.") {
		return b.executeEnv(ctx, operation, args)
	}

	api, err := b.source(ctx)
	if err != nil {
		return nil, classify(operation, err)
	}

	out, err := b.executeAPI(ctx, api, operation, args)
	if err != nil {
		var tagged *Error
		if errors.As(err, &tagged) {
			return nil, tagged
		}
		return nil, classify(operation, err)
	}
	out.Operation = operation
	out.normalize()
	return out, nil
}

// normalize replaces nil list payloads with empty slices for list
// operations, so "no results" is distinguishable from "no payload".
func (o *Outcome) normalize() {
	switch o.Operation {
	case "jobs.list":
		if o.Jobs == nil {
			o.Jobs = []awx.Job{}
		}
	case "jobs.events":
		if o.Events == nil {
			o.Events = []awx.JobEvent{}
		}
	case "templates.list":
		if o.Templates == nil {
			o.Templates = []awx.JobTemplate{}
		}
	case "projects.list":
		if o.Projects == nil {
			o.Projects = []awx.Project{}
		}
	case "inventories.list":
		if o.Inventories == nil {
			o.Inventories = []awx.Inventory{}
		}
	}
}

func (b *Bridge) executeAPI(ctx context.Context, api API, operation string, args map[string]string) (*Outcome, error) {
	switch operation {
	case "jobs.launch":
		templateID, err := argInt(operation, args, "template_id")
		if err != nil {
			return nil, err
		}
		job, err := api.LaunchJob(ctx, templateID, awx.LaunchOptions{
			ExtraVars: args["extra_vars"],
			Limit:     args["limit"],
			Tags:      args["tags"],
			SkipTags:  args["skip_tags"],
		})
		if err != nil {
			return nil, err
		}
		return &Outcome{Job: job}, nil

	case "jobs.get":
		jobID, err := argInt(operation, args, "job_id")
		if err != nil {
			return nil, err
		}
		job, err := api.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		return &Outcome{Job: job}, nil

	case "jobs.list":
		page, err := argIntDefault(operation, args, "page", 1)
		if err != nil {
			return nil, err
		}
		pageSize, err := argIntDefault(operation, args, "page_size", 25)
		if err != nil {
			return nil, err
		}
		jobs, err := api.ListJobs(ctx, awx.ListJobsOptions{
			Status:   args["status"],
			Page:     page,
			PageSize: pageSize,
		})
		if err != nil {
			return nil, err
		}
		return &Outcome{Jobs: jobs}, nil

	case "jobs.cancel":
		jobID, err := argInt(operation, args, "job_id")
		if err != nil {
			return nil, err
		}
		if err := api.CancelJob(ctx, jobID); err != nil {
			return nil, err
		}
		return &Outcome{Message: fmt.Sprintf("Cancellation requested for job %d.", jobID)}, nil

	case "jobs.delete":
		jobID, err := argInt(operation, args, "job_id")
		if err != nil {
			return nil, err
		}
		if err := api.DeleteJob(ctx, jobID); err != nil {
			return nil, err
		}
		return &Outcome{Message: fmt.Sprintf("Job %d deleted.", jobID)}, nil

	case "jobs.stdout":
		jobID, err := argInt(operation, args, "job_id")
		if err != nil {
			return nil, err
		}
		tail, err := argIntDefault(operation, args, "tail_lines", 0)
		if err != nil {
			return nil, err
		}
		text, err := api.JobStdout(ctx, jobID, args["format"], tail)
		if err != nil {
			return nil, err
		}
		return &Outcome{Text: text}, nil

	case "jobs.events":
		jobID, err := argInt(operation, args, "job_id")
		if err != nil {
			return nil, err
		}
		pageSize, err := argIntDefault(operation, args, "page_size", 100)
		if err != nil {
			return nil, err
		}
		failedOnly := strings.EqualFold(args["failed_only"], "true")
		events, err := api.JobEvents(ctx, jobID, failedOnly, pageSize)
		if err != nil {
			return nil, err
		}
		return &Outcome{Events: events}, nil

	case "jobs.diagnose":
		jobID, err := argInt(operation, args, "job_id")
		if err != nil {
			return nil, err
		}
		diag, err := b.diagnose(ctx, api, jobID)
		if err != nil {
			return nil, err
		}
		return &Outcome{Diagnosis: diag}, nil

	case "templates.list":
		opts, err := listOptions(operation, args)
		if err != nil {
			return nil, err
		}
		templates, err := api.ListTemplates(ctx, opts)
		if err != nil {
			return nil, err
		}
		return &Outcome{Templates: templates}, nil

	case "templates.create":
		inventoryID, err := argInt(operation, args, "inventory")
		if err != nil {
			return nil, err
		}
		projectID, err := argInt(operation, args, "project")
		if err != nil {
			return nil, err
		}
		tpl, err := api.CreateTemplate(ctx, awx.CreateTemplateRequest{
			Name:        args["name"],
			Description: args["description"],
			JobType:     args["job_type"],
			InventoryID: inventoryID,
			ProjectID:   projectID,
			Playbook:    args["playbook"],
			Limit:       args["limit"],
		})
		if err != nil {
			return nil, err
		}
		return &Outcome{Templates: []awx.JobTemplate{*tpl}}, nil

	case "templates.delete":
		templateID, err := argInt(operation, args, "template_id")
		if err != nil {
			return nil, err
		}
		if err := api.DeleteTemplate(ctx, templateID); err != nil {
			return nil, err
		}
		return &Outcome{Message: fmt.Sprintf("Template %d deleted.", templateID)}, nil

	case "projects.list":
		opts, err := listOptions(operation, args)
		if err != nil {
			return nil, err
		}
		projects, err := api.ListProjects(ctx, opts)
		if err != nil {
			return nil, err
		}
		return &Outcome{Projects: projects}, nil

	case "projects.create":
		orgID, err := argInt(operation, args, "organization")
		if err != nil {
			return nil, err
		}
		p, err := api.CreateProject(ctx, awx.CreateProjectRequest{
			Name:           args["name"],
			Description:    args["description"],
			OrganizationID: orgID,
			SCMType:        args["scm_type"],
			SCMURL:         args["scm_url"],
			SCMBranch:      args["scm_branch"],
		})
		if err != nil {
			return nil, err
		}
		return &Outcome{Projects: []awx.Project{*p}}, nil

	case "projects.delete":
		projectID, err := argInt(operation, args, "project_id")
		if err != nil {
			return nil, err
		}
		if err := api.DeleteProject(ctx, projectID); err != nil {
			return nil, err
		}
		return &Outcome{Message: fmt.Sprintf("Project %d deleted.", projectID)}, nil

	case "projects.update":
		projectID, err := argInt(operation, args, "project_id")
		if err != nil {
			return nil, err
		}
		wait := !strings.EqualFold(args["wait"], "false")
		update, err := api.UpdateProject(ctx, projectID, wait)
		if err != nil {
			return nil, err
		}
		return &Outcome{Update: update}, nil

	case "inventories.list":
		opts, err := listOptions(operation, args)
		if err != nil {
			return nil, err
		}
		inventories, err := api.ListInventories(ctx, opts)
		if err != nil {
			return nil, err
		}
		return &Outcome{Inventories: inventories}, nil

	case "inventories.create":
		orgID, err := argIntDefault(operation, args, "organization", 1)
		if err != nil {
			return nil, err
		}
		inv, err := api.CreateInventory(ctx, args["name"], args["description"], orgID)
		if err != nil {
			return nil, err
		}
		return &Outcome{Inventories: []awx.Inventory{*inv}}, nil

	case "inventories.delete":
		inventoryID, err := argInt(operation, args, "inventory_id")
		if err != nil {
			return nil, err
		}
		if err := api.DeleteInventory(ctx, inventoryID); err != nil {
			return nil, err
		}
		return &Outcome{Message: fmt.Sprintf("Inventory %d deleted.", inventoryID)}, nil

	case "system.info":
		return b.systemInfo(ctx, api)

	default:
		return nil, &Error{
			Kind:      KindValidation,
			Operation: operation,
			Err:       fmt.Errorf("operation %q is not supported", operation),
		}
	}
}

// diagnose composes a job record with its failing events into a report.
// Event streams of big jobs can run to tens of thousands of records, so
// when a task runner is configured the whole analysis happens in a worker
// container; any worker failure falls back to the in-process path.
func (b *Bridge) diagnose(ctx context.Context, api API, jobID int) (*Diagnosis, error) {
	if b.runner != nil && b.runner.Enabled() {
		diag, err := b.offloadDiagnose(ctx, jobID)
		if err == nil {
			return diag, nil
		}
		slog.Warn("diagnose worker failed, analyzing in-process", "job_id", jobID, "err", err)
	}

	job, err := api.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	diag := &Diagnosis{Job: job}
	if !job.Failed && job.Status != "failed" && job.Status != "error" {
		diag.Summary = fmt.Sprintf("Job %d finished with status %q; nothing to diagnose.", jobID, job.Status)
		return diag, nil
	}

	events, err := api.JobEvents(ctx, jobID, true, 200)
	if err != nil {
		// The job record alone is still a useful answer.
		diag.Summary = fmt.Sprintf("Job %d failed; event stream unavailable (%v).", jobID, err)
		return diag, nil
	}

	for _, ev := range events {
		if !ev.Failed {
			continue
		}
		diag.FailedTasks = append(diag.FailedTasks, FailedTask{
			Play:   ev.Play,
			Task:   ev.Task,
			Host:   ev.Host,
			Stdout: ev.Stdout,
		})
	}

	if len(diag.FailedTasks) > 0 {
		verdict := analysis.Analyze(events)
		diag.Analysis = &verdict
	}

	switch n := len(diag.FailedTasks); {
	case n == 0 && job.JobExplanation != "":
		diag.Summary = job.JobExplanation
	case n == 0:
		diag.Summary = fmt.Sprintf("Job %d failed but no failing task was recorded.", jobID)
	default:
		diag.Summary = fmt.Sprintf("Job %d failed on %d task(s); first failure: %q.",
			jobID, n, diag.FailedTasks[0].Task)
	}
	return diag, nil
}

// offloadDiagnose runs the failure analysis in a worker container and
// decodes the Diagnosis document it prints.
func (b *Bridge) offloadDiagnose(ctx context.Context, jobID int) (*Diagnosis, error) {
	raw, err := b.runner.Run(ctx, taskrunner.Task{
		Type:   "job_diagnose",
		Params: map[string]any{"job_id": jobID},
	})
	if err != nil {
		return nil, err
	}

	var diag Diagnosis
	if err := json.Unmarshal(raw, &diag); err != nil {
		return nil, fmt.Errorf("decode worker result: %w", err)
	}
	if diag.Job == nil {
		return nil, errors.New("worker result carries no job record")
	}
	return &diag, nil
}

// systemInfo aggregates instance identity, configuration, and dashboard
// counters into a generic payload.
func (b *Bridge) systemInfo(ctx context.Context, api API) (*Outcome, error) {
	fields := map[string]any{}

	if info, err := api.InstanceInfo(ctx); err == nil {
		fields["version"] = info.Version
	}
	if me, err := api.Me(ctx); err == nil {
		fields["user"] = me.Username
	}
	dashboard, err := api.Dashboard(ctx)
	if err != nil {
		return nil, err
	}
	for k, v := range dashboard {
		fields[k] = v
	}
	return &Outcome{Fields: fields}, nil
}

func (b *Bridge) executeEnv(ctx context.Context, operation string, args map[string]string) (*Outcome, error) {
	if b.envs == nil {
		return nil, &Error{
			Kind:      KindValidation,
			Operation: operation,
			Err:       errors.New("environment management is not configured"),
		}
	}

	switch operation {
	case "env.list":
		envs, err := b.envs.List(ctx)
		if err != nil {
			return nil, classifyEnv(operation, err)
		}
		return &Outcome{Operation: operation, Environments: envs}, nil

	case "env.active":
		env, err := b.envs.Active(ctx)
		if err != nil {
			return nil, classifyEnv(operation, err)
		}
		return &Outcome{Operation: operation, Environment: env}, nil

	case "env.use":
		name := strings.TrimSpace(args["env_name"])
		if err := b.envs.Use(ctx, name); err != nil {
			return nil, classifyEnv(operation, err)
		}
		return &Outcome{Operation: operation, Message: fmt.Sprintf("Switched to environment %q.", name)}, nil

	case "env.test":
		result, err := b.envs.Test(ctx, strings.TrimSpace(args["env_name"]))
		if err != nil {
			return nil, classifyEnv(operation, err)
		}
		return &Outcome{Operation: operation, EnvTest: result}, nil

	default:
		return nil, &Error{
			Kind:      KindValidation,
			Operation: operation,
			Err:       fmt.Errorf("operation %q is not supported", operation),
		}
	}
}

// classifyEnv maps environment-manager failures onto kinds.
func classifyEnv(operation string, err error) *Error {
	switch {
	case errors.Is(err, environments.ErrNoEnvironment), errors.Is(err, store.ErrNotFound):
		return &Error{Kind: KindNotFound, Operation: operation, Err: err}
	default:
		return classify(operation, err)
	}
}

// MostRecentJobID implements the advisor's discovery capability: the newest
// job, optionally restricted to failures.
func (b *Bridge) MostRecentJobID(ctx context.Context, failedOnly bool) (int, bool, error) {
	api, err := b.source(ctx)
	if err != nil {
		return 0, false, err
	}

	opts := awx.ListJobsOptions{PageSize: 1}
	if failedOnly {
		opts.Status = "failed"
	}
	jobs, err := api.ListJobs(ctx, opts)
	if err != nil {
		return 0, false, err
	}
	if len(jobs) == 0 {
		return 0, false, nil
	}
	return jobs[0].ID, true, nil
}

// --- argument helpers ---

// listOptions maps the shared list-operation parameters (filter, page,
// page_size) onto client options.
func listOptions(operation string, args map[string]string) (awx.ListOptions, error) {
	page, err := argIntDefault(operation, args, "page", 1)
	if err != nil {
		return awx.ListOptions{}, err
	}
	pageSize, err := argIntDefault(operation, args, "page_size", 25)
	if err != nil {
		return awx.ListOptions{}, err
	}
	return awx.ListOptions{
		NameFilter: strings.TrimSpace(args["filter"]),
		Page:       page,
		PageSize:   pageSize,
	}, nil
}

func argInt(operation string, args map[string]string, field string) (int, error) {
	raw := strings.TrimSpace(args[field])
	if raw == "" {
		return 0, badArg(operation, field, raw)
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badArg(operation, field, raw)
	}
	return n, nil
}

func argIntDefault(operation string, args map[string]string, field string, def int) (int, error) {
	raw := strings.TrimSpace(args[field])
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badArg(operation, field, raw)
	}
	return n, nil
}
