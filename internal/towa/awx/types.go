package awx

import "time"

// Job is a single job run returned by the jobs endpoints.
type Job struct {
	ID             int        `json:"id"`
	Name           string     `json:"name"`
	Status         string     `json:"status"`
	Failed         bool       `json:"failed"`
	TemplateID     int        `json:"job_template"`
	Playbook       string     `json:"playbook"`
	Created        time.Time  `json:"created"`
	Started        *time.Time `json:"started"`
	Finished       *time.Time `json:"finished"`
	Elapsed        float64    `json:"elapsed"`
	ExtraVars      string     `json:"extra_vars"`
	JobExplanation string     `json:"job_explanation"`
}

// JobTemplate describes a launchable template.
type JobTemplate struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	JobType     string `json:"job_type"`
	Inventory   int    `json:"inventory"`
	Project     int    `json:"project"`
	Playbook    string `json:"playbook"`
}

// Project is a source-control backed playbook collection.
type Project struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	SCMType   string `json:"scm_type"`
	SCMURL    string `json:"scm_url"`
	SCMBranch string `json:"scm_branch"`
	Status    string `json:"status"`
}

// Inventory is a collection of managed hosts.
type Inventory struct {
	ID           int    `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	Organization int    `json:"organization"`
	TotalHosts   int    `json:"total_hosts"`
}

// JobEvent is one line of a job's event stream.
type JobEvent struct {
	ID        int            `json:"id"`
	Event     string         `json:"event"`
	Task      string         `json:"task"`
	Play      string         `json:"play"`
	Host      string         `json:"host_name"`
	Failed    bool           `json:"failed"`
	Changed   bool           `json:"changed"`
	Stdout    string         `json:"stdout"`
	EventData map[string]any `json:"event_data"`
}

// ProjectUpdate tracks an in-flight SCM sync.
type ProjectUpdate struct {
	ID       int    `json:"id"`
	Status   string `json:"status"`
	Finished *time.Time `json:"finished"`
}
