package api

type RunBrief struct {
	RunID        string `json:"run_id"`
	Status       string `json:"status"`       // running, success, failed
	TriggerType  string `json:"trigger_type"` // manual, cron, webhook
	ProjectKey   string `json:"project_key"`
	ExecutionKey string `json:"execution_key"`
	FailedStage  string `json:"failed_stage,omitempty"`
	ErrorKind    string `json:"error_kind,omitempty"`
	StartTime    string `json:"start_time"`
	EndTime      string `json:"end_time,omitempty"`
}

type StageDetail struct {
	Stage     string `json:"stage"`
	Status    string `json:"status"`
	ExitCode  int    `json:"exit_code"`
	Tail      string `json:"tail,omitempty"`
	StartTime string `json:"start_time,omitempty"`
	EndTime   string `json:"end_time,omitempty"`
}

type RunDetail struct {
	RunBrief
	Params      string        `json:"params"`
	Error       string        `json:"error,omitempty"`
	ArchivePath string        `json:"archive_path,omitempty"`
	Stages      []StageDetail `json:"stages"`
}
