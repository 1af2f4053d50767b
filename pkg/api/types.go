package api

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TriggerRequest starts a run. Empty fields fall back to the pipeline
// definition's params.
type TriggerRequest struct {
	ProjectKey   string `json:"project_key"`
	ExecutionKey string `json:"execution_key"`
	Recipients   string `json:"recipients"`
	Token        string `json:"token"`
	ReportFormat string `json:"report_format"`
}

type TriggerResponse struct {
	RunID  string `json:"run_id"`
	Queued bool   `json:"queued"`
}
