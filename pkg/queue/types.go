package queue

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const RUN_EXECUTE = "pipeline:run"

const (
	TriggerManual  = "manual"
	TriggerCron    = "cron"
	TriggerWebhook = "webhook"
)

const (
	FormatHTML = "html"
	FormatPDF  = "pdf"
	FormatBoth = "both"
)

const (
	FetchModeData   = "data"
	FetchModeMarker = "marker"
)

// Params are the trigger-time parameters of a run. Immutable once the run
// has been accepted.
type Params struct {
	ProjectKey   string `json:"project_key" yaml:"project_key"`
	ExecutionKey string `json:"execution_key" yaml:"execution_key"`
	Recipients   string `json:"recipients" yaml:"recipients"`
	TriggerToken string `json:"trigger_token,omitempty" yaml:"-"`
	ReportFormat string `json:"report_format" yaml:"report_format"`
}

func (p Params) Validate() error {
	if strings.TrimSpace(p.ProjectKey) == "" {
		return fmt.Errorf("project key is required")
	}
	if strings.TrimSpace(p.ExecutionKey) == "" {
		return fmt.Errorf("execution key is required")
	}
	switch p.ReportFormat {
	case FormatHTML, FormatPDF, FormatBoth:
	default:
		return fmt.Errorf("report format %q: want html, pdf or both", p.ReportFormat)
	}
	return nil
}

// WithDefaults fills empty fields from def.
func (p Params) WithDefaults(def Params) Params {
	if p.ProjectKey == "" {
		p.ProjectKey = def.ProjectKey
	}
	if p.ExecutionKey == "" {
		p.ExecutionKey = def.ExecutionKey
	}
	if p.Recipients == "" {
		p.Recipients = def.Recipients
	}
	if p.ReportFormat == "" {
		p.ReportFormat = def.ReportFormat
	}
	if p.ReportFormat == "" {
		p.ReportFormat = FormatHTML
	}
	return p
}

// RunRequest is the payload queued for the executor.
type RunRequest struct {
	RunID       string `json:"run_id"`
	TriggerType string `json:"trigger_type"`
	Params      Params `json:"params"`
}

type Trigger struct {
	Cron    string `yaml:"cron,omitempty"`
	Webhook string `yaml:"webhook,omitempty"`
}

// StageCommand is the external invocation of a stage. Command is program
// plus arguments; Shell, when set, runs through the platform shell instead.
type StageCommand struct {
	Command []string      `yaml:"command,omitempty"`
	Shell   string        `yaml:"shell,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

func (c StageCommand) IsZero() bool {
	return len(c.Command) == 0 && c.Shell == ""
}

type CheckoutStage struct {
	RepoURL string `yaml:"repo_url,omitempty"`
	Ref     string `yaml:"ref,omitempty"`
	Depth   int    `yaml:"depth,omitempty"`
}

type ProvisionStage struct {
	RuntimeDir string        `yaml:"runtime_dir"`
	Python     string        `yaml:"python"`
	Manifest   string        `yaml:"manifest"`
	VerifyPins bool          `yaml:"verify_pins"`
	Timeout    time.Duration `yaml:"timeout,omitempty"`
}

type FetchStage struct {
	StageCommand `yaml:",inline"`
	Mode         string `yaml:"mode"`
	DataPath     string `yaml:"data_path"`

	// ExportURLTemplate is the RTM export endpoint used in marker mode, with
	// {base}, {project}, {test_exec} and {format} placeholders.
	ExportURLTemplate string `yaml:"export_url_template,omitempty"`
	// nil leaves TLS verification to the script
	VerifySSL *bool `yaml:"verify_ssl,omitempty"`
}

type RenderStage struct {
	StageCommand `yaml:",inline"`
	ReportDir    string `yaml:"report_dir"`
	HTMLPath     string `yaml:"html_path"`
	PDFPath      string `yaml:"pdf_path"`
}

type PublishStage struct {
	StageCommand `yaml:",inline"`
	Enabled      *bool  `yaml:"enabled,omitempty"`
	Space        string `yaml:"space"`
	Title        string `yaml:"title"`
	ParentID     string `yaml:"parent_id,omitempty"`
}

type NotifyStage struct {
	StageCommand `yaml:",inline"`
	Enabled      *bool  `yaml:"enabled,omitempty"`
	SMTPHost     string `yaml:"smtp_host"`
	SMTPPort     int    `yaml:"smtp_port"`
	From         string `yaml:"from"`
	Subject      string `yaml:"subject"`
	Body         string `yaml:"body"`
	Cc           string `yaml:"cc,omitempty"`
	Bcc          string `yaml:"bcc,omitempty"`
	PageURL      string `yaml:"page_url,omitempty"`
}

type Stages struct {
	Checkout  CheckoutStage  `yaml:"checkout"`
	Provision ProvisionStage `yaml:"provision"`
	Fetch     FetchStage     `yaml:"fetch"`
	Render    RenderStage    `yaml:"render"`
	Publish   PublishStage   `yaml:"publish"`
	Notify    NotifyStage    `yaml:"notify"`
}

// PipelineConfig is the pipeline definition file.
type PipelineConfig struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Triggers    []Trigger `yaml:"triggers"`
	Params      Params    `yaml:"params"` // defaults for cron and partial triggers
	Stages      Stages    `yaml:"stages"`
}

func boolPtr(b bool) *bool { return &b }

// Enabled reports whether an optional stage should run; unset means yes.
func Enabled(flag *bool) bool {
	return flag == nil || *flag
}

// ApplyDefaults fills the definition with the conventional script layout.
func (c *PipelineConfig) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "rtm-report"
	}
	s := &c.Stages
	if s.Provision.RuntimeDir == "" {
		s.Provision.RuntimeDir = ".venv"
	}
	if s.Provision.Python == "" {
		s.Provision.Python = "python3"
	}
	if s.Provision.Manifest == "" {
		s.Provision.Manifest = "requirements.txt"
	}
	if s.Fetch.Mode == "" {
		s.Fetch.Mode = FetchModeData
	}
	if s.Fetch.DataPath == "" {
		// generate_rtm_report.py 固定读取该路径
		s.Fetch.DataPath = "data/rtm_data.json"
	}
	if s.Fetch.IsZero() {
		if s.Fetch.Mode == FetchModeMarker {
			s.Fetch.Command = []string{"${PYTHON}", "scripts/rtm_export.py",
				"--rtm-project", "${PROJECT_KEY}", "--test-exec", "${EXECUTION_KEY}",
				"--format", "${REPORT_FORMAT}", "--outdir", "report"}
		} else {
			s.Fetch.Command = []string{"${PYTHON}", "scripts/fetch_rtm_data.py"}
		}
	}
	if s.Render.ReportDir == "" {
		s.Render.ReportDir = "report"
	}
	if s.Render.HTMLPath == "" {
		s.Render.HTMLPath = s.Render.ReportDir + "/rtm_report.html"
	}
	if s.Render.PDFPath == "" {
		s.Render.PDFPath = s.Render.ReportDir + "/rtm_report.pdf"
	}
	// the export variant downloads a finished report, nothing to render
	if s.Render.IsZero() && s.Fetch.Mode == FetchModeData {
		s.Render.Command = []string{"${PYTHON}", "scripts/generate_rtm_report.py"}
	}
	if s.Publish.IsZero() {
		s.Publish.Command = []string{"${PYTHON}", "scripts/confluence_publish.py"}
	}
	if s.Publish.Space == "" {
		s.Publish.Space = "DEMO"
	}
	if s.Publish.Title == "" {
		s.Publish.Title = "RTM Test Execution Report"
	}
	if s.Notify.IsZero() {
		s.Notify.Command = []string{"${PYTHON}", "scripts/send_email.py"}
	}
	if s.Notify.SMTPPort == 0 {
		s.Notify.SMTPPort = 587
	}
	if s.Notify.Subject == "" {
		s.Notify.Subject = "RTM Test Execution Report - ${PROJECT_KEY} ${EXECUTION_KEY}"
	}
	if s.Notify.Body == "" {
		s.Notify.Body = "The RTM test execution report for ${PROJECT_KEY} / ${EXECUTION_KEY} is attached."
	}
	if s.Publish.Enabled == nil {
		s.Publish.Enabled = boolPtr(true)
	}
	if s.Notify.Enabled == nil {
		s.Notify.Enabled = boolPtr(true)
	}
}

func (c *PipelineConfig) Validate() error {
	switch c.Stages.Fetch.Mode {
	case FetchModeData, FetchModeMarker:
	default:
		return fmt.Errorf("stages.fetch.mode %q: want data or marker", c.Stages.Fetch.Mode)
	}
	if c.Params.ReportFormat != "" {
		switch c.Params.ReportFormat {
		case FormatHTML, FormatPDF, FormatBoth:
		default:
			return fmt.Errorf("params.report_format %q: want html, pdf or both", c.Params.ReportFormat)
		}
	}
	if c.Stages.Fetch.Mode == FetchModeMarker && c.Params.ReportFormat == FormatBoth {
		return fmt.Errorf("params.report_format both: marker export takes html or pdf")
	}
	return nil
}

// ValidateParams checks run parameters against what this pipeline can
// produce. The marker export downloads one format per run.
func (c *PipelineConfig) ValidateParams(p Params) error {
	if c.Stages.Fetch.Mode == FetchModeMarker && p.ReportFormat == FormatBoth {
		return fmt.Errorf("report_format both is not supported in marker mode; use html or pdf")
	}
	return nil
}

func ParsePipelineConfig(yamlContent string) (*PipelineConfig, error) {
	var config PipelineConfig
	if err := yaml.Unmarshal([]byte(yamlContent), &config); err != nil {
		return nil, err
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// LoadPipelineConfig reads the definition file. A missing file yields the
// default layout.
func LoadPipelineConfig(path string) (*PipelineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ParsePipelineConfig("")
		}
		return nil, fmt.Errorf("reading pipeline %s: %w", path, err)
	}
	cfg, err := ParsePipelineConfig(string(data))
	if err != nil {
		return nil, fmt.Errorf("parsing pipeline %s: %w", path, err)
	}
	return cfg, nil
}
