package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePipelineConfig_Defaults(t *testing.T) {
	cfg, err := ParsePipelineConfig("")
	require.NoError(t, err)

	assert.Equal(t, "rtm-report", cfg.Name)
	assert.Equal(t, FetchModeData, cfg.Stages.Fetch.Mode)
	assert.Equal(t, "data/rtm_data.json", cfg.Stages.Fetch.DataPath)
	assert.Equal(t, []string{"${PYTHON}", "scripts/fetch_rtm_data.py"}, cfg.Stages.Fetch.Command)
	assert.Equal(t, "report/rtm_report.html", cfg.Stages.Render.HTMLPath)
	assert.False(t, cfg.Stages.Render.IsZero())
	assert.True(t, Enabled(cfg.Stages.Publish.Enabled))
	assert.Equal(t, 587, cfg.Stages.Notify.SMTPPort)
	assert.Nil(t, cfg.Stages.Fetch.VerifySSL)
}

func TestParsePipelineConfig_MarkerVariant(t *testing.T) {
	cfg, err := ParsePipelineConfig(`
name: rtm-export
triggers:
  - cron: "0 6 * * 1-5"
params:
  project_key: QA
  execution_key: QA-EX-1
  report_format: pdf
stages:
  fetch:
    mode: marker
    timeout: 2m
  publish:
    enabled: false
    space: ENG
`)
	require.NoError(t, err)

	assert.Equal(t, "0 6 * * 1-5", cfg.Triggers[0].Cron)
	assert.Equal(t, 2*time.Minute, cfg.Stages.Fetch.Timeout)
	assert.Contains(t, cfg.Stages.Fetch.Command, "scripts/rtm_export.py")
	assert.True(t, cfg.Stages.Render.IsZero())
	assert.False(t, Enabled(cfg.Stages.Publish.Enabled))
	assert.Equal(t, "ENG", cfg.Stages.Publish.Space)
	assert.Equal(t, "pdf", cfg.Params.ReportFormat)
}

func TestParsePipelineConfig_Invalid(t *testing.T) {
	_, err := ParsePipelineConfig("stages:\n  fetch:\n    mode: scrape\n")
	assert.Error(t, err)

	_, err = ParsePipelineConfig("name: [unclosed")
	assert.Error(t, err)

	_, err = ParsePipelineConfig("params:\n  report_format: both\nstages:\n  fetch:\n    mode: marker\n")
	assert.ErrorContains(t, err, "marker")
}

func TestParsePipelineConfig_ScriptSettings(t *testing.T) {
	cfg, err := ParsePipelineConfig(`
stages:
  fetch:
    mode: marker
    export_url_template: "{base}/rest/rtm/1.0/export/{project}/{test_exec}?format={format}"
    verify_ssl: false
  notify:
    cc: lead@x.io
    bcc: audit@x.io
`)
	require.NoError(t, err)

	assert.Contains(t, cfg.Stages.Fetch.ExportURLTemplate, "{test_exec}")
	require.NotNil(t, cfg.Stages.Fetch.VerifySSL)
	assert.False(t, *cfg.Stages.Fetch.VerifySSL)
	assert.Equal(t, "lead@x.io", cfg.Stages.Notify.Cc)
	assert.Equal(t, "audit@x.io", cfg.Stages.Notify.Bcc)
}

func TestPipelineConfig_ValidateParams(t *testing.T) {
	data, err := ParsePipelineConfig("")
	require.NoError(t, err)
	assert.NoError(t, data.ValidateParams(Params{ReportFormat: FormatBoth}))

	marker, err := ParsePipelineConfig("stages:\n  fetch:\n    mode: marker\n")
	require.NoError(t, err)
	assert.NoError(t, marker.ValidateParams(Params{ReportFormat: FormatPDF}))
	assert.Error(t, marker.ValidateParams(Params{ReportFormat: FormatBoth}))
}

func TestParamsValidate(t *testing.T) {
	p := Params{ProjectKey: "QA", ExecutionKey: "QA-1"}.WithDefaults(Params{})
	require.NoError(t, p.Validate())
	assert.Equal(t, FormatHTML, p.ReportFormat)

	assert.Error(t, Params{ProjectKey: "QA", ExecutionKey: "QA-1", ReportFormat: "docx"}.Validate())
	assert.Error(t, Params{ExecutionKey: "QA-1", ReportFormat: "html"}.Validate())
}

func TestParamsWithDefaults(t *testing.T) {
	p := Params{ExecutionKey: "QA-2"}.WithDefaults(Params{ProjectKey: "QA", ExecutionKey: "QA-1", Recipients: "a@x.io", ReportFormat: "pdf"})

	assert.Equal(t, "QA", p.ProjectKey)
	assert.Equal(t, "QA-2", p.ExecutionKey)
	assert.Equal(t, "a@x.io", p.Recipients)
	assert.Equal(t, "pdf", p.ReportFormat)
}
