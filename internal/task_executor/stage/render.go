package stage

import (
	"context"
	"fmt"
	"os"

	"rtmpipe/internal/task_executor/artifact"
	"rtmpipe/pkg/queue"
)

// Renderer turns the data file into the requested report formats. Without
// a render command the fetched artifact already is the report.
type Renderer struct{}

func (g *Renderer) Name() string { return Render }

func formatsFor(format string) []string {
	switch format {
	case queue.FormatBoth:
		return []string{queue.FormatHTML, queue.FormatPDF}
	case queue.FormatPDF:
		return []string{queue.FormatPDF}
	default:
		return []string{queue.FormatHTML}
	}
}

func (g *Renderer) Run(ctx context.Context, r *Run) (Report, error) {
	cfg := r.Pipeline.Stages.Render

	if cfg.IsZero() {
		if r.ArtifactPath == "" {
			return Report{Status: StatusFailed}, fail(Render, KindRender, fmt.Errorf("no render command and no fetched artifact"))
		}
		format := artifact.FormatOf(r.ArtifactPath)
		if err := artifact.RequireReport(r.path(r.ArtifactPath), format); err != nil {
			return Report{Status: StatusFailed}, fail(Render, KindRender, err)
		}
		r.Reports = []string{r.ArtifactPath}
		return Report{Status: StatusSuccess, Tail: "using fetched " + format + " report"}, nil
	}

	if err := os.MkdirAll(r.path(cfg.ReportDir), 0o755); err != nil {
		return Report{Status: StatusFailed}, fail(Render, KindRender, err)
	}
	if err := r.prepareResultFile(Render); err != nil {
		return Report{Status: StatusFailed}, fail(Render, KindRender, err)
	}
	env := r.baseEnv(Render)
	env["RTM_PROJECT"] = r.Params.ProjectKey
	env["TEST_EXECUTION"] = r.Params.ExecutionKey
	env["REPORT_TITLE"] = r.Expand(r.Pipeline.Stages.Publish.Title)
	res, err := r.invoke(ctx, Render, KindRender, cfg.StageCommand, env)
	if err != nil {
		return failedReport(res), err
	}
	report := reportOf(res)

	var reports []string
	for _, f := range formatsFor(r.Params.ReportFormat) {
		p := cfg.HTMLPath
		if f == queue.FormatPDF {
			p = cfg.PDFPath
		}
		if err := artifact.RequireReport(r.path(p), f); err != nil {
			report.Status = StatusFailed
			return report, fail(Render, KindRender, err)
		}
		reports = append(reports, p)
	}
	r.Reports = reports
	return report, nil
}
