package stage

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"rtmpipe/internal/task_executor/artifact"
	"rtmpipe/pkg/queue"
)

// Publisher uploads the report to the wiki page.
type Publisher struct{}

func (p *Publisher) Name() string { return Publish }

func (p *Publisher) Run(ctx context.Context, r *Run) (Report, error) {
	cfg := r.Pipeline.Stages.Publish
	if !queue.Enabled(cfg.Enabled) {
		return Report{Status: StatusSkipped}, nil
	}
	if r.ReportPath() == "" {
		return Report{Status: StatusFailed}, fail(Publish, KindPublish, errors.New("no report path resolved"))
	}
	if err := r.prepareResultFile(Publish); err != nil {
		return Report{Status: StatusFailed}, fail(Publish, KindPublish, err)
	}

	creds := r.creds()
	env := r.baseEnv(Publish)
	setSecret(env, "CONFLUENCE_BASE", creds.WikiBaseURL)
	setSecret(env, "CONFLUENCE_USER", creds.WikiUser)
	setSecret(env, "CONFLUENCE_TOKEN", creds.WikiToken)
	env["CONFLUENCE_SPACE"] = r.Expand(cfg.Space)
	env["CONFLUENCE_TITLE"] = r.Expand(cfg.Title)
	if cfg.ParentID != "" {
		env["CONFLUENCE_PARENT_ID"] = cfg.ParentID
	}
	env["REPORT_FILES"] = strings.Join(slashPaths(r.Reports), ",")

	res, err := r.invoke(ctx, Publish, KindPublish, cfg.StageCommand, env)
	if err != nil {
		return failedReport(res), err
	}

	// the page link is optional, a broken result file only costs the link
	result, found, err := artifact.ReadResultFile(r.path(r.ResultFile(Publish)))
	switch {
	case err != nil:
		r.logger().Warn("ignoring publish result", zap.String("run_id", r.ID), zap.Error(err))
	case found && result.Outputs["page_url"] != "":
		r.PageURL = result.Outputs["page_url"]
	}
	return reportOf(res), nil
}
