package stage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"rtmpipe/internal/task_executor/artifact"
	"rtmpipe/pkg/queue"
)

// Fetcher runs the RTM export script. In data mode it must leave the data
// file behind; in marker mode it announces the artifact it produced.
type Fetcher struct{}

func (f *Fetcher) Name() string { return Fetch }

func (f *Fetcher) Run(ctx context.Context, r *Run) (Report, error) {
	cfg := r.Pipeline.Stages.Fetch
	if cfg.Mode == queue.FetchModeData {
		r.DataPath = cfg.DataPath
		if err := os.MkdirAll(filepath.Dir(r.path(r.DataPath)), 0o755); err != nil {
			return Report{Status: StatusFailed}, fail(Fetch, KindFetch, err)
		}
	}
	if err := r.prepareResultFile(Fetch); err != nil {
		return Report{Status: StatusFailed}, fail(Fetch, KindFetch, err)
	}

	creds := r.creds()
	env := r.baseEnv(Fetch)
	setSecret(env, "RTM_BASE_URL", creds.RTMBaseURL)
	setSecret(env, "RTM_USER", creds.RTMUser)
	setSecret(env, "RTM_TOKEN", creds.RTMToken)
	if cfg.VerifySSL != nil {
		env["RTM_VERIFY_SSL"] = strconv.FormatBool(*cfg.VerifySSL)
	}
	if cfg.Mode == queue.FetchModeMarker {
		// rtm_export.py 使用 Jira 命名的变量
		setSecret(env, "JIRA_BASE", creds.RTMBaseURL)
		setSecret(env, "JIRA_USER", creds.RTMUser)
		setSecret(env, "JIRA_TOKEN", creds.RTMToken)
		if cfg.ExportURLTemplate != "" {
			env["RTM_EXPORT_URL_TEMPLATE"] = cfg.ExportURLTemplate
		}
	}

	res, err := r.invoke(ctx, Fetch, KindFetch, cfg.StageCommand, env)
	if err != nil {
		return failedReport(res), err
	}
	report := reportOf(res)

	if cfg.Mode == queue.FetchModeData {
		if _, err := artifact.RequireFile(r.path(r.DataPath)); err != nil {
			report.Status = StatusFailed
			return report, fail(Fetch, KindFetch, err)
		}
		return report, nil
	}

	p, err := artifact.ResolveArtifactPath(r.path(r.ResultFile(Fetch)), res.Stdout)
	if err != nil {
		report.Status = StatusFailed
		return report, &StageError{Stage: Fetch, Kind: KindParse, Tail: report.Tail, Err: err}
	}
	if _, err := artifact.RequireFile(r.path(p)); err != nil {
		report.Status = StatusFailed
		return report, fail(Fetch, KindFetch, fmt.Errorf("announced artifact: %w", err))
	}
	r.ArtifactPath = p
	r.logger().Info("artifact announced", zap.String("run_id", r.ID), zap.String("path", p))
	return report, nil
}
