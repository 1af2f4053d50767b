package stage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"rtmpipe/internal/common"
	"rtmpipe/pkg/queue"
)

// Notifier mails the report to the recipients. The body travels in a file
// so it never has to survive shell quoting.
type Notifier struct{}

func (n *Notifier) Name() string { return Notify }

func slashPaths(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, filepath.ToSlash(p))
	}
	return out
}

func (n *Notifier) Run(ctx context.Context, r *Run) (Report, error) {
	cfg := r.Pipeline.Stages.Notify
	if !queue.Enabled(cfg.Enabled) {
		return Report{Status: StatusSkipped}, nil
	}
	recipients := r.Recipients()
	if len(recipients) == 0 {
		return Report{Status: StatusFailed}, fail(Notify, KindNotify, errors.New("no recipients"))
	}

	bodyDir := r.path(".rtmpipe")
	if err := os.MkdirAll(bodyDir, 0o755); err != nil {
		return Report{Status: StatusFailed}, fail(Notify, KindNotify, err)
	}
	body, err := os.CreateTemp(bodyDir, "mail-body-*.txt")
	if err != nil {
		return Report{Status: StatusFailed}, fail(Notify, KindNotify, err)
	}
	defer os.Remove(body.Name())
	if _, err := body.WriteString(r.Expand(cfg.Body)); err != nil {
		body.Close()
		return Report{Status: StatusFailed}, fail(Notify, KindNotify, fmt.Errorf("writing body: %w", err))
	}
	if err := body.Close(); err != nil {
		return Report{Status: StatusFailed}, fail(Notify, KindNotify, err)
	}

	creds := r.creds()
	env := r.baseEnv(Notify)
	env["SMTP_HOST"] = cfg.SMTPHost
	env["SMTP_PORT"] = strconv.Itoa(cfg.SMTPPort)
	setSecret(env, "SMTP_USER", creds.SMTPUser)
	setSecret(env, "SMTP_PASS", creds.SMTPPassword)
	from := cfg.From
	if from == "" {
		from = creds.SMTPUser.Reveal()
	}
	env["REPORT_FROM"] = from
	env["REPORT_TO"] = strings.Join(recipients, ",")
	if cc := common.SplitRecipients(r.Expand(cfg.Cc)); len(cc) > 0 {
		env["REPORT_CC"] = strings.Join(cc, ",")
	}
	if bcc := common.SplitRecipients(r.Expand(cfg.Bcc)); len(bcc) > 0 {
		env["REPORT_BCC"] = strings.Join(bcc, ",")
	}
	env["REPORT_SUBJECT"] = r.Expand(cfg.Subject)
	env["REPORT_BODY_FILE"] = filepath.ToSlash(filepath.Join(".rtmpipe", filepath.Base(body.Name())))
	env["REPORT_FILES"] = strings.Join(slashPaths(r.Reports), ",")
	if link := r.PageURL; link != "" {
		env["CONFLUENCE_LINK"] = link
	} else if cfg.PageURL != "" {
		env["CONFLUENCE_LINK"] = r.Expand(cfg.PageURL)
	}

	res, err := r.invoke(ctx, Notify, KindNotify, cfg.StageCommand, env)
	if err != nil {
		return failedReport(res), err
	}
	return reportOf(res), nil
}
