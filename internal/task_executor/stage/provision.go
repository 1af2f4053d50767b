package stage

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"

	"rtmpipe/internal/task_executor/runner"
	"rtmpipe/pkg/queue"
)

// ManifestStamp records the manifest digest the runtime was built from.
const ManifestStamp = ".rtmpipe-manifest"

// Provisioner creates the script runtime once and reinstalls dependencies
// only when the manifest changes.
type Provisioner struct{}

func (p *Provisioner) Name() string { return Provision }

func (p *Provisioner) Run(ctx context.Context, r *Run) (Report, error) {
	cfg := r.Pipeline.Stages.Provision
	log := r.logger().With(zap.String("stage", Provision), zap.String("run_id", r.ID))

	data, err := os.ReadFile(r.path(cfg.Manifest))
	if err != nil {
		return Report{Status: StatusFailed}, fail(Provision, KindBootstrap, fmt.Errorf("reading manifest: %w", err))
	}
	pins, err := ParseManifest(data)
	if err != nil {
		return Report{Status: StatusFailed}, fail(Provision, KindBootstrap, err)
	}
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])

	env := r.baseEnv(Provision)
	env["PIP_DISABLE_PIP_VERSION_CHECK"] = "1"

	python := runner.VenvBin(cfg.RuntimeDir, "python")
	created := false
	if _, err := os.Stat(r.path(python)); err != nil {
		log.Info("creating runtime", zap.String("dir", cfg.RuntimeDir))
		venv := queue.StageCommand{Command: []string{cfg.Python, "-m", "venv", cfg.RuntimeDir}, Timeout: cfg.Timeout}
		if res, err := r.invoke(ctx, Provision, KindBootstrap, venv, env); err != nil {
			return failedReport(res), err
		}
		created = true
	}
	r.Python = python

	stamp := r.path(filepath.Join(cfg.RuntimeDir, ManifestStamp))
	report := Report{Status: StatusSuccess}
	if !created && readStamp(stamp) == digest {
		log.Info("runtime up to date, install skipped")
		report.Tail = "runtime up to date"
	} else {
		install := queue.StageCommand{
			Command: []string{"${PYTHON}", "-m", "pip", "install", "-r", cfg.Manifest},
			Timeout: cfg.Timeout,
		}
		res, err := r.invoke(ctx, Provision, KindBootstrap, install, env)
		if err != nil {
			return failedReport(res), err
		}
		if err := os.WriteFile(stamp, []byte(digest+"\n"), 0o644); err != nil {
			return Report{Status: StatusFailed}, fail(Provision, KindBootstrap, fmt.Errorf("writing stamp: %w", err))
		}
		report = reportOf(res)
	}

	if cfg.VerifyPins {
		freeze := queue.StageCommand{Command: []string{"${PYTHON}", "-m", "pip", "freeze"}, Timeout: cfg.Timeout}
		res, err := r.invoke(ctx, Provision, KindBootstrap, freeze, env)
		if err != nil {
			return failedReport(res), err
		}
		if err := VerifyPins(pins, res.Stdout); err != nil {
			return Report{Status: StatusFailed, Tail: report.Tail}, fail(Provision, KindBootstrap, err)
		}
	}
	return report, nil
}

func failedReport(res *runner.Result) Report {
	rep := Report{Status: StatusFailed}
	if res != nil {
		rep.ExitCode = res.ExitCode
		rep.Tail = strings.TrimSpace(res.Tail)
	}
	return rep
}

func readStamp(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// Pin is one exact requirement of the manifest.
type Pin struct {
	Name    string
	Version *semver.Version
}

func normalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.NewReplacer("_", "-", ".", "-").Replace(name)
}

// ParseManifest reads a requirements file where every requirement must be
// pinned with == to a parseable version. Option lines are ignored.
func ParseManifest(data []byte) ([]Pin, error) {
	var pins []Pin
	sc := bufio.NewScanner(bytes.NewReader(data))
	for n := 1; sc.Scan(); n++ {
		line := sc.Text()
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "-") {
			continue
		}
		if i := strings.Index(line, ";"); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		name, ver, ok := strings.Cut(line, "==")
		if !ok || strings.ContainsAny(name, "<>!~=") || strings.HasPrefix(ver, "=") {
			return nil, fmt.Errorf("manifest line %d: %q is not pinned with ==", n, line)
		}
		if i := strings.Index(name, "["); i >= 0 {
			name = name[:i]
		}
		v, err := semver.NewVersion(strings.TrimSpace(ver))
		if err != nil {
			return nil, fmt.Errorf("manifest line %d: version %q: %w", n, ver, err)
		}
		pins = append(pins, Pin{Name: normalizeName(name), Version: v})
	}
	return pins, sc.Err()
}

// VerifyPins compares pins with `pip freeze` output.
func VerifyPins(pins []Pin, freeze string) error {
	installed := map[string]string{}
	sc := bufio.NewScanner(strings.NewReader(freeze))
	for sc.Scan() {
		name, ver, ok := strings.Cut(strings.TrimSpace(sc.Text()), "==")
		if ok {
			installed[normalizeName(name)] = strings.TrimSpace(ver)
		}
	}

	var problems []string
	for _, p := range pins {
		raw, ok := installed[p.Name]
		if !ok {
			problems = append(problems, p.Name+" not installed")
			continue
		}
		got, err := semver.NewVersion(raw)
		if err != nil || !got.Equal(p.Version) {
			problems = append(problems, fmt.Sprintf("%s is %s, pinned %s", p.Name, raw, p.Version.Original()))
		}
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("installed packages differ from manifest: %s", strings.Join(problems, "; "))
	}
	return nil
}
