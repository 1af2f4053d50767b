package artifact

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

const (
	ConsoleFile = "console.log"
	OutcomeFile = "outcome.json"
)

// Uploader ships a finished run directory somewhere else.
type Uploader interface {
	UploadDir(ctx context.Context, runID, dir string) error
}

// Archiver keeps the artifacts of each run under <dir>/<run-id>/.
type Archiver struct {
	dir      string
	include  []string
	uploader Uploader
	logger   *zap.Logger
}

func NewArchiver(dir string, include []string, uploader Uploader, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{dir: dir, include: include, uploader: uploader, logger: logger}
}

// RunDir is where everything of runID ends up. It is created on demand so
// the console log can be written while the run is still going.
func (a *Archiver) RunDir(runID string) (string, error) {
	dir := filepath.Join(a.dir, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating archive dir: %w", err)
	}
	return dir, nil
}

// Archive copies the include set and any extra files from workspace, writes
// outcome as JSON and uploads the result when an uploader is configured.
// Missing include entries are skipped.
func (a *Archiver) Archive(ctx context.Context, runID, workspace string, extra []string, outcome any) (string, error) {
	dst, err := a.RunDir(runID)
	if err != nil {
		return "", err
	}

	var errs []string
	for _, name := range a.include {
		src := filepath.Join(workspace, name)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if err := copyTree(src, filepath.Join(dst, name)); err != nil {
			errs = append(errs, err.Error())
		}
	}
	for _, p := range extra {
		if p == "" {
			continue
		}
		src := p
		if !filepath.IsAbs(src) {
			src = filepath.Join(workspace, p)
		}
		rel, err := filepath.Rel(workspace, src)
		if err != nil || strings.HasPrefix(rel, "..") {
			rel = filepath.Join("artifacts", filepath.Base(src))
		}
		target := filepath.Join(dst, rel)
		if _, err := os.Stat(target); err == nil {
			continue
		}
		if err := copyFile(src, target); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if outcome != nil {
		data, err := json.MarshalIndent(outcome, "", "  ")
		if err != nil {
			errs = append(errs, fmt.Sprintf("encoding outcome: %v", err))
		} else if err := os.WriteFile(filepath.Join(dst, OutcomeFile), data, 0o644); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if a.uploader != nil {
		if err := a.uploader.UploadDir(ctx, runID, dst); err != nil {
			errs = append(errs, fmt.Sprintf("upload: %v", err))
		}
	}

	if len(errs) > 0 {
		a.logger.Warn("archive incomplete", zap.String("run_id", runID), zap.Strings("errors", errs))
		return dst, fmt.Errorf("archive %s: %s", runID, strings.Join(errs, "; "))
	}
	a.logger.Info("run archived", zap.String("run_id", runID), zap.String("dir", dst))
	return dst, nil
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copying %s: %w", src, err)
	}
	return out.Close()
}
