package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"rtmpipe/internal/common"
	"rtmpipe/internal/task_executor/runner"
)

func testConfig(t *testing.T) common.Config {
	t.Helper()
	cfg, err := common.LoadConfig("")
	require.NoError(t, err)
	dir := t.TempDir()
	cfg.Pipeline = filepath.Join(dir, "pipeline.yaml")
	cfg.Workspace.Dir = filepath.Join(dir, "ws")
	cfg.Archive.Dir = filepath.Join(dir, "archive")
	cfg.DB.DSN = filepath.Join(dir, "history.db")
	return *cfg
}

func TestNew(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.Pipeline, []byte("name: nightly\nparams:\n  project_key: QA\n"), 0o644))

	e, err := New(context.Background(), cfg, zap.NewNop(), Options{History: true})
	require.NoError(t, err)
	defer e.Close()

	assert.Equal(t, "nightly", e.Pipeline.Name)
	assert.Equal(t, "QA", e.Pipeline.Params.ProjectKey)
	assert.NotNil(t, e.Scheduler)
	assert.FileExists(t, cfg.DB.DSN)
}

func TestNew_BadCredentialProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.Credentials.Provider = "vault"
	_, err := New(context.Background(), cfg, zap.NewNop(), Options{})
	assert.ErrorContains(t, err, "vault")
}

func TestNewEngine(t *testing.T) {
	engine, closer, err := NewEngine(common.EngineConfig{Kind: "process"}, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, closer)
	assert.IsType(t, &runner.ProcessEngine{}, engine)
}

func TestNewArchiver_Local(t *testing.T) {
	a, err := NewArchiver(context.Background(), common.ArchiveConfig{Dir: t.TempDir()}, zap.NewNop())
	require.NoError(t, err)
	dir, err := a.RunDir("r1")
	require.NoError(t, err)
	assert.DirExists(t, dir)
}
