package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/blingmoon/netflow-triage/internal/commonregister"
	"github.com/blingmoon/netflow-triage/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cliTestEnv struct {
	dir        string
	configPath string
	csvPath    string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	dir := t.TempDir()
	binaryPath, multiPath, err := commonregister.WriteModelFiles(dir)
	require.NoError(t, err)

	quoted := make([]string, 0, len(commonregister.Features))
	for _, feature := range commonregister.Features {
		quoted = append(quoted, fmt.Sprintf("%q", feature))
	}
	body := fmt.Sprintf(`
[pipeline]
features = [%s]
max_concurrency = 2

[models]
binary_rf = %q
multi_rf = %q

[audit]
dsn = %q
`, strings.Join(quoted, ", "), binaryPath, multiPath, filepath.Join(dir, "audit.sqlite3"))
	configPath := filepath.Join(dir, "netflow.toml")
	require.NoError(t, os.WriteFile(configPath, []byte(body), 0o644))

	csvPath := filepath.Join(dir, "flows.csv")
	csv := strings.Join(commonregister.Features, ",") + "\n" +
		"443,120,3,2\n" +
		"80,50000,5000,0\n" +
		"22,2000,1,1\n"
	require.NoError(t, os.WriteFile(csvPath, []byte(csv), 0o644))
	return &cliTestEnv{dir: dir, configPath: configPath, csvPath: csvPath}
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out, logs bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&logs)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestPredictCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := runCLI(t, "predict", env.csvPath, "-c", env.configPath, "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, commonregister.LabelBenign)
	assert.Contains(t, out, commonregister.LabelDoS)
	assert.Contains(t, out, commonregister.LabelPortScan)
	assert.Contains(t, out, "3 rows, 0 failed")
	assert.NotContains(t, out, "0.9000")

	out, err = runCLI(t, "predict", env.csvPath, "-c", env.configPath, "--mode", "proba", "--batch-id", "cli-1")
	require.NoError(t, err)
	assert.Contains(t, out, "0.9000")
	assert.Contains(t, out, "Batch cli-1")

	t.Run("不是csv", func(t *testing.T) {
		_, err := runCLI(t, "predict", filepath.Join(env.dir, "flows.json"), "-c", env.configPath)
		assert.ErrorIs(t, err, workflow.ErrUnsupportedInputKind)
	})

	t.Run("配置文件不存在", func(t *testing.T) {
		_, err := runCLI(t, "predict", env.csvPath, "-c", filepath.Join(env.dir, "missing.toml"))
		assert.ErrorIs(t, err, workflow.ErrConfiguration)
	})
}

func TestInspectCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := runCLI(t, "inspect", "-c", env.configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "binary model")
	assert.Contains(t, out, "multi model")
	assert.Contains(t, out, "1.0000")
	assert.NotContains(t, out, "tree 0:")

	out, err = runCLI(t, "inspect", "-c", env.configPath, "--tree", "0", "--depth", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "|--- Flow Duration <= 1000.00")
	assert.Contains(t, out, "|--- Total Fwd Packets >  100.00")

	_, err = runCLI(t, "inspect", "-c", env.configPath, "--tree", "5")
	assert.Error(t, err)
}

func TestConfigCommands(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "conf", "netflow.toml")

	out, err := runCLI(t, "config", "init", "--path", target)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote sample configuration")
	assert.FileExists(t, target)

	_, err = runCLI(t, "config", "init", "--path", target)
	assert.Error(t, err, "已经存在的文件不覆盖")
	_, err = runCLI(t, "config", "init", "--path", target, "--overwrite")
	assert.NoError(t, err)

	_, err = runCLI(t, "config", "validate", "-c", target)
	require.Error(t, err, "示例配置的模型文件不存在")
	assert.Contains(t, err.Error(), "model file")

	env := setupCLITestEnv(t)
	out, err = runCLI(t, "config", "validate", "-c", env.configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "4 features")
}
