package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognicore/uberts/pkg/uberts"
	"github.com/cognicore/uberts/pkg/uberts/internalerr"
	"github.com/cognicore/uberts/pkg/uberts/learn"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "uberts.yaml", `
grammar: pos.rules
data: /abs/train.rel
mode: train
threshold: 0.25
epochs: 3
workers: 2
log:
  level: debug
  format: json
store:
  driver: sqlite
  path: runs.db
generators:
  - trigger: "pos(i, t)"
    kind: perceptron
constraints:
  - trigger: "pos(i, t)"
    group: [0]
    max: 1
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "pos.rules"), cfg.Grammar)
	assert.Equal(t, "/abs/train.rel", cfg.Data)
	assert.Equal(t, filepath.Join(dir, "runs.db"), cfg.Store.Path)
	assert.Equal(t, "train", cfg.Mode)
	require.NotNil(t, cfg.Threshold)
	assert.Equal(t, 0.25, *cfg.Threshold)
	assert.Equal(t, 3, cfg.Epochs)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, 1.0, cfg.LearningRate, "unset fields keep defaults")
	assert.True(t, cfg.UsesPerceptron())
}

func TestLoadInvalid(t *testing.T) {
	cases := map[string]string{
		"mode":           "mode: beam\n",
		"workers":        "workers: 0\n",
		"store path":     "store:\n  driver: badger\n",
		"store driver":   "store:\n  driver: postgres\n  path: x\n",
		"generator kind": "generators:\n  - trigger: a(x)\n    kind: neural\n",
		"constraint max": "constraints:\n  - trigger: a(x)\n    max: 0\n",
		"log level":      "log:\n  level: loud\n",
		"yaml":           "mode: [greedy\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "bad.yaml", content)
			_, err := Load(path)
			require.Error(t, err)
			assert.ErrorIs(t, err, internalerr.ErrInvalidConfig)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/uberts.yaml")
	assert.Error(t, err)
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	log := Log{Level: "warn", Format: "json"}.Logger(&buf)
	log.Info("hidden")
	log.Warn("shown", "k", 1)
	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)

	buf.Reset()
	Log{Level: "debug", Format: "text"}.Logger(&buf).Debug("dbg")
	assert.True(t, strings.Contains(buf.String(), "msg=dbg"))
}

func TestOptions(t *testing.T) {
	cfg := Default()
	cfg.Mode = "oracle"
	cfg.Budget = 7
	opts, err := cfg.Options()
	require.NoError(t, err)
	assert.Equal(t, uberts.ModeOracle, opts.Mode)
	assert.Equal(t, 7, opts.Budget)

	cfg.Mode = "nope"
	_, err = cfg.Options()
	assert.ErrorIs(t, err, internalerr.ErrInvalidInput)
}

func TestRegistry(t *testing.T) {
	cfg := Default()
	cfg.Generators = []Generator{
		{Trigger: "pos(i, t)", Kind: "perceptron"},
		{Trigger: "verb(i)", Kind: "constant", Score: 2},
	}
	cfg.Constraints = []Constraint{
		{Trigger: "pos(i, t)", Group: []int{0}, Max: 1},
		{Trigger: "verb(i)", Max: 3},
	}

	_, err := cfg.Registry(nil)
	assert.Error(t, err, "perceptron generator needs a perceptron")

	reg, err := cfg.Registry(learn.NewPerceptron(learn.RuleFeatures, 1))
	require.NoError(t, err)
	assert.Len(t, reg.Keys(), 2)
	assert.Equal(t, 2, reg.ConstraintCount())

	cfg.Generators = []Generator{{Trigger: "pos(", Kind: "constant"}}
	_, err = cfg.Registry(nil)
	assert.Error(t, err)
}
