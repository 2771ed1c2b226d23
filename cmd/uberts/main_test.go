package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testGrammar = `def lemma <tokenIndex:int> <word>
lemma(i, "loves") => verb(i)
lemma(i, w) => seen(w)  # nopredict
`

const testData = `startdoc d1
x lemma 0 John
x lemma 1 loves
y verb 1
startdoc d2
x lemma 0 Mary
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "uberts v"+version)
}

func TestCheck(t *testing.T) {
	dir := t.TempDir()
	grammar := writeFile(t, dir, "g.rules", testGrammar)

	out, err := execute(t, "check", grammar)
	require.NoError(t, err)
	assert.Contains(t, out, "1 rules (1 nopredict)")
	assert.Contains(t, out, "verb($0)")
}

func TestCheckBadGrammar(t *testing.T) {
	dir := t.TempDir()
	grammar := writeFile(t, dir, "g.rules", "lemma(i, w) => verb(i)\n")

	_, err := execute(t, "check", grammar)
	assert.Error(t, err)
}

func TestDecodeWritesOutput(t *testing.T) {
	dir := t.TempDir()
	grammar := writeFile(t, dir, "g.rules", testGrammar)
	data := writeFile(t, dir, "d.rel", testData)
	output := filepath.Join(dir, "out.rel")

	out, err := execute(t, "decode",
		"--grammar", grammar,
		"--data", data,
		"--output", output,
		"--workers", "2",
		"--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "d1")
	assert.Contains(t, out, "d2")

	written, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "startdoc d1\nx verb 1 # 0.0000\ny verb 1\nstartdoc d2\n", string(written))
}

func TestDecodeHeaderSchemaReachesEveryDocument(t *testing.T) {
	dir := t.TempDir()
	grammar := writeFile(t, dir, "g.rules", "def lemma <tokenIndex:int> <word>\ndef tagOpt <tag>\nlemma(i, w) & tagOpt(t) => pos(i, t)\n")
	data := writeFile(t, dir, "d.rel", "schema tagOpt NN\nstartdoc d1\nx lemma 0 John\nstartdoc d2\nx lemma 0 Mary\n")
	output := filepath.Join(dir, "out.rel")

	_, err := execute(t, "decode", "--grammar", grammar, "--data", data, "--output", output, "--log-level", "error")
	require.NoError(t, err)

	written, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "startdoc d1\nx pos 0 NN # 0.0000\nstartdoc d2\nx pos 0 NN # 0.0000\n", string(written))
}

func TestDecodeRejectsTrainMode(t *testing.T) {
	dir := t.TempDir()
	grammar := writeFile(t, dir, "g.rules", testGrammar)
	data := writeFile(t, dir, "d.rel", testData)

	_, err := execute(t, "decode", "--grammar", grammar, "--data", data, "--mode", "train", "--log-level", "error")
	assert.Error(t, err)
}

func TestTrainAndListRuns(t *testing.T) {
	dir := t.TempDir()
	grammar := writeFile(t, dir, "g.rules", testGrammar)
	data := writeFile(t, dir, "d.rel", testData)
	db := filepath.Join(dir, "runs.db")

	out, err := execute(t, "train",
		"--grammar", grammar,
		"--data", data,
		"--epochs", "2",
		"--store-driver", "sqlite",
		"--store-path", db,
		"--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "epoch 0:")
	assert.Contains(t, out, "epoch 1:")

	out, err = execute(t, "runs", "--store-driver", "sqlite", "--store-path", db, "--doc", "d1", "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "train")
	assert.Equal(t, 3, bytes.Count([]byte(out), []byte("\n")), "header plus one run per epoch")
}

func TestRunsNeedsPersistentStore(t *testing.T) {
	_, err := execute(t, "runs")
	assert.Error(t, err)
}

func TestLoadConfigFileAndFlags(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "g.rules", testGrammar)
	cfgPath := writeFile(t, dir, "uberts.yaml", "grammar: g.rules\nbudget: 7\nworkers: 2\n")

	cmd := newRootCmd()
	decode, _, err := cmd.Find([]string{"decode"})
	require.NoError(t, err)
	require.NoError(t, decode.ParseFlags([]string{"--config", cfgPath, "--budget", "3", "--threshold", "0.5"}))

	cfg, err := loadConfig(decode)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "g.rules"), cfg.Grammar)
	assert.Equal(t, 3, cfg.Budget)
	assert.Equal(t, 2, cfg.Workers)
	require.NotNil(t, cfg.Threshold)
	assert.Equal(t, 0.5, *cfg.Threshold)
}
