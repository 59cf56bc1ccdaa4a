package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Lynn-1221/Agents/agent/batch"
	"github.com/Lynn-1221/Agents/agent/persistence"
	"github.com/Lynn-1221/Agents/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestRunConversation(t *testing.T) {
	cfgPath := writeConfigFile(t)
	defPath := writeFile(t, t.TempDir(), "pair.yaml", pairDefinitionYAML)

	var out bytes.Buffer
	err := runConversation([]string{"--config", cfgPath, "--def", defPath, "--seed", "write a haiku"}, strings.NewReader(""), &out)
	require.NoError(t, err)

	text := out.String()
	assert.Contains(t, text, "[writer]\ndraft ready")
	assert.Contains(t, text, "[reviewer]\napproved TERMINATE")
	assert.Contains(t, text, "terminated after 2 rounds")
	assert.Contains(t, text, "summary: approved")
}

func TestRunConversation_Errors(t *testing.T) {
	cfgPath := writeConfigFile(t)
	defPath := writeFile(t, t.TempDir(), "pair.yaml", pairDefinitionYAML)
	var out bytes.Buffer

	err := runConversation([]string{"--config", cfgPath}, strings.NewReader(""), &out)
	assert.ErrorContains(t, err, "--def")

	err = runConversation([]string{"--config", cfgPath, "--def", defPath}, strings.NewReader(""), &out)
	assert.ErrorContains(t, err, "--seed")

	err = runConversation([]string{"--config", cfgPath, "--def", defPath, "--resume", "missing"}, strings.NewReader(""), &out)
	assert.ErrorContains(t, err, "load session missing")
}

func TestRunBatch(t *testing.T) {
	cfgPath := writeConfigFile(t)
	dir := t.TempDir()
	defPath := writeFile(t, dir, "entities.yaml", entityDefinitionYAML)
	csvPath := writeFile(t, dir, "papers.csv", "id,title,abstract\np1,Graphene study,We grow graphene sheets on copper.\n")
	outDir := filepath.Join(dir, "results")

	var out bytes.Buffer
	err := runBatch([]string{"--config", cfgPath, "--def", defPath, "--csv", csvPath, "--out", outDir, "--concurrency", "2"}, &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "succeeded 1")

	writer, err := persistence.NewRecordWriter(outDir)
	require.NoError(t, err)
	var result batch.EntityResult
	require.NoError(t, writer.Read("p1", &result))
	require.NotEmpty(t, result["graphene"])
	assert.Equal(t, "Material", result["graphene"][0].Classification)
	assert.Equal(t, []string{"material", "carbon allotrope"}, result["graphene"][0].Generalization)

	// 已有记录的单元被跳过
	out.Reset()
	require.NoError(t, runBatch([]string{"--config", cfgPath, "--def", defPath, "--csv", csvPath, "--out", outDir}, &out))
	assert.Contains(t, out.String(), "skipped 1")
}

func TestRunBatch_MissingParticipant(t *testing.T) {
	cfgPath := writeConfigFile(t)
	dir := t.TempDir()
	defPath := writeFile(t, dir, "pair.yaml", pairDefinitionYAML)
	csvPath := writeFile(t, dir, "papers.csv", "id,title\np1,x\n")

	err := runBatch([]string{"--config", cfgPath, "--def", defPath, "--csv", csvPath, "--out", filepath.Join(dir, "out")}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "no extractor participant")
}

func TestRunHealthCheck(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	var out bytes.Buffer
	require.NoError(t, runHealthCheck([]string{"--addr", ts.URL}, &out))
	assert.Equal(t, "OK\n", out.String())

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()
	assert.ErrorContains(t, runHealthCheck([]string{"--addr", down.URL}, &out), "status 503")
}

func TestRunMigrate_Usage(t *testing.T) {
	var out bytes.Buffer
	assert.Error(t, runMigrate(nil, &out))
	assert.Contains(t, out.String(), "Database Migration Commands")

	out.Reset()
	assert.NoError(t, runMigrate([]string{"help"}, &out))
	assert.Contains(t, out.String(), "down-all")
}

func TestVersionAndUsage(t *testing.T) {
	var out bytes.Buffer
	printVersion(&out)
	assert.Contains(t, out.String(), "agents "+Version)

	out.Reset()
	printUsage(&out)
	for _, cmd := range []string{"serve", "run", "batch", "index", "migrate", "health", "version"} {
		assert.Contains(t, out.String(), "  "+cmd)
	}
}

func TestInitLogger(t *testing.T) {
	logger := initLogger(config.LogConfig{Level: "warn", Format: "console", OutputPaths: []string{"stderr"}})
	require.NotNil(t, logger)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	logger = initLogger(config.LogConfig{Level: "bogus"})
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
}
