package main

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/Lynn-1221/Agents/config"
	"github.com/stretchr/testify/require"
)

// testConfig 返回指向临时目录的配置，不依赖外部服务
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Database.Name = filepath.Join(dir, "agents.db")
	cfg.Sandbox.WorkRoot = filepath.Join(dir, "coding")
	cfg.Server.RateLimitRPS = 0
	cfg.Log.Level = "error"
	return cfg
}

// writeConfigFile 写出与 testConfig 等价的 YAML 配置
func writeConfigFile(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	content := fmt.Sprintf(`database:
  driver: sqlite
  name: %s
store:
  type: file
  base_dir: %s
sandbox:
  work_root: %s
log:
  level: error
`, filepath.Join(dir, "agents.db"), filepath.Join(dir, "sessions"), filepath.Join(dir, "coding"))
	return writeFile(t, dir, "config.yaml", content)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const pairDefinitionYAML = `
name: pair
participants:
  - id: writer
    kind: static
    role: initiator
    reply: draft ready
  - id: reviewer
    kind: static
    reply: approved TERMINATE
transitions:
  writer: [reviewer]
  reviewer: [writer]
initiator: writer
max_rounds: 6
termination:
  tokens: [TERMINATE]
summary:
  type: last_message
`

const entityDefinitionYAML = `
name: entities
participants:
  - id: extractor
    kind: static
    role: initiator
    reply: '["graphene"]'
  - id: generalizer
    kind: static
    reply: '{"graphene": [["material", "carbon allotrope"]]}'
  - id: classifier
    kind: static
    role: terminal
    reply: '{"graphene": [{"classification": "Material", "suggestion": ""}]}'
transitions:
  extractor: [generalizer]
  generalizer: [classifier]
initiator: extractor
max_rounds: 3
`
