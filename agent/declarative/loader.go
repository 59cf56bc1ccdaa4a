package declarative

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Loader loads conversation definitions from files or raw bytes.
type Loader interface {
	// LoadFile detects the format from the extension (.yaml, .yml, .json).
	LoadFile(path string) (*ConversationDefinition, error)
	// LoadBytes parses data; format must be "yaml" or "json".
	LoadBytes(data []byte, format string) (*ConversationDefinition, error)
}

// YAMLLoader implements Loader for YAML and JSON.
type YAMLLoader struct{}

// NewYAMLLoader creates a new YAMLLoader.
func NewYAMLLoader() *YAMLLoader {
	return &YAMLLoader{}
}

func (l *YAMLLoader) LoadFile(path string) (*ConversationDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read conversation definition file: %w", err)
	}

	format := detectFormat(path)
	if format == "" {
		return nil, fmt.Errorf("unsupported file extension: %s", filepath.Ext(path))
	}
	return l.LoadBytes(data, format)
}

func (l *YAMLLoader) LoadBytes(data []byte, format string) (*ConversationDefinition, error) {
	var def ConversationDefinition

	switch strings.ToLower(format) {
	case "yaml", "yml":
		dec := yaml.NewDecoder(strings.NewReader(string(data)))
		dec.KnownFields(true)
		if err := dec.Decode(&def); err != nil {
			return nil, fmt.Errorf("parse YAML: %w", err)
		}
	case "json":
		dec := json.NewDecoder(strings.NewReader(string(data)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&def); err != nil {
			return nil, fmt.Errorf("parse JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported format %q, use \"yaml\" or \"json\"", format)
	}
	return &def, nil
}

func detectFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".json":
		return "json"
	default:
		return ""
	}
}
