package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// RecordWriter 为每个处理单元写一个 JSON 记录，文件名为外部 ID。
// 同一 ID 重复写入会覆盖旧记录。
type RecordWriter struct {
	dir string
}

// NewRecordWriter creates dir if needed.
func NewRecordWriter(dir string) (*RecordWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create record directory: %w", err)
	}
	return &RecordWriter{dir: dir}, nil
}

// Dir returns the output directory.
func (w *RecordWriter) Dir() string { return w.dir }

// Path returns the file a record with this id is written to.
func (w *RecordWriter) Path(id string) (string, error) {
	name, err := fileName(id)
	if err != nil {
		return "", err
	}
	return filepath.Join(w.dir, name), nil
}

// Write marshals v with two-space indentation, leaving non-ASCII text unescaped.
func (w *RecordWriter) Write(id string, v any) error {
	path, err := w.Path(id)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal record %s: %w", id, err)
	}
	return writeFileAtomic(path, append(data, '\n'))
}

// Read loads the record for id into v.
func (w *RecordWriter) Read(id string, v any) error {
	path, err := w.Path(id)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// Exists reports whether a record for id has been written.
func (w *RecordWriter) Exists(id string) bool {
	path, err := w.Path(id)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}
