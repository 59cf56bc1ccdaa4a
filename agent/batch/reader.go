package batch

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
)

// Unit 一行输入
type Unit struct {
	ID       string
	Title    string
	Abstract string
	// Fields 保存所有列（列名小写）
	Fields map[string]string
}

// Text returns the title and abstract joined by a newline.
func (u Unit) Text() string {
	return u.Title + "\n" + u.Abstract
}

// ReadCSVFile reads units from a CSV file with a header row.
func ReadCSVFile(path string) ([]Unit, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("batch: %w", err)
	}
	defer f.Close()
	units, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("batch: parsing %s: %w", path, err)
	}
	return units, nil
}

// ReadCSV reads units from r. The header must name an id column; title and
// abstract are optional. Column names are matched case-insensitively.
func ReadCSV(r io.Reader) ([]Unit, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff")))
	}
	idCol := indexOf(header, "id")
	if idCol < 0 {
		return nil, fmt.Errorf("missing id column in header %v", header)
	}

	var units []Unit
	seen := make(map[string]int)
	for line := 2; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		fields := make(map[string]string, len(header))
		for i, name := range header {
			if i < len(row) {
				fields[name] = row[i]
			}
		}
		id := strings.TrimSpace(fields["id"])
		if id == "" {
			return nil, fmt.Errorf("line %d: empty id", line)
		}
		if prev, dup := seen[id]; dup {
			return nil, fmt.Errorf("line %d: duplicate id %q (first seen on line %d)", line, id, prev)
		}
		seen[id] = line
		units = append(units, Unit{
			ID:       id,
			Title:    fields["title"],
			Abstract: fields["abstract"],
			Fields:   fields,
		})
	}
	return units, nil
}

func indexOf(header []string, name string) int {
	for i, h := range header {
		if h == name {
			return i
		}
	}
	return -1
}
