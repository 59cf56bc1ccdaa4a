package batch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Lynn-1221/Agents/agent/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestReadCSV(t *testing.T) {
	input := "\ufeffID,Title,Abstract\n" +
		"p1,First,\"Graphene, a 2D material\"\n" +
		"p2,Second,\"multi\nline\"\n"

	units, err := ReadCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, "p1", units[0].ID)
	assert.Equal(t, "Graphene, a 2D material", units[0].Abstract)
	assert.Equal(t, "Second\nmulti\nline", units[1].Text())
	assert.Equal(t, "First", units[0].Fields["title"])
}

func TestReadCSV_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"missing id column", "title,abstract\na,b\n", "missing id column"},
		{"empty id", "id,title\n,a\n", "line 2: empty id"},
		{"duplicate id", "id,title\nx,a\ny,b\nx,c\n", "duplicate id \"x\" (first seen on line 2)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCSV(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestReadCSV_Empty(t *testing.T) {
	units, err := ReadCSV(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, units)
}

func TestReadCSVFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "samples.csv")
	require.NoError(t, os.WriteFile(path, []byte("id,title,abstract\na,t,b\n"), 0644))
	units, err := ReadCSVFile(path)
	require.NoError(t, err)
	assert.Len(t, units, 1)

	_, err = ReadCSVFile(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}

func newWriter(t *testing.T) *persistence.RecordWriter {
	t.Helper()
	w, err := persistence.NewRecordWriter(t.TempDir())
	require.NoError(t, err)
	return w
}

func TestRunner_CollectsFailuresWithoutAborting(t *testing.T) {
	writer := newWriter(t)
	runner := NewRunner(Config{Concurrency: 2}, writer, zap.NewNop())

	units := []Unit{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}}
	report, err := runner.Run(context.Background(), units, func(_ context.Context, u Unit) (any, error) {
		if u.ID == "b" || u.ID == "d" {
			return nil, errors.New("extraction failed")
		}
		return map[string]string{"id": u.ID}, nil
	})
	require.NoError(t, err)

	assert.Equal(t, 4, report.Total)
	assert.Equal(t, 2, report.Succeeded)
	require.Len(t, report.Failed, 2)
	assert.Equal(t, "b", report.Failed[0].ID)
	assert.Equal(t, "d", report.Failed[1].ID)
	assert.EqualError(t, report.Failed[0], "unit b: extraction failed")

	assert.True(t, writer.Exists("a"))
	assert.True(t, writer.Exists("c"))
	assert.False(t, writer.Exists("b"))
}

func TestRunner_SkipExisting(t *testing.T) {
	writer := newWriter(t)
	require.NoError(t, writer.Write("done", map[string]int{"n": 1}))

	var calls atomic.Int32
	runner := NewRunner(DefaultConfig(), writer, nil)
	report, err := runner.Run(context.Background(), []Unit{{ID: "done"}, {ID: "new"}}, func(context.Context, Unit) (any, error) {
		calls.Add(1)
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, report.Succeeded)
}

func TestRunner_BoundedConcurrency(t *testing.T) {
	var running, peak atomic.Int32
	runner := NewRunner(Config{Concurrency: 3}, nil, nil)

	units := make([]Unit, 12)
	for i := range units {
		units[i] = Unit{ID: string(rune('a' + i))}
	}
	report, err := runner.Run(context.Background(), units, func(context.Context, Unit) (any, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 12, report.Succeeded)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestRunner_UnitTimeout(t *testing.T) {
	runner := NewRunner(Config{Concurrency: 1, UnitTimeout: 20 * time.Millisecond}, nil, nil)
	report, err := runner.Run(context.Background(), []Unit{{ID: "slow"}}, func(ctx context.Context, _ Unit) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.NoError(t, err)
	require.Len(t, report.Failed, 1)
	assert.ErrorIs(t, report.Failed[0], context.DeadlineExceeded)
}

func TestRunner_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int32
	runner := NewRunner(Config{Concurrency: 1}, nil, nil)
	_, err := runner.Run(ctx, []Unit{{ID: "a"}, {ID: "b"}}, func(context.Context, Unit) (any, error) {
		calls.Add(1)
		return nil, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls.Load())
}
