package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func TestGormLogger_Trace(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewGormLogger(zap.New(core), 10*time.Millisecond)
	ctx := context.Background()
	fc := func() (string, int64) { return "SELECT 1", 1 }

	l.Trace(ctx, time.Now(), fc, nil)
	assert.Equal(t, 0, logs.Len(), "fast queries are not logged at warn level")

	l.Trace(ctx, time.Now().Add(-time.Second), fc, nil)
	l.Trace(ctx, time.Now(), fc, errors.New("boom"))
	l.Trace(ctx, time.Now(), fc, gorm.ErrRecordNotFound)

	entries := logs.All()
	if assert.Len(t, entries, 2) {
		assert.Equal(t, "slow query", entries[0].Message)
		assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
		assert.Equal(t, "query failed", entries[1].Message)
	}

	silent := l.LogMode(gormlogger.Silent)
	silent.Trace(ctx, time.Now(), fc, errors.New("boom"))
	assert.Equal(t, 2, logs.Len())

	verbose := l.LogMode(gormlogger.Info)
	verbose.Trace(ctx, time.Now(), fc, nil)
	verbose.Info(ctx, "hello %s", "gorm")
	assert.Equal(t, 4, logs.Len())
}
