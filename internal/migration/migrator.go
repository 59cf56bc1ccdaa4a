package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

//go:embed migrations
var migrationsFS embed.FS

// DefaultTable 记录迁移版本的表
const DefaultTable = "schema_migrations"

// DatabaseType 数据库方言
type DatabaseType string

const (
	DatabaseTypePostgres DatabaseType = "postgres"
	DatabaseTypeMySQL    DatabaseType = "mysql"
	DatabaseTypeSQLite   DatabaseType = "sqlite"
)

// MigrationStatus 单个迁移的状态
type MigrationStatus struct {
	Version uint
	Name    string
	Applied bool
	Dirty   bool
}

// MigrationInfo 迁移概况
type MigrationInfo struct {
	CurrentVersion    uint
	Dirty             bool
	TotalMigrations   int
	AppliedMigrations int
	PendingMigrations int
}

// Migrator 迁移操作集合，CLI 依赖这个接口
type Migrator interface {
	Up(ctx context.Context) error
	Down(ctx context.Context) error
	DownAll(ctx context.Context) error
	Steps(ctx context.Context, n int) error
	Goto(ctx context.Context, version uint) error
	Force(ctx context.Context, version int) error
	Version(ctx context.Context) (uint, bool, error)
	Status(ctx context.Context) ([]MigrationStatus, error)
	Info(ctx context.Context) (*MigrationInfo, error)
	Close() error
}

// Option 配置 SchemaMigrator
type Option func(*SchemaMigrator)

// WithTable 修改版本表名
func WithTable(name string) Option {
	return func(m *SchemaMigrator) {
		if name != "" {
			m.table = name
		}
	}
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(m *SchemaMigrator) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// SchemaMigrator 基于 golang-migrate 管理会话归档表的 schema。
// 它复用调用方打开的 *sql.DB，Close 会连同关闭该连接。
type SchemaMigrator struct {
	dbType  DatabaseType
	table   string
	logger  *zap.Logger
	migrate *migrate.Migrate
}

var _ Migrator = (*SchemaMigrator)(nil)

// NewMigrator wraps db with the embedded migrations of dbType.
func NewMigrator(db *sql.DB, dbType DatabaseType, opts ...Option) (*SchemaMigrator, error) {
	if db == nil {
		return nil, errors.New("database connection is required")
	}
	m := &SchemaMigrator{
		dbType: dbType,
		table:  DefaultTable,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(zap.String("component", "migration"), zap.String("dialect", string(dbType)))

	driver, err := m.databaseDriver(db)
	if err != nil {
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}
	src, err := iofs.New(migrationsFS, sourceDir(dbType))
	if err != nil {
		return nil, fmt.Errorf("failed to create source driver: %w", err)
	}
	m.migrate, err = migrate.NewWithInstance("iofs", src, string(dbType), driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.migrate.Log = migrateLogger{m.logger}
	return m, nil
}

func (m *SchemaMigrator) databaseDriver(db *sql.DB) (database.Driver, error) {
	switch m.dbType {
	case DatabaseTypePostgres:
		return postgres.WithInstance(db, &postgres.Config{MigrationsTable: m.table})
	case DatabaseTypeMySQL:
		return mysql.WithInstance(db, &mysql.Config{MigrationsTable: m.table})
	case DatabaseTypeSQLite:
		return sqlite3.WithInstance(db, &sqlite3.Config{MigrationsTable: m.table})
	default:
		return nil, fmt.Errorf("unsupported database type: %s", m.dbType)
	}
}

func sourceDir(dbType DatabaseType) string {
	return path.Join("migrations", string(dbType))
}

// run 执行一次迁移，ctx 取消时在当前迁移文件完成后停止
func (m *SchemaMigrator) run(ctx context.Context, op string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-m.migrate.GracefulStop:
	default:
	}
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			select {
			case m.migrate.GracefulStop <- true:
			default:
			}
		case <-done:
		}
	}()

	start := time.Now()
	if err := fn(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration %s failed: %w", op, err)
	}
	m.logger.Info("migration finished", zap.String("op", op), zap.Duration("duration", time.Since(start)))
	return nil
}

// Up applies all pending migrations.
func (m *SchemaMigrator) Up(ctx context.Context) error {
	return m.run(ctx, "up", m.migrate.Up)
}

// Down rolls back the last migration.
func (m *SchemaMigrator) Down(ctx context.Context) error {
	return m.run(ctx, "down", func() error { return m.migrate.Steps(-1) })
}

// DownAll rolls back every migration.
func (m *SchemaMigrator) DownAll(ctx context.Context) error {
	return m.run(ctx, "down all", m.migrate.Down)
}

// Steps applies (n > 0) or rolls back (n < 0) n migrations.
func (m *SchemaMigrator) Steps(ctx context.Context, n int) error {
	return m.run(ctx, "steps", func() error { return m.migrate.Steps(n) })
}

// Goto migrates up or down to version.
func (m *SchemaMigrator) Goto(ctx context.Context, version uint) error {
	return m.run(ctx, "goto", func() error { return m.migrate.Migrate(version) })
}

// Force sets the version without running migrations, clearing the dirty flag.
func (m *SchemaMigrator) Force(_ context.Context, version int) error {
	if err := m.migrate.Force(version); err != nil {
		return fmt.Errorf("migration force failed: %w", err)
	}
	return nil
}

// Version returns the applied version; 0 means nothing applied.
func (m *SchemaMigrator) Version(context.Context) (uint, bool, error) {
	version, dirty, err := m.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get version: %w", err)
	}
	return version, dirty, nil
}

// Status lists every embedded migration with its applied state.
func (m *SchemaMigrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	current, dirty, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}
	files, err := availableMigrations(m.dbType)
	if err != nil {
		return nil, err
	}
	statuses := make([]MigrationStatus, 0, len(files))
	for _, f := range files {
		statuses = append(statuses, MigrationStatus{
			Version: f.version,
			Name:    f.name,
			Applied: f.version <= current,
			Dirty:   dirty && f.version == current,
		})
	}
	return statuses, nil
}

// Info summarizes the migration state.
func (m *SchemaMigrator) Info(ctx context.Context) (*MigrationInfo, error) {
	statuses, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}
	current, dirty, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}
	info := &MigrationInfo{CurrentVersion: current, Dirty: dirty, TotalMigrations: len(statuses)}
	for _, s := range statuses {
		if s.Applied {
			info.AppliedMigrations++
		}
	}
	info.PendingMigrations = info.TotalMigrations - info.AppliedMigrations
	return info, nil
}

// Close releases the source and database drivers.
func (m *SchemaMigrator) Close() error {
	srcErr, dbErr := m.migrate.Close()
	return errors.Join(srcErr, dbErr)
}

type migrationFile struct {
	version uint
	name    string
}

// availableMigrations 解析 000001_name.up.sql 形式的文件名
func availableMigrations(dbType DatabaseType) ([]migrationFile, error) {
	entries, err := fs.ReadDir(migrationsFS, sourceDir(dbType))
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}
	var files []migrationFile
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		num, rest, ok := strings.Cut(name, "_")
		if !ok {
			continue
		}
		version, err := strconv.ParseUint(num, 10, 32)
		if err != nil {
			continue
		}
		files = append(files, migrationFile{version: uint(version), name: strings.TrimSuffix(rest, ".up.sql")})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].version < files[j].version })
	return files, nil
}

// ParseDatabaseType accepts the driver names used in configuration.
func ParseDatabaseType(s string) (DatabaseType, error) {
	switch strings.ToLower(s) {
	case "postgres", "postgresql", "pg":
		return DatabaseTypePostgres, nil
	case "mysql", "mariadb":
		return DatabaseTypeMySQL, nil
	case "sqlite", "sqlite3":
		return DatabaseTypeSQLite, nil
	default:
		return "", fmt.Errorf("unsupported database type: %s", s)
	}
}

// migrateLogger 把 golang-migrate 的日志转到 zap
type migrateLogger struct {
	logger *zap.Logger
}

func (l migrateLogger) Printf(format string, v ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l migrateLogger) Verbose() bool { return false }
