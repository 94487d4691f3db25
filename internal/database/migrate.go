package database

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"finsys/internal/middleware"
	"finsys/internal/models"

	"gorm.io/gorm"
)

// Migration is one versioned SQL script pair.
type Migration struct {
	Version    int
	Name       string
	UpScript   string
	DownScript string
}

// MigrationLog represents a record of an applied migration in the database.
type MigrationLog struct {
	Version   int       `gorm:"primaryKey;autoIncrement:false"`
	Name      string    `gorm:"size:255"`
	AppliedAt time.Time `gorm:"autoCreateTime"`
}

// TableName returns the database table name for MigrationLog.
func (MigrationLog) TableName() string {
	return "migration_logs"
}

//go:embed migrations/*.sql
var migrationFS embed.FS

const onePendingIndexSQL = `CREATE UNIQUE INDEX IF NOT EXISTS idx_payout_requests_one_pending
	ON payout_requests (user_id) WHERE status = 'pending'`

// LoadMigrations reads the versioned scripts from fsys, sorted by version.
// Files are named NNNN_name.up.sql with a matching .down.sql.
func LoadMigrations(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var out []Migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}

		base := strings.TrimSuffix(name, ".up.sql")
		parts := strings.SplitN(base, "_", 2)
		if len(parts) != 2 {
			middleware.Logger.Warn("Skipping migration with invalid naming", slog.String("file", name))
			continue
		}
		version, err := strconv.Atoi(parts[0])
		if err != nil {
			middleware.Logger.Warn("Skipping migration with invalid version", slog.String("file", name))
			continue
		}

		up, err := fs.ReadFile(fsys, path.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read up migration %s: %w", name, err)
		}
		down, err := fs.ReadFile(fsys, path.Join(dir, base+".down.sql"))
		if err != nil {
			return nil, fmt.Errorf("failed to read down migration %s.down.sql: %w", base, err)
		}

		out = append(out, Migration{
			Version:    version,
			Name:       parts[1],
			UpScript:   string(up),
			DownScript: string(down),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Migrate applies every embedded migration not yet recorded in migration_logs.
// Each script and its log row commit together.
func Migrate(ctx context.Context, db *gorm.DB) error {
	migrations, err := LoadMigrations(migrationFS, "migrations")
	if err != nil {
		return err
	}
	return applyMigrations(ctx, db, migrations)
}

func applyMigrations(ctx context.Context, db *gorm.DB, migrations []Migration) error {
	if err := db.WithContext(ctx).AutoMigrate(&MigrationLog{}); err != nil {
		return fmt.Errorf("failed to create migration log table: %w", err)
	}

	var applied []int
	if err := db.WithContext(ctx).Model(&MigrationLog{}).Pluck("version", &applied).Error; err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}
	done := make(map[int]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}

	for _, m := range migrations {
		if done[m.Version] {
			continue
		}
		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Exec(m.UpScript).Error; err != nil {
				return err
			}
			return tx.Create(&MigrationLog{Version: m.Version, Name: m.Name}).Error
		})
		if err != nil {
			return fmt.Errorf("migration %04d_%s failed: %w", m.Version, m.Name, err)
		}
		middleware.Logger.Info("Applied migration",
			slog.Int("version", m.Version), slog.String("name", m.Name))
	}
	return nil
}

// AutoMigrate builds the schema from the models instead of the SQL scripts.
// It is meant for SQLite-backed tests and local tooling.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.PayoutRequest{}); err != nil {
		return fmt.Errorf("failed to auto-migrate: %w", err)
	}
	if err := db.Exec(onePendingIndexSQL).Error; err != nil {
		return fmt.Errorf("failed to create pending index: %w", err)
	}
	return nil
}
