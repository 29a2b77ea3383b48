package cli

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"fieldvisit/common/database"
	"fieldvisit/internal/config"
)

// MigrateCmd 按文件名顺序执行 migrations 目录下尚未执行过的 .sql 文件
func MigrateCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending SQL migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			db, err := database.NewPostgresDB(&cfg.Database)
			if err != nil {
				return fmt.Errorf("cannot connect to database: %w", err)
			}
			defer db.Close()

			fmt.Printf("Connected to database: %s\n\n", cfg.Database.Database)
			applied, err := applyMigrations(cmd.Context(), db, dir, func(name string) {
				fmt.Printf("Applied %s\n", name)
			})
			if err != nil {
				return err
			}
			fmt.Printf("\nMigration completed, %d file(s) applied\n", applied)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "migrations", "directory containing *.sql migrations")
	return cmd
}

func applyMigrations(ctx context.Context, db *sql.DB, dir string, onApplied func(string)) (int, error) {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name       TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return 0, fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return 0, fmt.Errorf("failed to list migrations: %w", err)
	}
	sort.Strings(files)

	applied := 0
	for _, file := range files {
		name := filepath.Base(file)
		var done bool
		if err := db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE name = $1)`, name).Scan(&done); err != nil {
			return applied, fmt.Errorf("failed to check migration %s: %w", name, err)
		}
		if done {
			continue
		}
		content, err := os.ReadFile(file)
		if err != nil {
			return applied, fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		if err := applyFile(ctx, db, name, string(content)); err != nil {
			return applied, err
		}
		applied++
		if onApplied != nil {
			onApplied(name)
		}
	}
	return applied, nil
}

// applyFile 在单个事务中执行一个迁移文件并记录
func applyFile(ctx context.Context, db *sql.DB, name, content string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i, stmt := range splitStatements(content) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: statement %d failed: %w", name, i+1, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, name); err != nil {
		return fmt.Errorf("failed to record migration %s: %w", name, err)
	}
	return tx.Commit()
}

// splitStatements 按分号切分，去掉注释行和空语句
// 迁移文件中不使用函数体等包含分号的语句
func splitStatements(content string) []string {
	var lines []string
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		lines = append(lines, line)
	}
	var out []string
	for _, stmt := range strings.Split(strings.Join(lines, "\n"), ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
