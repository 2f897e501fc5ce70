package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"

	"github.com/circlehub/newsletter/internal/config"
	"github.com/circlehub/newsletter/internal/database"
	"github.com/circlehub/newsletter/internal/logger"
)

var (
	cfg       *config.Config
	sourceURL string
	log       = logger.New("info", "text").WithComponent("migrate")
)

var rootCmd = &cobra.Command{
	Use:           "migrate",
	Short:         "Manage the newsletter database schema",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var upCmd = &cobra.Command{
	Use:   "up [steps]",
	Short: "Apply pending migrations, all of them unless steps is given",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		steps, err := parseSteps(args, 0)
		if err != nil {
			return err
		}
		return withMigrator(cmd.Context(), func(m *migrate.Migrate) error {
			if steps == 0 {
				return m.Up()
			}
			return m.Steps(steps)
		})
	},
}

var downCmd = &cobra.Command{
	Use:   "down [steps]",
	Short: "Roll back migrations, one unless steps is given",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		steps, err := parseSteps(args, 1)
		if err != nil {
			return err
		}
		return withMigrator(cmd.Context(), func(m *migrate.Migrate) error {
			return m.Steps(-steps)
		})
	},
}

var forceCmd = &cobra.Command{
	Use:   "force <version>",
	Short: "Mark the schema as being at version and clear the dirty flag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		version, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid version %q", args[0])
		}
		return withMigrator(cmd.Context(), func(m *migrate.Migrate) error {
			return m.Force(version)
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current schema version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(cmd.Context(), func(m *migrate.Migrate) error {
			version, dirty, err := m.Version()
			if errors.Is(err, migrate.ErrNilVersion) {
				fmt.Println("No migrations have been applied")
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to get version: %w", err)
			}
			fmt.Printf("Current version: %d\nDirty: %v\n", version, dirty)
			return nil
		})
	},
}

var createCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create an empty up/down migration pair",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, ok := strings.CutPrefix(sourceURL, "file://")
		if !ok {
			return fmt.Errorf("create needs a file:// source, got %q", sourceURL)
		}
		up, down, err := createMigration(dir, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Created migration files:\n  %s\n  %s\n", up, down)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&sourceURL, "source", "", "migration source URL (default from database.migrations)")
	rootCmd.AddCommand(upCmd, downCmd, forceCmd, statusCmd, createCmd)
}

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load config: %v\n", err)
		os.Exit(1)
	}
	if sourceURL == "" {
		sourceURL = cfg.Database.Migrations
	}

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// withMigrator connects, runs fn and reports the schema version afterwards.
// ErrNoChange from fn is treated as success.
func withMigrator(ctx context.Context, fn func(*migrate.Migrate) error) error {
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	m, err := db.Migrator(ctx, sourceURL)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := fn(m); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	if version, dirty, err := m.Version(); err == nil {
		log.Info().Uint("version", version).Bool("dirty", dirty).Str("source", sourceURL).Msg("schema version")
	}
	return nil
}

func parseSteps(args []string, fallback int) (int, error) {
	if len(args) == 0 {
		return fallback, nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("steps must be a positive integer, got %q", args[0])
	}
	return n, nil
}

// createMigration writes the next numbered up/down pair into dir. The
// version is one past the highest existing prefix.
func createMigration(dir, name string) (string, string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("failed to create migrations directory: %w", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", "", fmt.Errorf("failed to read migrations directory: %w", err)
	}

	next := 1
	for _, entry := range entries {
		prefix, _, ok := strings.Cut(entry.Name(), "_")
		if !ok {
			continue
		}
		if v, err := strconv.Atoi(prefix); err == nil && v >= next {
			next = v + 1
		}
	}

	name = strings.ReplaceAll(strings.TrimSpace(name), " ", "_")
	up := filepath.Join(dir, fmt.Sprintf("%06d_%s.up.sql", next, name))
	down := filepath.Join(dir, fmt.Sprintf("%06d_%s.down.sql", next, name))

	if err := os.WriteFile(up, []byte("-- Add migration SQL here\n"), 0o644); err != nil {
		return "", "", fmt.Errorf("failed to create up migration: %w", err)
	}
	if err := os.WriteFile(down, []byte("-- Add rollback SQL here\n"), 0o644); err != nil {
		return "", "", fmt.Errorf("failed to create down migration: %w", err)
	}
	return up, down, nil
}
