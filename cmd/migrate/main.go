package main

import (
	"database/sql"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun/driver/pgdriver"

	"ms-restaurant/internal/config"
	"ms-restaurant/internal/database/migrations"
	"ms-restaurant/internal/logger"
)

var (
	dsn  string
	seed bool
	log  *logger.Logger
)

var rootCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the order service schema",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		log, err = logger.New(logger.Options{})
		return err
	},
}

// withRunner opens a connection for one command. The runner closes it.
func withRunner(fn func(r *migrations.Runner) error) error {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	if err := sqldb.Ping(); err != nil {
		sqldb.Close()
		return fmt.Errorf("connect to postgres: %w", err)
	}

	r := migrations.NewRunner(sqldb, migrations.MigrateOptions{AutoMigrate: true, SeedData: seed}, log)
	defer r.Close()
	if err := r.Initialize(); err != nil {
		return err
	}
	return fn(r)
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply the schema, plus demo data with --seed",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRunner(func(r *migrations.Runner) error {
			if seed {
				return r.MigrateUp()
			}
			return r.RunMigrations()
		})
	},
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back every migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRunner(func(r *migrations.Runner) error { return r.MigrateDown() })
	},
}

var toCmd = &cobra.Command{
	Use:   "to VERSION",
	Short: "Migrate up or down to VERSION",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[0], err)
		}
		return withRunner(func(r *migrations.Runner) error { return r.MigrateTo(uint(v)) })
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the applied version",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRunner(func(r *migrations.Runner) error {
			v, dirty, err := r.Version()
			if err != nil {
				return err
			}
			fmt.Printf("version %d (dirty: %t)\n", v, dirty)
			return nil
		})
	},
}

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	rootCmd.PersistentFlags().StringVar(&dsn, "dsn", cfg.Database.DSN, "postgres connection string")
	upCmd.Flags().BoolVar(&seed, "seed", cfg.Database.SeedData, "also insert demo users and menu")
	rootCmd.AddCommand(upCmd, downCmd, toCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
