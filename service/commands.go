package service

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"classicboard/app/docstore"

	"github.com/go-extras/cobraflags"
	"github.com/spf13/cobra"
)

const (
	backupDirFlag = "dir"
	yesFlag       = "yes"
)

// confirm asks a yes/no question; anything but y or Y is a no.
func confirm(cmd *cobra.Command, question string) bool {
	fmt.Fprintf(cmd.OutOrStdout(), "%s [y/N] ", question)
	response, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	response = strings.TrimSpace(response)
	return response == "y" || response == "Y"
}

func dbExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func newInitCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize a new empty database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			dbPath := a.cfg.Store.Path
			if dbExists(dbPath) {
				fmt.Fprintln(out, "Database already exists. Use 'clean' first if you want to reinitialize.")
				return nil
			}
			if err := os.MkdirAll(dbPath, 0755); err != nil {
				return fmt.Errorf("failed to create database directory: %w", err)
			}
			db, err := docstore.OpenDB(dbPath, false)
			if err != nil {
				return fmt.Errorf("failed to initialize database: %w", err)
			}
			if err := db.Close(); err != nil {
				return fmt.Errorf("failed to initialize database: %w", err)
			}
			fmt.Fprintln(out, "Database initialized successfully")
			return nil
		},
	}
}

func newCleanCommand(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Delete the database with all posts and accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			dbPath := a.cfg.Store.Path
			if !dbExists(dbPath) {
				fmt.Fprintln(out, "Database is already clean (does not exist)")
				return nil
			}
			if !yes && !confirm(cmd, "Are you sure you want to clean the database? This cannot be undone.") {
				fmt.Fprintln(out, "Operation cancelled")
				return nil
			}
			if err := os.RemoveAll(dbPath); err != nil {
				return fmt.Errorf("failed to clean database: %w", err)
			}
			fmt.Fprintln(out, "Database cleaned successfully")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, yesFlag, "y", false, "do not ask for confirmation")
	return cmd
}

func newBackupCommand(a *app) *cobra.Command {
	flags := map[string]cobraflags.Flag{
		backupDirFlag: &cobraflags.StringFlag{
			Name:  backupDirFlag,
			Value: filepath.Join("data", "backups"),
			Usage: "Directory the backup file is written to",
		},
	}
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create a backup of the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			dbPath := a.cfg.Store.Path
			if !dbExists(dbPath) {
				fmt.Fprintln(out, "No database exists to backup")
				return nil
			}

			backupDir := flags[backupDirFlag].GetString()
			if err := os.MkdirAll(backupDir, 0755); err != nil {
				return fmt.Errorf("failed to create backup directory: %w", err)
			}
			backupFile := filepath.Join(backupDir, fmt.Sprintf("backup_%d.db", time.Now().Unix()))
			if err := a.withStore(func(store *docstore.BadgerStore) error {
				return writeFile(backupFile, store.Backup)
			}); err != nil {
				return fmt.Errorf("failed to backup database: %w", err)
			}
			fmt.Fprintf(out, "Database backed up successfully to %s\n", backupFile)
			return nil
		},
	}
	cobraflags.RegisterMap(cmd, flags)
	return cmd
}

func newRestoreCommand(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "restore <file>",
		Short: "Restore the database from a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			backupFile := args[0]
			fi, err := os.Stat(backupFile)
			if err != nil {
				return fmt.Errorf("backup file does not exist: %s", backupFile)
			}
			if fi.Size() == 0 {
				return fmt.Errorf("backup file is empty: %s", backupFile)
			}

			dbPath := a.cfg.Store.Path
			if dbExists(dbPath) {
				if !yes && !confirm(cmd, "Existing database found. Do you want to replace it?") {
					fmt.Fprintln(out, "Operation cancelled")
					return nil
				}
				if err := os.RemoveAll(dbPath); err != nil {
					return fmt.Errorf("failed to remove existing database: %w", err)
				}
			}
			if err := os.MkdirAll(dbPath, 0755); err != nil {
				return fmt.Errorf("failed to create database directory: %w", err)
			}

			f, err := os.Open(backupFile)
			if err != nil {
				return fmt.Errorf("failed to open backup file: %w", err)
			}
			defer f.Close()
			if err := a.withStore(func(store *docstore.BadgerStore) error {
				return store.Restore(f)
			}); err != nil {
				return fmt.Errorf("failed to restore database: %w", err)
			}
			fmt.Fprintln(out, "Database restored successfully")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, yesFlag, "y", false, "do not ask for confirmation")
	return cmd
}

// withStore opens the on-disk store for the duration of fn.
func (a *app) withStore(fn func(*docstore.BadgerStore) error) error {
	db, err := docstore.OpenDB(a.cfg.Store.Path, false)
	if err != nil {
		return err
	}
	defer db.Close()
	store := docstore.New(db, a.logger)
	defer store.Close()
	return fn(store)
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
