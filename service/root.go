// Package service wires the board together and exposes it as a command line.
package service

import (
	"fmt"
	"log/slog"

	"classicboard/config"

	"github.com/spf13/cobra"
)

// CliVersion is reported by the version command.
const CliVersion = "1.0.0"

// app holds what every command needs once flags are parsed.
type app struct {
	configFile string
	cfg        *config.Config
	logger     *slog.Logger
}

// NewRootCommand builds the classicboard command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "classicboard",
		Short: "A community posting board with a live feed",
		Long: `classicboard runs a small community board: users sign up with an email
and password, then read and write short posts in a shared feed that updates live.

Run "classicboard serve" to start the server, then use the other commands as a
client against it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}
	root.PersistentFlags().StringVar(&a.configFile, "config", "", "config file (default ./config.yaml)")

	root.AddCommand(
		newServeCommand(a),
		newSignUpCommand(a),
		newLoginCommand(a),
		newLogoutCommand(a),
		newWhoAmICommand(a),
		newPostCommand(a),
		newWatchCommand(a),
		newInitCommand(a),
		newCleanCommand(a),
		newBackupCommand(a),
		newRestoreCommand(a),
		newVersionCommand(),
	)
	return root
}

func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configFile)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: cfg.LogLevel(),
	}))
	return nil
}

// Execute runs the command line with args and returns the exit code.
func Execute(args []string) int {
	root := NewRootCommand()
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
		return 1
	}
	return 0
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "classicboard version %s\n", CliVersion)
		},
	}
}
