// Package cli implements the casjobs command-line client.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"sciserver-casjobs/internal/casjobs"
	"sciserver-casjobs/internal/config"
)

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var httpErr *casjobs.HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusUnauthorized {
			return 3
		}
		return 1
	}
	return 0
}

// app holds the settings resolved from flags, environment and profile.
type app struct {
	cfg      config.Config
	format   string
	taskName string
	verbose  bool
}

func (a *app) callOptions() []casjobs.CallOption {
	if a.taskName == "" {
		return nil
	}
	return []casjobs.CallOption{casjobs.WithTaskName(a.taskName)}
}

func (a *app) client(cmd *cobra.Command) (*casjobs.Client, error) {
	level := slog.LevelWarn
	if a.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	return casjobs.New(a.cfg, casjobs.WithLogger(logger))
}

func newRootCmd() *cobra.Command {
	var (
		a       app
		restURI string
		token   string
		dbCtx   string
		profile string
	)

	rootCmd := &cobra.Command{
		Use:           "casjobs",
		Short:         "SciServer CasJobs client",
		Long:          "Run queries, batch jobs and uploads against a CasJobs REST API.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a.cfg = config.Load()

			// Config file is optional.
			uc, err := config.LoadUserConfig()
			if err != nil {
				uc = &config.UserConfig{CurrentProfile: "default", Profiles: map[string]config.Profile{}}
			}
			p := uc.ActiveProfile(profile)

			// Precedence: flag > env > profile > default.
			a.cfg.RESTURI = resolve(cmd, "rest-uri", restURI, "CASJOBS_REST_URI", p.RESTURI, a.cfg.RESTURI)
			a.cfg.Token = resolve(cmd, "token", token, "SCISERVER_TOKEN", p.Token, a.cfg.Token)
			a.cfg.DefaultContext = resolve(cmd, "context", dbCtx, "CASJOBS_CONTEXT", p.Context, a.cfg.DefaultContext)
			a.format = resolve(cmd, "format", a.format, "CASJOBS_OUTPUT", p.Output, a.format)

			if _, err := casjobs.ParseFormat(a.format); err != nil {
				return err
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&restURI, "rest-uri", "", "CasJobs REST API root")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "SciServer token")
	rootCmd.PersistentFlags().StringVarP(&dbCtx, "context", "c", "", "Database context (default MyDB)")
	rootCmd.PersistentFlags().StringVarP(&a.format, "format", "f", "csv", "Result format (pandas, json, csv, dict, readable, fits)")
	rootCmd.PersistentFlags().StringVarP(&profile, "profile", "p", "", "Config profile to use")
	rootCmd.PersistentFlags().StringVar(&a.taskName, "task-name", "", "Task name reported to CasJobs")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Log every API call")

	rootCmd.AddCommand(newQueryCmd(&a))
	rootCmd.AddCommand(newBatchCmd(&a))
	rootCmd.AddCommand(newFITSCmd(&a))
	rootCmd.AddCommand(newSubmitCmd(&a))
	rootCmd.AddCommand(newStatusCmd(&a))
	rootCmd.AddCommand(newCancelCmd(&a))
	rootCmd.AddCommand(newWaitCmd(&a))
	rootCmd.AddCommand(newUploadCmd(&a))
	rootCmd.AddCommand(newTablesCmd(&a))
	rootCmd.AddCommand(newSchemaCmd(&a))
	rootCmd.AddCommand(newConfigCmd())
	return rootCmd
}

func resolve(cmd *cobra.Command, flag, flagValue, env, profileValue, def string) string {
	if cmd.Flags().Changed(flag) {
		return flagValue
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	if profileValue != "" {
		return profileValue
	}
	return def
}
