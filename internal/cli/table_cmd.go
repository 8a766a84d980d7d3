package cli

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newUploadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <table> <file.csv|->",
		Short: "Create a table from CSV data",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
			)
			if args[1] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[1])
			}
			if err != nil {
				return fmt.Errorf("read csv: %w", err)
			}
			client, err := a.client(cmd)
			if err != nil {
				return err
			}
			if err := client.UploadCSV(cmd.Context(), a.cfg.DefaultContext, args[0], data, a.callOptions()...); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "uploaded %d bytes into %s\n", len(data), args[0])
			return nil
		},
	}
}

func newTablesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List the tables of the database context",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.client(cmd)
			if err != nil {
				return err
			}
			tables, err := client.GetTables(cmd.Context(), a.cfg.DefaultContext, a.callOptions()...)
			if err != nil {
				return err
			}
			if a.format == "json" {
				return printJSON(cmd.OutOrStdout(), tables)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "NAME\tROWS\tSIZE\tDATE")
			for _, t := range tables {
				_, _ = fmt.Fprintf(tw, "%s\t%d\t%g\t%s\n", t.Name, t.Rows, t.Size, time.Unix(t.Date, 0).UTC().Format(time.DateOnly))
			}
			return tw.Flush()
		},
	}
}

func newSchemaCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the user's CasJobs schema name",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.client(cmd)
			if err != nil {
				return err
			}
			name, err := client.GetSchemaName(cmd.Context(), a.callOptions()...)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), name)
			return nil
		},
	}
}
