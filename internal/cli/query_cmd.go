package cli

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"sciserver-casjobs/internal/casjobs"
	"sciserver-casjobs/internal/sink"
)

func newQueryCmd(a *app) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "query <sql>",
		Short: "Run a query synchronously and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := casjobs.ParseFormat(a.format)
			if err != nil {
				return err
			}
			client, err := a.client(cmd)
			if err != nil {
				return err
			}
			result, err := client.ExecuteQuery(cmd.Context(), a.cfg.DefaultContext, args[0], format, a.callOptions()...)
			if err != nil {
				return err
			}

			var buf bytes.Buffer
			if err := renderOutput(&buf, result); err != nil {
				return err
			}
			if out != "" {
				return putExport(cmd, a, out, buf.Bytes())
			}
			_, err = cmd.OutOrStdout().Write(buf.Bytes())
			return err
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "Write the result to a file or s3://bucket/key instead of stdout")
	return cmd
}

func newBatchCmd(a *app) *cobra.Command {
	var combine bool

	cmd := &cobra.Command{
		Use:   "batch <sql>...",
		Short: "Run several queries concurrently",
		Long:  "Run several queries concurrently. Results are printed in argument order.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client(cmd)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if combine {
				t, err := client.ExecuteBatchTable(cmd.Context(), a.cfg.DefaultContext, args, a.callOptions()...)
				if err != nil {
					return err
				}
				return t.WriteCSV(w)
			}
			results, err := client.ExecuteBatch(cmd.Context(), a.cfg.DefaultContext, args, a.callOptions()...)
			if err != nil {
				return err
			}
			return printJSON(w, results)
		},
	}
	cmd.Flags().BoolVar(&combine, "combine", false, "Concatenate the first result set of every query into one CSV table")
	return cmd
}

func newFITSCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "fits <sql> <dest>",
		Short: "Run a query and save the FITS result to a file or s3://bucket/key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client(cmd)
			if err != nil {
				return err
			}
			sql, dest := args[0], args[1]
			if !strings.HasPrefix(dest, "s3://") {
				if err := client.WriteFITSFile(cmd.Context(), dest, a.cfg.DefaultContext, sql, a.callOptions()...); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", dest)
				return nil
			}
			result, err := client.ExecuteQuery(cmd.Context(), a.cfg.DefaultContext, sql, casjobs.FormatFITS, a.callOptions()...)
			if err != nil {
				return err
			}
			data, err := io.ReadAll(result.Stream)
			if err != nil {
				return fmt.Errorf("read fits result: %w", err)
			}
			return putExport(cmd, a, dest, data)
		},
	}
}

func putExport(cmd *cobra.Command, a *app, dest string, data []byte) error {
	s, key, err := sink.Open(cmd.Context(), a.cfg, dest)
	if err != nil {
		return err
	}
	where, err := s.Put(cmd.Context(), key, data, sink.ContentType(key))
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", where)
	return nil
}

// renderOutput writes a decoded query result in its natural text form.
func renderOutput(w io.Writer, out *casjobs.Output) error {
	switch out.Format {
	case casjobs.FormatTable:
		for i, t := range out.Tables {
			if i > 0 {
				if _, err := io.WriteString(w, "\n"); err != nil {
					return err
				}
			}
			if err := t.WriteCSV(w); err != nil {
				return err
			}
		}
		return nil
	case casjobs.FormatJSON, casjobs.FormatCSV:
		_, err := io.WriteString(w, out.Text)
		return err
	case casjobs.FormatMap:
		return printJSON(w, out.Map)
	case casjobs.FormatReadable, casjobs.FormatFITS:
		_, err := io.Copy(w, out.Stream)
		return err
	}
	return &casjobs.FormatError{Value: out.Format.String()}
}
