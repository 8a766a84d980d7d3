package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"sciserver-casjobs/internal/models"
)

func parseJobID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid job id %q", s)
	}
	return id, nil
}

func newSubmitCmd(a *app) *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "submit <sql>",
		Short: "Submit a batch job and print its id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client(cmd)
			if err != nil {
				return err
			}
			id, err := client.SubmitJob(cmd.Context(), a.cfg.DefaultContext, args[0], a.callOptions()...)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), id)
			if !wait {
				return nil
			}
			desc, err := client.WaitForJob(cmd.Context(), id, a.cfg.PollInterval, a.callOptions()...)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), desc)
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the job to finish")
	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status [job-id]",
		Short: "Show the status of one job, or of all jobs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client(cmd)
			if err != nil {
				return err
			}
			if len(args) == 0 {
				descs, err := client.ListJobStatuses(cmd.Context(), a.callOptions()...)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), descs)
			}
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			desc, err := client.GetJobStatus(cmd.Context(), id, a.callOptions()...)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), desc)
		},
	}
}

func newCancelCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			client, err := a.client(cmd)
			if err != nil {
				return err
			}
			if err := client.CancelJob(cmd.Context(), id, a.callOptions()...); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "cancel requested for job %d\n", id)
			return nil
		},
	}
}

func newWaitCmd(a *app) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "wait <job-id>",
		Short: "Block until a job is canceled, failed or finished",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			client, err := a.client(cmd)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("interval") {
				interval = a.cfg.PollInterval
			}
			desc, err := client.WaitForJob(cmd.Context(), id, interval, a.callOptions()...)
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), desc); err != nil {
				return err
			}
			if desc.Status != models.StatusFinished {
				return fmt.Errorf("job %d ended with status %s", id, desc.Status)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "Poll interval (at least 5s)")
	return cmd
}
