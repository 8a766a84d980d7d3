package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"sciserver-casjobs/internal/casjobs"
	"sciserver-casjobs/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage CLI configuration profiles",
	}
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigSetProfileCmd())
	cmd.AddCommand(newConfigUseProfileCmd())
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var reveal bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display the profile file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			uc, err := config.LoadUserConfig()
			if err != nil {
				return fmt.Errorf("no configuration at %s: %w", config.ProfilePath(), err)
			}
			if !reveal {
				uc = maskConfig(uc)
			}
			data, err := yaml.Marshal(uc)
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().BoolVar(&reveal, "reveal", false, "Show tokens unmasked")
	return cmd
}

func maskConfig(uc *config.UserConfig) *config.UserConfig {
	masked := &config.UserConfig{
		CurrentProfile: uc.CurrentProfile,
		Profiles:       make(map[string]config.Profile, len(uc.Profiles)),
	}
	for name, p := range uc.Profiles {
		p.Token = maskSecret(p.Token)
		masked.Profiles[name] = p
	}
	return masked
}

// maskSecret shows the first and last 4 characters of s.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 10 {
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

func newConfigSetProfileCmd() *cobra.Command {
	var (
		name    string
		restURI string
		token   string
		dbCtx   string
		output  string
	)

	cmd := &cobra.Command{
		Use:   "set-profile",
		Short: "Create or update a configuration profile",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("output") {
				if _, err := casjobs.ParseFormat(output); err != nil {
					return err
				}
			}
			uc, err := config.LoadUserConfig()
			if err != nil {
				uc = &config.UserConfig{CurrentProfile: "default", Profiles: map[string]config.Profile{}}
			}

			p := uc.Profiles[name]
			if cmd.Flags().Changed("rest-uri") {
				p.RESTURI = restURI
			}
			if cmd.Flags().Changed("token") {
				p.Token = token
			}
			if cmd.Flags().Changed("context") {
				p.Context = dbCtx
			}
			if cmd.Flags().Changed("output") {
				p.Output = output
			}
			uc.Profiles[name] = p

			if err := config.SaveUserConfig(uc); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Profile %q saved to %s\n", name, config.ProfilePath())
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Profile name (required)")
	cmd.Flags().StringVar(&restURI, "rest-uri", "", "CasJobs REST API root")
	cmd.Flags().StringVar(&token, "token", "", "SciServer token")
	cmd.Flags().StringVar(&dbCtx, "context", "", "Default database context")
	cmd.Flags().StringVar(&output, "output", "", "Default result format")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newConfigUseProfileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use-profile <name>",
		Short: "Set the active configuration profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uc, err := config.LoadUserConfig()
			if err != nil {
				return fmt.Errorf("no config found: %w", err)
			}
			name := args[0]
			if _, ok := uc.Profiles[name]; !ok {
				return fmt.Errorf("profile %q not found", name)
			}
			uc.CurrentProfile = name
			if err := config.SaveUserConfig(uc); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Active profile set to %q\n", name)
			return nil
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
