package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/shpitdev/contact-enricher/internal/config"
	"github.com/shpitdev/contact-enricher/internal/redact"
)

var (
	initForce bool
	initPath  string
)

var credentialCmd = &cobra.Command{
	Use:   "credential",
	Short: "Manage the stored API key",
}

var credentialSetCmd = &cobra.Command{
	Use:   "set [key]",
	Short: "Store an API key (reads stdin when no key is given)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := firstArg(args)
		if key == "" {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return eris.Wrap(err, "read key from stdin")
			}
			key = strings.TrimSpace(line)
		}

		ctx := cmd.Context()
		s, done, err := openSession(ctx, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer done()

		if err := s.SetCredential(ctx, key); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "stored API key %s\n", redact.Credential(key))
		return nil
	},
}

var credentialShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the masked API key in use",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, done, err := openSession(cmd.Context(), cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer done()

		key := s.Settings().APIKey()
		if key == "" {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no API key configured")
			return nil
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), redact.Credential(key))
		return nil
	},
}

var credentialClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Forget the stored API key",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		s, done, err := openSession(ctx, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer done()
		return s.Settings().InvalidateCredential(ctx)
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear the stored API key, the remembered sheet and all cached results",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		s, done, err := openSession(ctx, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer done()

		if err := s.ResetSettings(ctx); err != nil {
			return err
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "settings reset")
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration helpers",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config.yaml with the default settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := config.WriteDefault(initPath, initForce); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", initPath)
		return nil
	},
}

func init() {
	configInitCmd.Flags().StringVar(&initPath, "path", "config.yaml", "file to write")
	configInitCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing file")

	credentialCmd.AddCommand(credentialSetCmd, credentialShowCmd, credentialClearCmd)
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(credentialCmd, resetCmd, configCmd)
}
