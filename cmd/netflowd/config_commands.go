package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/blingmoon/netflow-triage/internal/config"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	configCmd.AddCommand(newConfigInitCommand())
	configCmd.AddCommand(newConfigValidateCommand(ctx))

	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Create a sample configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(targetPath)
			if target == "" {
				target = config.DefaultConfigFile
			}
			if !overwrite {
				if _, err := os.Stat(target); err == nil {
					return errors.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
				} else if !os.IsNotExist(err) {
					return errors.WithMessage(err, "check config path failed")
				}
			}
			if err := config.CreateSample(target); err != nil {
				return err
			}
			abs, err := filepath.Abs(target)
			if err != nil {
				abs = target
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", abs)
			fmt.Fprintln(out, "Edit [models] to point at the exported binary and multi-class models before running netflowd.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite existing configuration if present")
	return cmd
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load the configuration and check that both models exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, path := range []string{cfg.Models.BinaryPath(), cfg.Models.MultiPath()} {
				if _, err := os.Stat(path); err != nil {
					return errors.WithMessagef(err, "model file %s", path)
				}
			}
			fmt.Fprintf(out, "Configuration valid: %d features, mode %s, binary %s, multi %s\n",
				len(cfg.Pipeline.Features), cfg.Pipeline.Mode, cfg.Models.Binary, cfg.Models.Multi)
			return nil
		},
	}
}
