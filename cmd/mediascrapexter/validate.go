// cmd/mediascrapexter/validate.go
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/valpere/MediaScrapexter/internal/config"
	mmerrors "github.com/valpere/MediaScrapexter/internal/errors"
)

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check a configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.validate()
		},
	}
}

func (a *app) validate() error {
	data, err := os.ReadFile(a.configPath)
	if err != nil {
		return withCode(mmerrors.ExitConfig, fmt.Errorf("failed to read configuration file: %w", err))
	}
	cfg, err := config.Parse(data)
	if err != nil {
		return withCode(mmerrors.ExitConfig, err)
	}

	result := cfg.ValidateWithDetails()
	for _, w := range result.Warnings {
		fmt.Fprintf(a.stdout, "warning: %s\n", w)
	}
	if result.Valid {
		fmt.Fprintf(a.stdout, "%s is valid: %d methods, %d sources\n", a.configPath, len(cfg.Methods), len(cfg.Sources))
		return nil
	}

	for i, e := range result.Errors {
		fmt.Fprintf(a.stdout, "  %d. %s", i+1, e.Message)
		if e.Field != "" {
			fmt.Fprintf(a.stdout, " (field: %s)", e.Field)
		}
		fmt.Fprintln(a.stdout)
	}
	fmt.Fprintln(a.stdout, "\nSuggestions:")
	for _, s := range config.GetValidationSuggestions(result) {
		fmt.Fprintf(a.stdout, "  - %s\n", s)
	}
	return withCode(mmerrors.ExitConfig, fmt.Errorf("%s has %d errors", a.configPath, len(result.Errors)))
}
