// cmd/mediascrapexter/root.go
package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/valpere/MediaScrapexter/internal/config"
	mmerrors "github.com/valpere/MediaScrapexter/internal/errors"
	"github.com/valpere/MediaScrapexter/internal/utils"
)

const defaultConfigFile = "mediascrapexter.yaml"

// app carries state shared by the commands of one invocation
type app struct {
	stdout io.Writer
	stderr io.Writer

	configPath string
	logLevel   string
	verbose    bool
}

// exitError carries a process exit code out of a command
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func withCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: code, err: err}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "mediascrapexter",
		Short:         "Multi-method media scraping engine",
		Long:          "MediaScrapexter searches media sources with ranked scraping methods, learns which work, and downloads what they find.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", defaultConfigFile, "Path to the engine configuration")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Override the configured log level")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Show error details and suggestions")

	root.AddCommand(
		newRunCmd(a),
		newSourcesCmd(a),
		newStatsCmd(a),
		newValidateCmd(a),
		newVersionCmd(a),
	)
	return root
}

// execute runs the CLI and returns the process exit code
func execute(args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	root := newRootCmd(a)
	root.SetArgs(args)

	err := root.Execute()
	if err == nil {
		return mmerrors.ExitOK
	}

	code := mmerrors.ExitFailed
	var ee *exitError
	if errors.As(err, &ee) {
		code = ee.code
	}
	if code == mmerrors.ExitConfig {
		fmt.Fprintf(stderr, "Configuration error: %v\n", err)
		return code
	}
	fmt.Fprint(stderr, mmerrors.NewMessageHandler(a.verbose).FormatErrorForCLI(err))
	return code
}

// loadConfig reads the --config file; failures exit with the config code
func (a *app) loadConfig() (*config.EngineConfig, error) {
	cfg, err := config.LoadFromFile(a.configPath)
	if err != nil {
		return nil, withCode(mmerrors.ExitConfig, err)
	}
	return cfg, nil
}

// logger builds the configured logger, honouring --log-level
func (a *app) logger(cfg *config.EngineConfig) (utils.Logger, error) {
	lc := cfg.Logging
	if a.logLevel != "" {
		lc.Level = strings.ToLower(a.logLevel)
	}
	logger, err := utils.NewLogger(lc)
	if err != nil {
		return nil, withCode(mmerrors.ExitConfig, err)
	}
	return logger, nil
}
