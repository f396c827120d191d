package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fedsearch/fedsearch-go/internal/cli/output"
	"github.com/fedsearch/fedsearch-go/internal/config"
	"github.com/fedsearch/fedsearch-go/internal/instance"
	"github.com/fedsearch/fedsearch-go/internal/logs"
	"github.com/fedsearch/fedsearch-go/internal/oauth"
	"github.com/fedsearch/fedsearch-go/internal/storage"
)

var (
	configFile        string
	dataDir           string
	listen            string
	logLevel          string
	logToFile         bool
	logDir            string
	apiKey            string
	reservedLocalName string
	outputFormat      string

	version = "v0.1.0" // This will be injected by -ldflags during build
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		code := exitCodeFor(err)
		printError(err)
		if code != ExitCodeGeneralError {
			fmt.Fprintf(os.Stderr, "Exit code %d: %s\n", code, exitCodeDescription(code))
		}
		os.Exit(code)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "fedsearch",
		Short:         "Federated search remote instance manager",
		Long:          "Registers remote search instances, keeps their OAuth2 tokens and fetches resources from them on behalf of local users.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configFile, "config", "c", "", "Configuration file path")
	flags.StringVarP(&dataDir, "data-dir", "d", "", "Data directory path (default: ~/.fedsearch)")
	flags.StringVarP(&listen, "listen", "l", "", "Listen address for the REST API")
	flags.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.BoolVar(&logToFile, "log-to-file", false, "Enable logging to file in standard OS location")
	flags.StringVar(&logDir, "log-dir", "", "Custom log directory path (overrides standard OS location)")
	flags.StringVar(&apiKey, "api-key", "", "API key required by mutating REST routes")
	flags.StringVar(&reservedLocalName, "reserved-local-name", "", "Name of the running instance, unavailable to remotes")
	flags.StringVarP(&outputFormat, "output", "o", "", "Output format (table, json, yaml)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newInstanceCmd())
	rootCmd.AddCommand(newSecretCmd())
	return rootCmd
}

// printError renders err in the selected output format on stderr
func printError(err error) {
	var se output.StructuredError
	if !errors.As(err, &se) {
		se = output.NewStructuredError(output.ErrCodeOperationFailed, err.Error())
	}
	formatter, ferr := output.NewFormatter(output.ResolveFormat(outputFormat))
	if ferr != nil {
		formatter = &output.TableFormatter{}
	}
	text, ferr := formatter.FormatError(se)
	if ferr != nil {
		text = "Error: " + err.Error() + "\n"
	}
	fmt.Fprint(os.Stderr, text)
}

// loadConfig reads the configuration with explicitly set flags applied on top
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadWithFlags(configFile, cmd.Flags())
	if err != nil {
		return nil, &configError{err: fmt.Errorf("failed to load configuration: %w", err)}
	}
	if err := secretResolver.ExpandAll(cmd.Context(), &cfg.APIKey); err != nil {
		return nil, &configError{err: fmt.Errorf("failed to resolve api_key: %w", err)}
	}
	return cfg, nil
}

// setupLogger builds the process logger. Non-server commands log warnings
// and above unless --log-level says otherwise.
func setupLogger(cmd *cobra.Command, cfg *config.Config, serverCommand bool) (*zap.Logger, error) {
	if !serverCommand && !cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = logs.LogLevelWarn
	}
	logger, err := logs.SetupLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to setup logger: %w", err)
	}
	return logger, nil
}

// newService wires the instance service over the store
func newService(cfg *config.Config, db *storage.BoltDB, logger *zap.Logger, metrics instance.Metrics) *instance.Service {
	return instance.NewService(db, oauth.NewTokenClient(nil, logger), instance.ServiceConfig{
		ReservedLocalName: cfg.ReservedLocalName,
		FetchTimeout:      cfg.DefaultTimeoutDuration(),
		Metrics:           metrics,
	}, logger)
}
