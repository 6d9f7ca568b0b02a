// Package cli provides the command-line interface for blobxfer.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mediaflow/blobxfer/internal/config"
	"github.com/mediaflow/blobxfer/internal/logging"
	"github.com/mediaflow/blobxfer/internal/version"
)

var (
	// Global flags
	cfgFile string
	verbose bool

	// Engine overrides; zero keeps the configured value
	threads    int
	concurrent int

	// Global logger
	logger *logging.Logger

	// Global context for signal handling
	rootContext context.Context
	cancelFunc  context.CancelFunc
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "blobxfer",
		Short: "Parallel chunked transfers to and from blob storage",
		Long: `blobxfer ` + version.Version + ` - Built: ` + version.BuildTime + `
Moves files to and from Azure block blobs, S3 buckets and local directories.

Each file is split into blocks that are moved by a pool of workers, with
per-block retries, optional AES-256-CTR encryption and download resume.

Destinations:
  https://<account>.blob.core.windows.net/<container>/<blob>[?sas]
  s3://<bucket>/<key>
  file:///path/to/dir/<name>`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger = logging.NewDefaultCLILogger()
			if verbose {
				logging.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (shows debug messages)")
	rootCmd.PersistentFlags().IntVar(&threads, "threads", 0, "Parallel block workers per transfer (0 = from config)")
	rootCmd.PersistentFlags().IntVar(&concurrent, "concurrent", 0, "Transfers running at once (0 = from config)")

	rootCmd.Version = version.Version + " (" + version.BuildTime + ")"

	rootCmd.AddCommand(newCompletionCmd(rootCmd))
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	return rootCmd
}

func newCompletionCmd(rootCmd *cobra.Command) *cobra.Command {
	completionCmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for blobxfer.

QUICK START:

  bash:
    blobxfer completion bash | sudo tee /etc/bash_completion.d/blobxfer

  zsh:
    blobxfer completion zsh > "${fpath[1]}/_blobxfer"

  fish:
    blobxfer completion fish > ~/.config/fish/completions/blobxfer.fish

  PowerShell:
    blobxfer completion powershell >> $PROFILE`,
	}

	completionCmd.AddCommand(&cobra.Command{
		Use:   "bash",
		Short: "Generate bash completion script",
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootCmd.GenBashCompletion(cmd.OutOrStdout())
		},
	})
	completionCmd.AddCommand(&cobra.Command{
		Use:   "zsh",
		Short: "Generate zsh completion script",
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootCmd.GenZshCompletion(cmd.OutOrStdout())
		},
	})
	completionCmd.AddCommand(&cobra.Command{
		Use:   "fish",
		Short: "Generate fish completion script",
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootCmd.GenFishCompletion(cmd.OutOrStdout(), true)
		},
	})
	completionCmd.AddCommand(&cobra.Command{
		Use:   "powershell",
		Short: "Generate PowerShell completion script",
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootCmd.GenPowerShellCompletion(cmd.OutOrStdout())
		},
	})

	return completionCmd
}

// Execute runs the CLI.
func Execute() error {
	rootContext, cancelFunc = context.WithCancel(context.Background())
	defer cancelFunc()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Repeated Ctrl+C only cancels once; the transfers are already unwinding.
	go func() {
		for sig := range sigChan {
			if sig != nil {
				fmt.Fprintf(os.Stderr, "\nReceived signal %v, cancelling transfers...\n", sig)
				cancelFunc()
			}
		}
	}()

	rootCmd := NewRootCmd()
	AddCommands(rootCmd)
	err := rootCmd.Execute()

	signal.Stop(sigChan)
	close(sigChan)

	return err
}

// AddCommands adds all subcommands to the root command.
func AddCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(newUploadCmd())
	rootCmd.AddCommand(newDownloadCmd())
	rootCmd.AddCommand(newKeygenCmd())
	rootCmd.AddCommand(newConfigCmd())
}

// GetLogger returns the global CLI logger.
func GetLogger() *logging.Logger {
	if logger == nil {
		logger = logging.NewDefaultCLILogger()
	}
	return logger
}

// GetContext returns the root context, cancelled on SIGINT or SIGTERM.
func GetContext() context.Context {
	if rootContext == nil {
		return context.Background()
	}
	return rootContext
}

// loadConfig resolves defaults, the config file, the environment and the
// global flags, in that order, and applies the logging settings.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if threads > 0 {
		cfg.Transfer.Threads = threads
	}
	if concurrent > 0 {
		cfg.Transfer.Concurrent = concurrent
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger = logging.NewLogger(os.Stderr, logging.Format(cfg.Log.Format))
	if verbose {
		logging.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		logging.SetGlobalLevel(logging.ParseLevel(cfg.Log.Level))
	}
	return cfg, nil
}
