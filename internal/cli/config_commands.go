package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/mediaflow/blobxfer/internal/config"
	"github.com/mediaflow/blobxfer/internal/constants"
)

// newConfigCmd creates the 'config' command group.
func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage blobxfer configuration",
		Long: `Configuration management commands for blobxfer.

Commands:
  init  - Interactive configuration setup
  show  - Display current configuration
  path  - Show configuration file path`,
	}

	configCmd.AddCommand(newConfigInitCmd())
	configCmd.AddCommand(newConfigShowCmd())
	configCmd.AddCommand(newConfigPathCmd())

	return configCmd
}

// configPath returns --config or the default location.
func configPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	return config.DefaultConfigPath()
}

// newConfigInitCmd creates the 'config init' command.
func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration interactively",
		Long: `Interactive configuration setup for blobxfer.

The configuration is saved to ~/.config/blobxfer/blobxfer.conf unless
--config names another file. Secrets such as SAS tokens, S3 keys and the
proxy password are read from the environment and never prompted for.

Use --force to overwrite an existing configuration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath()
			if err != nil {
				return fmt.Errorf("failed to determine config path: %w", err)
			}

			out := cmd.OutOrStdout()
			if !force {
				if _, err := os.Stat(path); err == nil {
					fmt.Fprintf(out, "Configuration already exists at: %s\n", path)
					fmt.Fprintln(out, "Use --force to overwrite or run 'config show' to view current config.")
					return nil
				}
			}

			cfg, err := promptConfig(newPrompter(cmd.InOrStdin(), out), out, config.New())
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if err := config.Save(cfg, path); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			GetLogger().Info().Str("path", path).Msg("configuration saved")
			fmt.Fprintln(out)
			fmt.Fprintf(out, "✓ Configuration saved to: %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing configuration")

	return cmd
}

// promptConfig walks the user through the non-secret settings, starting from cfg.
func promptConfig(p *prompter, out io.Writer, cfg *config.Config) (*config.Config, error) {
	var err error

	fmt.Fprintln(out, "blobxfer Configuration Setup")
	fmt.Fprintln(out, "============================")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Transfer Settings (press Enter for defaults)")
	fmt.Fprintln(out, "--------------------------------------------")

	if cfg.Transfer.Threads, err = p.askInt("Block workers per transfer", cfg.Transfer.Threads, 1, constants.AbsoluteMaxThreads); err != nil {
		return nil, err
	}
	if cfg.Transfer.Concurrent, err = p.askInt("Concurrent transfers", cfg.Transfer.Concurrent, 1, constants.MaxConcurrentTransfers); err != nil {
		return nil, err
	}
	if cfg.Transfer.MaxBandwidthMbps, err = p.askFloat("Bandwidth cap in Mbps (0 = unlimited)", cfg.Transfer.MaxBandwidthMbps); err != nil {
		return nil, err
	}
	if cfg.Transfer.Resume, err = p.askYesNo("Resume interrupted downloads", cfg.Transfer.Resume); err != nil {
		return nil, err
	}
	if cfg.Retry.MaxRetries, err = p.askInt("Retries per block", cfg.Retry.MaxRetries, 0, 100); err != nil {
		return nil, err
	}

	fmt.Fprintln(out)
	if cfg.S3.Region, err = p.ask("S3 region", cfg.S3.Region); err != nil {
		return nil, err
	}
	if cfg.S3.Endpoint, err = p.ask("S3 endpoint (blank for AWS)", cfg.S3.Endpoint); err != nil {
		return nil, err
	}
	if cfg.S3.Endpoint != "" {
		if cfg.S3.PathStyle, err = p.askYesNo("Use path-style S3 addressing", true); err != nil {
			return nil, err
		}
	}
	if cfg.Azure.SASEndpoint, err = p.ask("Azure SAS endpoint (blank for none)", cfg.Azure.SASEndpoint); err != nil {
		return nil, err
	}

	fmt.Fprintln(out)
	configure, err := p.askYesNo("Configure proxy?", false)
	if err != nil {
		return nil, err
	}
	if configure {
		if cfg.Proxy.Mode, err = p.askChoice("Proxy mode", []string{"no-proxy", "system", "basic", "ntlm"}, "system"); err != nil {
			return nil, err
		}
		if cfg.Proxy.Mode == "basic" || cfg.Proxy.Mode == "ntlm" {
			if cfg.Proxy.Host, err = p.ask("Proxy host", cfg.Proxy.Host); err != nil {
				return nil, err
			}
			if cfg.Proxy.Port, err = p.askInt("Proxy port", cfg.Proxy.Port, 1, 65535); err != nil {
				return nil, err
			}
			if cfg.Proxy.User, err = p.ask("Proxy user", cfg.Proxy.User); err != nil {
				return nil, err
			}
			fmt.Fprintln(out, "  Set the proxy password with BLOBXFER_PROXY_PASSWORD.")
		}
	}

	fmt.Fprintln(out)
	if cfg.Log.Level, err = p.askChoice("Log level", []string{"debug", "info", "warn", "error"}, cfg.Log.Level); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newConfigShowCmd creates the 'config show' command.
func newConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Long: `Display the current configuration settings.

This command shows the merged configuration from:
  1. Built-in defaults
  2. Configuration file (~/.config/blobxfer/blobxfer.conf)
  3. Environment variables (BLOBXFER_*)
  4. Command-line flags (--threads, --concurrent)

Secrets are masked.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			path, err := configPath()
			if err != nil {
				return fmt.Errorf("failed to determine config path: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprint(out, cfg.String())
			fmt.Fprintln(out)
			fmt.Fprintf(out, "# Configuration file: %s\n", path)
			if _, err := os.Stat(path); os.IsNotExist(err) {
				fmt.Fprintln(out, "#   (file does not exist - using defaults)")
			}
			return nil
		},
	}

	return cmd
}

// newConfigPathCmd creates the 'config path' command.
func newConfigPathCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Long:  `Display the path to the configuration file.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath()
			if err != nil {
				return fmt.Errorf("failed to determine config path: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, path)
			if info, err := os.Stat(path); err == nil {
				fmt.Fprintf(out, "Status:   exists (%d bytes, modified %s)\n", info.Size(), info.ModTime().Format("2006-01-02 15:04:05"))
			} else {
				fmt.Fprintln(out, "Status:   does not exist")
				fmt.Fprintln(out, "Create a configuration file with: blobxfer config init")
			}
			return nil
		},
	}

	return cmd
}
