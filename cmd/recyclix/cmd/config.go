package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/recyclix/configs"
	"github.com/Aman-CERP/recyclix/internal/config"
	"github.com/Aman-CERP/recyclix/internal/output"
)

func newConfigCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage recyclix configuration files.

Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. User config (~/.config/recyclix/config.yaml)
  3. Project config (.recyclix.yaml, or --config)
  4. Environment variables (RECYCLIX_*)`,
		Example: `  # Create .recyclix.yaml from the template
  recyclix config init

  # Show effective configuration
  recyclix config show

  # Undo the last 'config init --force'
  recyclix config restore`,
	}

	cmd.AddCommand(newConfigInitCmd(opts))
	cmd.AddCommand(newConfigShowCmd(opts))
	cmd.AddCommand(newConfigPathCmd(opts))
	cmd.AddCommand(newConfigRestoreCmd(opts))

	return cmd
}

// configTarget returns the file config init and restore work on.
func configTarget(opts *globalOptions, user bool) (string, error) {
	if user {
		return config.GetUserConfigPath(), nil
	}
	if opts.configPath != "" {
		return filepath.Abs(opts.configPath)
	}
	dir, err := projectDir(opts)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, config.ProjectFile), nil
}

func newConfigInitCmd(opts *globalOptions) *cobra.Command {
	var force, user bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file from the template",
		Long: `Write the commented configuration template to .recyclix.yaml in the
project directory, or to the user config with --user.

With --force an existing file is backed up first (the last 3 backups are
kept) and can be brought back with 'recyclix config restore'.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := output.NewAuto(cmd.OutOrStdout())
			path, err := configTarget(opts, user)
			if err != nil {
				return err
			}

			if _, err := os.Stat(path); err == nil {
				if !force {
					out.Warningf("Configuration already exists: %s", path)
					out.Status("", "Use --force to replace it (a backup is kept)")
					return nil
				}
				backup, err := config.BackupFile(path)
				if err != nil {
					return err
				}
				out.Statusf("", "Backup: %s", backup)
			}

			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fmt.Errorf("failed to create config directory: %w", err)
			}
			if err := os.WriteFile(path, []byte(configs.ProjectConfigTemplate), 0o644); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}

			out.Successf("Created %s", path)
			out.Status("", "Edit the schema section to describe your records, then run 'recyclix config show'")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Replace an existing file (backed up first)")
	cmd.Flags().BoolVar(&user, "user", false, "Write the user config instead of the project config")

	return cmd
}

func newConfigShowCmd(opts *globalOptions) *cobra.Command {
	var (
		jsonOutput bool
		source     string
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		Long: `Show the configuration after merging defaults, the user config, the
project config and RECYCLIX_* environment variables.`,
		Example: `  recyclix config show
  recyclix config show --json
  recyclix config show --source defaults`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var cfg *config.Config
			switch source {
			case "merged":
				loaded, _, err := loadConfig(opts)
				if err != nil {
					return err
				}
				cfg = loaded
			case "defaults":
				cfg = config.NewConfig()
			default:
				return fmt.Errorf("invalid source: %s (use: merged, defaults)", source)
			}

			out := output.New(cmd.OutOrStdout())
			if jsonOutput {
				return out.JSON(cfg)
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().StringVar(&source, "source", "merged", "Config source: merged, defaults")

	return cmd
}

func newConfigPathCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print configuration file paths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			project, err := configTarget(opts, false)
			if err != nil {
				return err
			}
			out := output.New(cmd.OutOrStdout())
			out.Field("user", config.GetUserConfigPath())
			out.Field("project", project)
			return nil
		},
	}
}

func newConfigRestoreCmd(opts *globalOptions) *cobra.Command {
	var (
		user   bool
		backup string
		list   bool
	)

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore a configuration backup",
		Long: `Restore the newest backup made by 'config init --force', or the one given
with --backup. The current file is backed up before it is replaced.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := output.NewAuto(cmd.OutOrStdout())
			path, err := configTarget(opts, user)
			if err != nil {
				return err
			}

			backups, err := config.ListBackups(path)
			if err != nil {
				return err
			}
			if list {
				if len(backups) == 0 {
					out.Warning("No backups found")
				}
				for _, b := range backups {
					out.Status("", b)
				}
				return nil
			}

			if backup == "" {
				if len(backups) == 0 {
					return fmt.Errorf("no backups of %s", path)
				}
				backup = backups[0]
			}
			if err := config.RestoreFile(path, backup); err != nil {
				return err
			}
			out.Successf("Restored %s from %s", path, filepath.Base(backup))
			return nil
		},
	}

	cmd.Flags().BoolVar(&user, "user", false, "Restore the user config instead of the project config")
	cmd.Flags().StringVar(&backup, "backup", "", "Backup file to restore (default: newest)")
	cmd.Flags().BoolVar(&list, "list", false, "List backups, newest first")

	return cmd
}
