package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command with every subcommand attached.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(globalFlags),
		createCausesCommand(globalFlags),
		createCleanupCommand(globalFlags),
		createToolCommand(globalFlags),
		createConfigCommand(),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "swabrad",
		Short: "Workspace cleaner services for a CI server",
		Long: `swabrad provisions Sysinternals handle.exe for build agents and keeps
track of which build configurations caused clean checkouts of others.

Examples:
  swabrad config init                       # write swabra.toml
  swabrad serve --config=swabra.toml        # start the daemon
  swabrad causes --build-type=App_Build     # ask a running daemon
  swabrad tool fetch --dir=./tools          # download handle.exe locally`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}

func addAPIFlags(cmd *cobra.Command, f *APIFlags) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "daemon URL (e.g. http://host:8111/api); derived from --config when empty")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 5*time.Minute, "request timeout")
	cmd.Flags().StringVar(&f.CACert, "ca-cert", "", "CA certificate used to verify the daemon")
	cmd.Flags().BoolVar(&f.Insecure, "insecure", false, "skip TLS verification")
}

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the swabra daemon",
		Long: `Start the HTTP API, the scheduled cleanup and the property watcher.
Without a config file the defaults and SWABRA_* environment variables apply.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := globalFlags.ConfigPath
			if len(args) > 0 {
				path = args[0]
			}
			return runServe(cmd.Context(), path)
		},
	}
}

func createCausesCommand(globalFlags *GlobalFlags) *cobra.Command {
	f := &CausesFlags{}
	cmd := &cobra.Command{
		Use:   "causes",
		Short: "List configurations which recently caused a clean checkout",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCauses(cmd.Context(), cmd.OutOrStdout(), globalFlags.ConfigPath, *f)
		},
	}
	cmd.Flags().StringVar(&f.BuildType, "build-type", "", "build configuration id (required)")
	addAPIFlags(cmd, &f.API)
	if err := cmd.MarkFlagRequired("build-type"); err != nil {
		panic(err)
	}
	return cmd
}

func createCleanupCommand(globalFlags *GlobalFlags) *cobra.Command {
	f := &CleanupFlags{}
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Run or interrupt a cleanup cycle on the daemon",
		Long: `Run a cleanup cycle and print its report, or interrupt the running one.

Examples:
  swabrad cleanup
  swabrad cleanup --async
  swabrad cleanup --interrupt`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCleanup(cmd.Context(), cmd.OutOrStdout(), globalFlags.ConfigPath, *f)
		},
	}
	cmd.Flags().BoolVar(&f.Interrupt, "interrupt", false, "interrupt the running cycle")
	cmd.Flags().BoolVar(&f.Async, "async", false, "start a cycle and return immediately")
	addAPIFlags(cmd, &f.API)
	cmd.MarkFlagsMutuallyExclusive("interrupt", "async")
	return cmd
}

func createToolCommand(globalFlags *GlobalFlags) *cobra.Command {
	f := &ToolFlags{}
	tool := &cobra.Command{
		Use:   "tool",
		Short: "Fetch, verify and install handle.exe locally",
	}
	tool.PersistentFlags().StringVar(&f.Dir, "dir", "", "tools directory (defaults to [tools].dir)")

	fetch := &cobra.Command{
		Use:   "fetch",
		Short: "Download handle.exe and install it into --dir",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToolFetch(cmd.Context(), cmd.OutOrStdout(), globalFlags.ConfigPath, *f)
		},
	}
	fetch.Flags().StringSliceVar(&f.TrustFiles, "trust-file", nil, "extra PEM bundle trusted for the download")
	fetch.Flags().StringSliceVar(&f.TrustDirs, "trust-dir", nil, "directory of PEM certificates trusted for the download")
	fetch.Flags().BoolVar(&f.NoSystemRoots, "no-system-roots", false, "do not trust the system roots")
	fetch.Flags().DurationVar(&f.Timeout, "timeout", 2*time.Minute, "download timeout")

	verify := &cobra.Command{
		Use:   "verify <path>",
		Short: "Check that path is a handle.exe package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToolVerify(cmd.OutOrStdout(), args[0])
		},
	}

	install := &cobra.Command{
		Use:   "install <package>",
		Short: "Install a handle.exe package into --dir",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToolInstall(cmd.OutOrStdout(), globalFlags.ConfigPath, f.Dir, args[0])
		},
	}

	tool.AddCommand(fetch, verify, install)
	return tool
}

func createConfigCommand() *cobra.Command {
	f := &ConfigInitFlags{}
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration template",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(cmd.OutOrStdout(), *f)
		},
	}
	initCmd.Flags().StringVar(&f.Path, "path", "swabra.toml", "file to write")
	initCmd.Flags().BoolVar(&f.Force, "force", false, "overwrite an existing file")
	cfgCmd.AddCommand(initCmd)
	return cfgCmd
}
