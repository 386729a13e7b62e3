package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"pvedns/config"
)

var (
	configPath string
	syncOnce   bool
	logLevel   string
	jsonOutput bool
)

// rootCmd runs the server when called without a subcommand.
var rootCmd = &cobra.Command{
	Use:           "pvedns",
	Short:         "Authoritative DNS for Proxmox guests",
	Long:          `pvedns publishes one A record per Proxmox guest, using the addresses RouterOS leased to the guest's interfaces.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServeCmd,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync loop, the DNS server and the optional API",
	Args:  cobra.NoArgs,
	RunE:  runServeCmd,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Build the zone once and print it",
	Long:  `Fetches guests and leases once, builds the zone and prints it without serving DNS.`,
	Args:  cobra.NoArgs,
	RunE:  runSyncCmd,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "pvedns %s\n", appversion)
	},
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "pvedns:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the config file or its directory")

	syncCmd.Flags().BoolVar(&syncOnce, "once", true, "Run a single cycle and exit")
	syncCmd.Flags().StringVar(&logLevel, "log-level", "warn", "Severity of messages written to stderr")
	syncCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print JSON even on a terminal")
}

// loadConfig resolves the config from --config or the default locations.
func loadConfig() (*config.Loaded, error) {
	var (
		loaded *config.Loaded
		err    error
	)
	if configPath != "" {
		loaded, err = config.LoadFromPath(configPath)
	} else {
		loaded, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if loaded.Created {
		fmt.Fprintf(os.Stderr, "pvedns: wrote default configuration to %s\n", loaded.Path)
	}
	if err := loaded.Config.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", loaded.Path, err)
	}
	return loaded, nil
}

func runServeCmd(cmd *cobra.Command, args []string) error {
	loaded, err := loadConfig()
	if err != nil {
		return err
	}
	return serve(cmd.Context(), loaded.Config)
}

func runSyncCmd(cmd *cobra.Command, args []string) error {
	if !syncOnce {
		return fmt.Errorf("sync only supports --once; use serve for the loop")
	}
	loaded, err := loadConfig()
	if err != nil {
		return err
	}
	return syncAndPrint(cmd.Context(), loaded.Config, cmd.OutOrStdout())
}
