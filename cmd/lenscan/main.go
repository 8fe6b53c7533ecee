package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/lenscan/lenscan-cli/internal/api"
	"github.com/lenscan/lenscan-cli/internal/config"
	"github.com/lenscan/lenscan-cli/internal/credentials"
	"github.com/lenscan/lenscan-cli/internal/login"
	"github.com/lenscan/lenscan-cli/internal/loopback"
)

// Version information (set via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// Global flags
var (
	configFile string
	logLevel   string
	logFormat  string
	noBrowser  bool
)

var rootCmd = &cobra.Command{
	Use:   "lenscan",
	Short: "Lenscan command-line client",
	Long: `Command-line client for the Lenscan code-analysis service.

The login command completes a browser-delegated login: a short-lived
listener on a loopback port receives a one-time token from the Lenscan
authorization page, validates it, and stores it in the platform keystore.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to the Lenscan server through your browser",
	Long: `Log in to the configured Lenscan server.

The command binds one of the callback ports the server is allowed to post
tokens to, opens the server's authorization page in your browser, and waits
for the page to deliver a token. The token is validated against the server
and stored in the platform keystore.`,
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Delete the stored token for the configured server",
	RunE:  runLogout,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Display version information",
	Run:   runVersion,
}

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate the configuration file",
	RunE:  runCheckConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", config.DefaultPath(),
		"Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level (debug, info, warn, error) - overrides config file")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "",
		"Log format (json, text) - overrides config file")

	loginCmd.Flags().BoolVar(&noBrowser, "no-browser", false,
		"Print the authorization URL instead of opening a browser")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(checkConfigCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads the configuration and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}

	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	config.SetupLogging(&cfg.Log)

	return cfg, nil
}

// runLogin performs the browser-delegated login.
func runLogin(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Ctrl-C aborts the pending handshake as a cancellation, not a timeout.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	err = login.Run(ctx, cfg, login.Options{OpenBrowser: !noBrowser})

	var timeoutErr *loopback.TimeoutError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, loopback.ErrCancelled):
		return fmt.Errorf("login cancelled before a token arrived")
	case errors.As(err, &timeoutErr):
		return fmt.Errorf("nothing arrived in time: %v (is the browser page still open?)", err)
	case errors.Is(err, api.ErrTokenRejected):
		return fmt.Errorf("the server rejected the token it just issued; try logging in again")
	default:
		return err
	}
}

// runLogout deletes the stored credential for the configured server.
func runLogout(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := credentials.Delete(cfg.Server.URL); err != nil {
		if errors.Is(err, credentials.ErrNotFound) {
			fmt.Printf("No stored token for %s.\n", cfg.Server.URL)
			return nil
		}
		return err
	}

	fmt.Printf("Logged out of %s.\n", cfg.Server.URL)
	return nil
}

// runVersion displays version information.
func runVersion(cmd *cobra.Command, args []string) {
	fmt.Printf("lenscan version %s\n", version)
	fmt.Printf("  Commit:     %s\n", commit)
	fmt.Printf("  Build date: %s\n", buildDate)
	fmt.Printf("  Go version: %s\n", runtime.Version())
}

// runCheckConfig validates the configuration file.
func runCheckConfig(cmd *cobra.Command, args []string) error {
	fmt.Printf("Checking configuration: %s\n\n", configFile)

	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	cfg = cfg.Redact()
	fmt.Println("Configuration is valid")
	fmt.Println()
	fmt.Printf("  Server URL:    %s\n", cfg.Server.URL)
	fmt.Printf("  Extra origins: %v\n", cfg.Server.ExtraOrigins)
	fmt.Printf("  Client name:   %s\n", cfg.Login.ClientName)
	fmt.Printf("  Timeout:       %d seconds\n", cfg.Login.TimeoutSeconds)
	fmt.Printf("  Log level:     %s\n", cfg.Log.Level)
	fmt.Printf("  Log format:    %s\n", cfg.Log.Format)

	return nil
}
