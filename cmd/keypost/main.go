package main

import (
	"crypto/rand"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/keypost-cli/keypost/internal/account"
	"github.com/keypost-cli/keypost/internal/cliapp"
	"github.com/keypost-cli/keypost/internal/locker"
	"github.com/keypost-cli/keypost/internal/store"
	"github.com/keypost-cli/keypost/internal/transport"
)

var (
	serverURL string
	dataDir   string
	debug     bool
)

var rootCmd = &cobra.Command{
	Use:   "keypost",
	Short: "Password-authenticated secret storage client",
	Long: `keypost registers an account with a password-authenticated key exchange,
logs in without ever sending the password over the wire, and stores small
secrets ("lockers") whose decryption keys the server never sees.`,
	RunE: runMenu,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	home, _ := store.DefaultDir()
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultServerURL(), "base URL of the keypost server (env KEYPOST_SERVER)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", defaultDataDir(home), "local secure-store directory (env KEYPOST_DATA_DIR)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

func defaultServerURL() string {
	if v := os.Getenv("KEYPOST_SERVER"); v != "" {
		return v
	}
	return "http://localhost:8000"
}

func defaultDataDir(fallback string) string {
	if v := os.Getenv("KEYPOST_DATA_DIR"); v != "" {
		return v
	}
	return fallback
}

func runMenu(cmd *cobra.Command, args []string) error {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	st := store.New(dataDir, log)
	if err := st.EnsureDataDir(); err != nil {
		return fmt.Errorf("preparing data directory: %w", err)
	}

	tr := transport.New(serverURL, log)
	acc := account.New(st, tr, rand.Reader, log)
	lck := locker.New(st, tr, rand.Reader, log)

	app := cliapp.New(acc, lck, cliapp.NewTerminalPrompter(), os.Stdout, log)
	os.Exit(app.Run())
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
