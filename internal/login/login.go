// Package login orchestrates the browser-delegated login: it starts the
// loopback callback session, sends the user's browser to the server's
// authorization page, waits for the one-time token, validates it against
// the server and stores it in the platform keystore.
package login

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/briandowns/spinner"

	"github.com/lenscan/lenscan-cli/internal/api"
	"github.com/lenscan/lenscan-cli/internal/config"
	"github.com/lenscan/lenscan-cli/internal/credentials"
	"github.com/lenscan/lenscan-cli/internal/loopback"
)

// Options tweaks the interactive behavior of Run.
type Options struct {
	// OpenBrowser controls whether the default browser is launched. The
	// authorization URL is always printed, so --no-browser users can copy
	// it into a browser themselves.
	OpenBrowser bool

	// Out receives user-facing terminal output. Defaults to os.Stdout.
	Out io.Writer
}

// Run performs one complete login attempt. The callback listeners are torn
// down on every path, including timeout, cancellation and validation
// failure. Cancelling ctx (e.g. on SIGINT) aborts the wait with
// loopback.ErrCancelled.
func Run(ctx context.Context, cfg *config.Config, opts Options) error {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	sess, err := loopback.Start(loopback.Options{
		AllowedOrigins: cfg.AllowedOrigins(),
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := sess.Close(context.Background()); err != nil {
			slog.Warn("failed to close callback listeners", "error", err)
		}
	}()

	authURL := AuthorizationURL(cfg.Server.URL, cfg.Login.ClientName, sess.Port())

	fmt.Fprintf(out, "Opening your browser to complete the login:\n\n  %s\n\n", authURL)
	if opts.OpenBrowser {
		if err := OpenBrowser(authURL); err != nil {
			slog.Warn("could not open browser, continue manually", "error", err)
		}
	}

	token, err := awaitWithSpinner(ctx, sess, cfg.Timeout(), out)
	if err != nil {
		return err
	}

	// The handshake is done; release the port before talking to the server.
	if err := sess.Close(context.Background()); err != nil {
		slog.Warn("failed to close callback listeners", "error", err)
	}

	account, err := api.NewClient(cfg.Server.URL).ValidateToken(ctx, token)
	if err != nil {
		return fmt.Errorf("received a token but could not validate it: %w", err)
	}

	if err := credentials.Save(cfg.Server.URL, token); err != nil {
		return err
	}

	fmt.Fprintf(out, "Logged in to %s as %s.\n", cfg.Server.URL, account.Login)
	return nil
}

// awaitWithSpinner blocks on the session's token handshake while showing a
// waiting indicator.
func awaitWithSpinner(ctx context.Context, sess *loopback.Session, timeout time.Duration, out io.Writer) (string, error) {
	sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(out))
	sp.Suffix = " Waiting for the browser handshake..."
	sp.Start()
	defer sp.Stop()

	return sess.AwaitToken(ctx, timeout)
}
