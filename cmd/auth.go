package main

import (
	"context"
	"fmt"
	"time"

	"github.com/desertthunder/plsync/internal/server"
	"github.com/desertthunder/plsync/internal/services"
	"github.com/desertthunder/plsync/internal/shared"
	"github.com/urfave/cli/v3"
)

const defaultAuthTimeout = 2 * time.Minute

// AuthLogin runs the authorization code flow: it serves the redirect URI on the loopback interface,
// opens the consent page and stores the issued token in the config file.
func (r *Runner) AuthLogin(ctx context.Context, cmd *cli.Command) error {
	creds := r.config.Credentials.Spotify
	if creds.RedirectURI == "" {
		creds.RedirectURI = fmt.Sprintf("http://%s:%d/callback", r.config.Server.Host, r.config.Server.Port)
	}
	svc, err := services.NewSpotifyService(creds.Map())
	if err != nil {
		return err
	}

	oauthConfig := svc.GetOAuthConfig()
	addr, path, err := server.CallbackAddress(oauthConfig.RedirectURL)
	if err != nil {
		return err
	}

	state, err := shared.GenerateState()
	if err != nil {
		return fmt.Errorf("failed to generate state: %w", err)
	}

	handler := server.NewOAuthHandler(oauthConfig, state, path)
	callback := server.NewCallbackServer(handler, r.logger)
	if err := callback.Start(addr); err != nil {
		return err
	}
	r.logger.Debug("waiting for oauth callback", "addr", callback.Addr(), "path", path)

	authURL := svc.GetAuthURL(state)
	if cmd.Bool("no-browser") {
		r.writePlain("Open this URL to authorize plsync:\n%s\n", authURL)
	} else if err := shared.OpenBrowser(authURL); err != nil {
		r.logger.Warn("failed to open browser", "err", err)
		r.writePlain("Open this URL to authorize plsync:\n%s\n", authURL)
	}

	timeout := cmd.Duration("timeout")
	if timeout <= 0 {
		timeout = defaultAuthTimeout
	}

	token, err := callback.Wait(ctx, timeout)
	if err != nil {
		return err
	}

	if err := r.saveTokens(token); err != nil {
		return err
	}

	r.writePlain("✓ Spotify authorized\n")
	if r.configPath != "" {
		r.writePlain("Token saved to %s\n", r.configPath)
	}
	return nil
}

// AuthStatus reports which Spotify credentials are configured without contacting Spotify.
func (r *Runner) AuthStatus(ctx context.Context, cmd *cli.Command) error {
	creds := r.config.Credentials.Spotify

	r.writePlainHeader("Spotify")
	r.writePlain("Client credentials: %s\n", configured(creds.ClientID != "" && creds.ClientSecret != ""))
	r.writePlain("Redirect URI:       %s\n", creds.RedirectURI)

	token := creds.Token()
	if token == nil {
		r.writePlain("User token:         not configured (public playlists only)\n")
		return nil
	}

	r.writePlain("User token:         %s\n", configured(true))
	switch {
	case token.Expiry.IsZero():
		r.writePlain("Expires:            unknown\n")
	case token.Expiry.Before(time.Now()):
		r.writePlain("Expires:            expired %s (refreshed on next use)\n", token.Expiry.Local().Format(time.RFC1123))
	default:
		r.writePlain("Expires:            %s\n", token.Expiry.Local().Format(time.RFC1123))
	}
	return nil
}

func configured(ok bool) string {
	if ok {
		return "✓ configured"
	}
	return "✗ missing"
}
