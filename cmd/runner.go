package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/plsync/internal/repositories"
	"github.com/desertthunder/plsync/internal/services"
	"github.com/desertthunder/plsync/internal/shared"
	"github.com/desertthunder/plsync/internal/tasks"
	"github.com/desertthunder/plsync/internal/ui"
	"github.com/urfave/cli/v3"
	"golang.org/x/oauth2"
)

// SpotifyClient is the part of the Spotify service used by commands.
type SpotifyClient interface {
	services.PlaylistProvider
	services.PlaylistBrowser
}

// Runner holds all dependencies for CLI commands and provides methods for each command action.
//
// Services are built lazily so commands that never talk to Spotify work without credentials.
type Runner struct {
	config     *shared.Config
	configPath string
	spotify    SpotifyClient
	engine     ui.Syncer
	db         *sql.DB
	logger     *log.Logger
	output     io.Writer
	findYTDLP  func(ctx context.Context) (string, error)
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	Spotify    SpotifyClient
	Engine     ui.Syncer
	DB         *sql.DB
	Logger     *log.Logger
	Output     io.Writer
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		spotify:    opts.Spotify,
		engine:     opts.Engine,
		db:         opts.DB,
		logger:     opts.Logger,
		output:     opts.Output,
		findYTDLP:  services.FindYTDLP,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, authCommand, syncCommand, tuiCommand, planCommand, normalizeCommand, historyCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// SetLogger replaces the logger used by the runner and every service it builds afterwards.
func (r *Runner) SetLogger(logger *log.Logger) {
	r.logger = logger
}

// loadConfig is the root Before hook: it reads the config file (falling back to defaults when it
// does not exist), applies .env and PLSYNC_* overrides, then sets the log level.
func (r *Runner) loadConfig(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	r.configPath = cmd.String("config")

	config, err := shared.LoadConfig(r.configPath)
	switch {
	case errors.Is(err, shared.ErrMissingConfig):
		r.logger.Debug("config file not found, using defaults", "path", r.configPath)
		config = shared.DefaultConfig()
	case err != nil:
		return ctx, err
	}

	if err := shared.LoadEnv(config, cmd.StringSlice("env")...); err != nil {
		return ctx, err
	}

	level := config.Logging.Level
	if cmd.IsSet("log-level") {
		level = cmd.String("log-level")
	}
	shared.SetLogLevel(r.logger, shared.ParseLogLevel(level))

	r.config = config
	return ctx, nil
}

// close releases the history database, if one was opened.
func (r *Runner) close(ctx context.Context, cmd *cli.Command) error {
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}

// saveTokens stores token in the config and, when the config came from a file, writes it back.
func (r *Runner) saveTokens(token *oauth2.Token) error {
	if r.config == nil {
		return fmt.Errorf("config is nil")
	}

	if err := r.config.Credentials.Spotify.Update(token); err != nil {
		return fmt.Errorf("failed to update spotify configuration: %w", err)
	}

	if r.configPath == "" {
		r.logger.Debug("no config path, token kept in memory")
		return nil
	}

	if err := shared.SaveConfig(r.configPath, r.config); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	r.logger.Debug("spotify token saved", "path", r.configPath)
	return nil
}

// spotifyClient returns an authenticated Spotify client.
//
// A stored user token is preferred; without one the client credentials flow is used, which can
// read public playlists only.
func (r *Runner) spotifyClient(ctx context.Context) (SpotifyClient, error) {
	if r.spotify != nil {
		return r.spotify, nil
	}

	creds := r.config.Credentials.Spotify
	if creds.ClientID == "" || creds.ClientSecret == "" {
		return nil, fmt.Errorf("%w: spotify client_id and client_secret", shared.ErrMissingCredentials)
	}

	svc, err := services.NewSpotifyService(creds.Map())
	if err != nil {
		return nil, err
	}
	svc.SetTimeout(r.config.Download.Timeout())
	svc.SetTokenRefreshCallback(func(token *oauth2.Token) {
		if err := r.saveTokens(token); err != nil {
			r.logger.Warn("failed to persist refreshed token", "err", err)
		}
	})

	authCreds := creds.Map()
	authCreds["access_token"] = creds.AccessToken
	authCreds["refresh_token"] = creds.RefreshToken
	authCreds["token_expiry"] = creds.TokenExpiry

	if err := svc.Authenticate(ctx, authCreds); err != nil {
		return nil, fmt.Errorf("spotify authentication failed: %w", err)
	}

	r.spotify = svc
	return svc, nil
}

// historyDB opens the history database on first use.
func (r *Runner) historyDB() (*sql.DB, error) {
	if r.db != nil {
		return r.db, nil
	}

	db, err := shared.OpenHistory(r.config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	r.db = db
	return db, nil
}

// syncEngine wires the production pipeline: Spotify, YouTube search, yt-dlp, ID3 tagging, cover art,
// lyrics, loudness normalization and run history.
func (r *Runner) syncEngine(ctx context.Context) (ui.Syncer, error) {
	if r.engine != nil {
		return r.engine, nil
	}

	provider, err := r.spotifyClient(ctx)
	if err != nil {
		return nil, err
	}

	ytdlpPath, err := r.findYTDLP(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w (install yt-dlp and make sure it is on PATH)", err)
	}
	r.logger.Debug("using yt-dlp", "path", ytdlpPath)

	dl := r.config.Download
	limiter := tasks.NewRequestLimiter(dl.RequestsPerMinute)
	resolver := tasks.NewResolver(services.NewYouTubeSearcher(ytdlpPath, dl.Timeout()), tasks.ResolverOpts{
		SearchLimit: dl.SearchLimit,
		Limiter:     limiter,
		Logger:      shared.WithLogger(r.logger, "component", "resolver"),
	})

	lyrics, err := services.NewLyricsProvider(r.config.Lyrics.Provider, r.config.Credentials.Genius.AccessToken, dl.Timeout())
	if err != nil {
		r.logger.Warn("lyrics disabled", "err", err)
	}

	var history tasks.HistoryRecorder
	if db, err := r.historyDB(); err != nil {
		r.logger.Warn("run history disabled", "err", err)
	} else {
		history = repositories.NewHistoryAdapter(repositories.NewRunRepository(db), repositories.NewDownloadRepository(db))
	}

	acquireLogger := shared.WithLogger(r.logger, "component", "acquire")
	engine, err := tasks.NewSyncEngine(tasks.EngineOpts{
		Provider: provider,
		Resolver: resolver,
		NewAcquirer: func() tasks.Acquirer {
			fetcher := &tasks.YTDLPFetcher{
				Executable:     ytdlpPath,
				Bitrate:        dl.Bitrate,
				FFmpegLocation: dl.FFmpegLocation,
				Timeout:        dl.Timeout(),
			}
			return tasks.NewDownloader(fetcher, acquireLogger).WithLimiter(limiter)
		},
		Tagger:     tasks.NewID3Tagger(lyrics, shared.WithLogger(r.logger, "component", "tagger")),
		Covers:     tasks.NewHTTPCoverFetcher(dl.Timeout()),
		Normalizer: tasks.NewNormalizer(dl.TargetDBFS, dl.FFmpegLocation, dl.Bitrate, shared.WithLogger(r.logger, "component", "loudness")),
		History:    history,
		Logger:     r.logger,
	})
	if err != nil {
		return nil, err
	}

	r.engine = engine
	return engine, nil
}

// syncRequest builds a request from command flags, falling back to the download config.
func (r *Runner) syncRequest(cmd *cli.Command) tasks.SyncRequest {
	req := tasks.SyncRequest{
		PlaylistID: cmd.String("playlist"),
		Directory:  r.config.Download.Directory,
		Limit:      r.config.Download.Limit,
		Normalize:  r.config.Download.Normalize,
	}
	if cmd.IsSet("dir") {
		req.Directory = cmd.String("dir")
	}
	if cmd.IsSet("limit") {
		req.Limit = cmd.Int("limit")
	}
	if cmd.IsSet("normalize") {
		req.Normalize = cmd.Bool("normalize")
	}
	return req
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	output, err := shared.MarshalJSON(data, pretty)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}
