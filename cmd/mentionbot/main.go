// Package main implements the mentionbot daemon, which polls an account's
// mentions and answers each one with an AI-generated reply.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"strings"

	rootpkg "tools.zach/dev/mentionbot"
	"tools.zach/dev/mentionbot/internal/ai"
	"tools.zach/dev/mentionbot/internal/config"
	"tools.zach/dev/mentionbot/internal/credential"
	"tools.zach/dev/mentionbot/internal/logger"
	"tools.zach/dev/mentionbot/internal/paths"
	"tools.zach/dev/mentionbot/internal/poller"
	"tools.zach/dev/mentionbot/internal/render"
	"tools.zach/dev/mentionbot/internal/responder"
	"tools.zach/dev/mentionbot/internal/store"
	"tools.zach/dev/mentionbot/internal/twitter"
	"tools.zach/dev/mentionbot/internal/types"
)

// ///////////////////////////////////////////////
// Version
// ///////////////////////////////////////////////

// version is set at build time via ldflags:
//   - goreleaser: -X main.version={{.Version}}  -> "0.1.0"
//   - make build: -X main.version=$(VERSION)    -> "0.0.0-dev+05ffee5"
//
// Without ldflags, resolveVersion falls back to the VCS info Go embeds.
var version = "dev"

// resolveVersion returns [version] when set via ldflags, otherwise a
// "dev+<hash>" tag built from the embedded VCS revision.
func resolveVersion() string {
	if version != "dev" {
		return version
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return version
	}
	var revision string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if revision == "" {
		return version
	}
	hash := revision[:min(7, len(revision))]
	if dirty {
		return "dev+" + hash + ".dirty"
	}
	return "dev+" + hash
}

// ///////////////////////////////////////////////
// PID Management
// ///////////////////////////////////////////////

// pidToken generates a random 16-character hex token used to prove ownership
// of the PID file, so [removePID] only deletes the file if this instance wrote it.
func pidToken() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// writePID opens the PID file, takes an advisory lock and writes
// "PID:TOKEN". The handle must stay open for the daemon's lifetime to keep
// the lock; pass it to [removePID] on shutdown.
func writePID(dp DataPaths, token string) (*os.File, error) {
	f, err := os.OpenFile(dp.PID(), os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open PID file: %w", err)
	}
	fail := func(step string, err error) (*os.File, error) {
		_ = unlockFile(f)
		f.Close()
		return nil, fmt.Errorf("%s PID file: %w", step, err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("lock PID file: %w", err)
	}
	if err := f.Truncate(0); err != nil {
		return fail("truncate", err)
	}
	if _, err := fmt.Fprintf(f, "%d:%s", os.Getpid(), token); err != nil {
		return fail("write", err)
	}
	return f, nil
}

// removePID releases the lock and removes the PID file only if it still
// carries token.
func removePID(dp DataPaths, token string, f *os.File) {
	if f != nil {
		_ = unlockFile(f)
		f.Close()
	}
	data, err := os.ReadFile(dp.PID())
	if err != nil {
		return
	}
	if _, owner, ok := strings.Cut(string(data), ":"); ok && owner == token {
		os.Remove(dp.PID())
	}
}

// checkStalePID reports whether another instance holds the PID lock. A
// file whose lock can be taken belongs to a dead instance and is removed.
func checkStalePID(dp DataPaths) (alive bool, pid int) {
	f, err := os.OpenFile(dp.PID(), os.O_RDWR, 0o600)
	if err != nil {
		return false, 0
	}

	if lockErr := lockFile(f); lockErr != nil {
		data, _ := os.ReadFile(dp.PID())
		f.Close()
		head, _, _ := strings.Cut(string(data), ":")
		if p, convErr := strconv.Atoi(head); convErr == nil {
			return true, p
		}
		return true, 0
	}

	_ = unlockFile(f)
	f.Close()
	os.Remove(dp.PID())
	return false, 0
}

// defaultDataDir returns ~/.mentionbot, or ./.mentionbot when the home
// directory cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", paths.DataDirRel)
	}
	return filepath.Join(home, paths.DataDirRel)
}

// ///////////////////////////////////////////////
// Flags
// ///////////////////////////////////////////////

// cli holds parsed command-line flags. Only flags present on the command
// line override the environment.
type cli struct {
	dataDir      string
	showVersion  bool
	dryRun       bool
	earlyExit    bool
	forceReply   bool
	debugTweet   string
	sinceID      string
	refreshToken string
	mode         string
	set          map[string]bool
}

func parseArgs(args []string, stderr io.Writer) (*cli, error) {
	c := &cli{set: map[string]bool{}}
	fs := flag.NewFlagSet(paths.BinaryName, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&c.dataDir, "data-dir", defaultDataDir(), "Data directory for config, state, and logs")
	fs.BoolVar(&c.showVersion, "version", false, "Print the version and exit")
	fs.BoolVar(&c.dryRun, "dry-run", false, "Generate replies without posting them or saving the cursor (DRY_RUN)")
	fs.BoolVar(&c.earlyExit, "early-exit", false, "Stop after a single pass (EARLY_EXIT)")
	fs.BoolVar(&c.forceReply, "force-reply", false, "Reply even to mentions that would be skipped (FORCE_REPLY)")
	fs.StringVar(&c.debugTweet, "debug-tweet", "", "Process only this tweet id, then exit (DEBUG_TWEET)")
	fs.StringVar(&c.sinceID, "since-id", "", "Start after this mention id instead of the stored cursor (SINCE_ID)")
	fs.StringVar(&c.refreshToken, "refresh-token", "", "Use this refresh token instead of the stored one (TWITTER_TOKEN)")
	fs.StringVar(&c.mode, "mode", "", "Reply mode, image or text (TWEET_MODE)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	fs.Visit(func(f *flag.Flag) { c.set[f.Name] = true })
	return c, nil
}

// apply overlays the flags given on the command line onto o.
func (c *cli) apply(o *config.Options) {
	if c.set["dry-run"] {
		o.DryRun = c.dryRun
	}
	if c.set["early-exit"] {
		o.EarlyExit = c.earlyExit
	}
	if c.set["force-reply"] {
		o.ForceReply = c.forceReply
	}
	if c.set["debug-tweet"] {
		o.DebugTweet = c.debugTweet
	}
	if c.set["since-id"] {
		o.SinceMentionID = c.sinceID
	}
	if c.set["refresh-token"] {
		o.RefreshToken = c.refreshToken
	}
	if c.set["mode"] {
		o.ReplyMode = types.ReplyMode(c.mode)
	}
}

// ///////////////////////////////////////////////
// Main
// ///////////////////////////////////////////////

func main() {
	c, err := parseArgs(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}
	if c.showVersion {
		fmt.Println(resolveVersion())
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals...)
	code := run(ctx, c, os.Getenv, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run wires the daemon and drives the poller until it terminates. It
// returns the process exit status.
func run(ctx context.Context, c *cli, getenv func(string) string, stdout, stderr io.Writer) int {
	dp := DataPaths{Root: c.dataDir}

	if err := os.MkdirAll(dp.Root, 0o700); err != nil {
		return reportFailure(nil, stderr, "create data dir", err)
	}
	if alive, pid := checkStalePID(dp); alive {
		return reportFailure(nil, stderr, "start", fmt.Errorf("daemon already running (pid %d)", pid))
	}

	if _, err := os.Stat(dp.Config()); os.IsNotExist(err) {
		if writeErr := os.WriteFile(dp.Config(), rootpkg.DefaultConfigTOML, 0o600); writeErr != nil {
			fmt.Fprintf(stderr, "warning: failed to write default config: %v\n", writeErr)
		}
	}

	cfg, err := config.Load(dp.Root)
	if err != nil {
		return reportFailure(nil, stderr, "load config", err)
	}
	cfg.ApplyEnv(getenv)

	logOpts := logger.Options{
		Path:      dp.Log(),
		Level:     logger.ParseLevel(cfg.Log.Level),
		MaxSizeMB: cfg.Log.MaxSizeMB,
	}
	if cfg.Log.Stderr {
		logOpts.Stderr = stderr
	}
	log, logCloser, err := logger.NewLogger(logOpts)
	if err != nil {
		return reportFailure(nil, stderr, "init logger", err)
	}
	defer logCloser.Close()
	slog.SetDefault(log)

	if err := cfg.ValidateCredentials(); err != nil {
		return reportFailure(log, stderr, "missing credentials", err)
	}
	opts := config.OptionsFromEnv(getenv, types.ReplyMode(cfg.Reply.Mode))
	c.apply(&opts)
	if err := opts.Validate(); err != nil {
		return reportFailure(log, stderr, "invalid run options", err)
	}

	slog.Info("mentionbot starting", "version", resolveVersion(), "data_dir", dp.Root,
		"dry_run", opts.DryRun, "early_exit", opts.EarlyExit, "mode", string(opts.ReplyMode))

	token := pidToken()
	pidFile, err := writePID(dp, token)
	if err != nil {
		return reportFailure(log, stderr, "write PID file", err)
	}
	defer removePID(dp, token, pidFile)

	st, err := store.Open(cfg.Store.Backend, dp)
	if err != nil {
		return reportFailure(log, stderr, "open store", err)
	}
	defer st.Close()

	bot, err := wire(ctx, cfg, opts, st)
	if err != nil {
		return reportFailure(log, stderr, "startup", err)
	}

	if fs, ok := st.(*store.FileStore); ok {
		stopWatch := watchStore(fs)
		defer stopWatch()
	}

	interactions, err := bot.Run(ctx)
	if err != nil {
		return reportFailure(log, stderr, "polling stopped", err)
	}
	slog.Info("mentionbot stopped", "interactions", len(interactions), "cursor", bot.Cursor())

	if len(interactions) > 0 {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(interactions); err != nil {
			slog.Error("failed to write interactions", "error", err)
		}
	}
	return 0
}

// wire builds the credential manager, platform and AI clients, the pass
// runner and the poller.
func wire(ctx context.Context, cfg *config.Config, opts config.Options, st store.Store) (*poller.Poller, error) {
	sinceID := opts.SinceMentionID
	if sinceID == "" {
		stored, err := st.Get(ctx, store.KeySinceMentionID)
		if err != nil {
			return nil, fmt.Errorf("read cursor: %w", err)
		}
		sinceID = stored
	}
	refreshToken := opts.RefreshToken
	if refreshToken == "" {
		stored, err := st.Get(ctx, store.KeyRefreshToken)
		if err != nil {
			return nil, fmt.Errorf("read refresh token: %w", err)
		}
		refreshToken = stored
	}

	hc := twitter.NewHTTPClient(cfg.Twitter.RetryMax, config.Seconds(cfg.Twitter.RequestTimeoutSeconds))
	creds := credential.New(credential.Config{
		ClientID:     cfg.Twitter.ClientID,
		ClientSecret: cfg.Twitter.ClientSecret,
		TokenURL:     cfg.Twitter.TokenURL,
		Scopes:       cfg.Twitter.Scopes,
	}, st, hc.StandardClient(), refreshToken)
	creds.Refresh(ctx)

	tw := twitter.NewClient(cfg.Twitter.APIURL, hc, creds)
	me, err := tw.Me(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch current user: %w", err)
	}
	slog.Info("authenticated", "user", me.Username, "id", me.ID)

	assistant := ai.New(ai.Config{
		APIKey:       cfg.OpenAI.APIKey,
		Model:        cfg.OpenAI.Model,
		BaseURL:      cfg.OpenAI.BaseURL,
		SystemPrompt: cfg.OpenAI.SystemPrompt,
		MaxTokens:    cfg.OpenAI.MaxTokens,
		// Completions run far longer than platform calls.
		HTTPClient: &http.Client{Timeout: config.Seconds(cfg.Twitter.RequestTimeoutSeconds) * 4},
	})
	if err := assistant.Verify(ctx); err != nil {
		if types.SignalOf(err) == types.SignalAuthExpired {
			return nil, fmt.Errorf("%w: %w", poller.ErrAIAuthExpired, err)
		}
		slog.Warn("could not verify AI credentials", "error", err)
	}

	renderer, err := render.New(render.Options{
		Width:      cfg.Reply.ImageWidth,
		FontSize:   cfg.Reply.FontSize,
		Background: cfg.Reply.Background,
		Foreground: cfg.Reply.Foreground,
	})
	if err != nil {
		return nil, fmt.Errorf("init renderer: %w", err)
	}

	var media responder.Media
	keys := twitter.MediaKeys{
		APIKey:       cfg.Twitter.APIKey,
		APISecret:    cfg.Twitter.APISecretKey,
		AccessToken:  cfg.Twitter.AccessToken,
		AccessSecret: cfg.Twitter.AccessSecret,
	}
	if keys.Complete() {
		media = twitter.NewMediaClient(cfg.Twitter.UploadURL, hc, keys)
	} else if opts.ReplyMode == types.ReplyModeImage {
		slog.Warn("media upload keys not configured; image replies will be posted as text")
	}

	runner := responder.New(responder.Config{
		Bot:                *me,
		MaxMentionsPerPass: cfg.Reply.MaxMentionsPerPass,
		IgnoreAuthors:      cfg.Reply.IgnoreAuthors,
		MaxTweetLength:     cfg.Reply.MaxTweetLength,
	}, tw, media, assistant, renderer)

	return poller.New(poller.Config{
		Session:               opts.Session(),
		InitialCursor:         sinceID,
		BaseDelay:             config.Seconds(cfg.Loop.RateLimitDelaySeconds),
		TwitterRateLimitDelay: config.Seconds(cfg.Loop.TwitterRateLimitDelaySeconds),
		BusyDelay:             config.Seconds(cfg.Loop.BusyDelaySeconds),
		IdleDelay:             config.Seconds(cfg.Loop.IdleDelaySeconds),
		FaultDelay:            config.Seconds(cfg.Loop.FaultDelaySeconds),
		RefreshEvery:          cfg.Loop.RefreshEveryPasses,
	}, runner, creds, st, nil), nil
}

// watchStore warns whenever another process rewrites the state file. The
// returned func stops the watcher.
func watchStore(fs *store.FileStore) func() {
	w, err := store.NewWatcher(fs.Path())
	if err != nil {
		slog.Warn("state file watcher unavailable", "error", err)
		return func() {}
	}
	if w.Polling() {
		slog.Info("using polling mode for state file watching")
	}
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case mt := <-w.Changes():
				if fs.ModifiedExternally() {
					slog.Warn("state file modified by another process", "path", fs.Path(), "mtime", mt)
				}
			}
		}
	}()
	return func() {
		close(done)
		_ = w.Close()
	}
}

// ///////////////////////////////////////////////
// Failure Reporting
// ///////////////////////////////////////////////

// failure is the JSON payload written to stderr on a fatal exit.
type failure struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// reportFailure emits the FAIL log line (when a logger exists) and the JSON
// error payload, and returns the failure exit status.
func reportFailure(log *slog.Logger, stderr io.Writer, msg string, err error) int {
	if log != nil {
		logger.Fail(log, msg, "error", err)
	}
	payload := failure{Error: fmt.Sprintf("%s: %v", msg, err)}
	var detailed interface{ Details() any }
	if errors.As(err, &detailed) {
		payload.Details = detailed.Details()
	}
	data, mErr := json.MarshalIndent(payload, "", "  ")
	if mErr != nil {
		fmt.Fprintf(stderr, "error: %s: %v\n", msg, err)
		return 1
	}
	fmt.Fprintf(stderr, "%s\n", data)
	return 1
}
