package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"tools.zach/dev/mentionbot/internal/config"
	"tools.zach/dev/mentionbot/internal/store"
	"tools.zach/dev/mentionbot/internal/twitter"
	"tools.zach/dev/mentionbot/internal/types"
)

// ///////////////////////////////////////////////
// resolveVersion Tests
// ///////////////////////////////////////////////

func TestResolveVersionWithLdflags(t *testing.T) {
	original := version
	defer func() { version = original }()

	version = "1.2.3"
	if got := resolveVersion(); got != "1.2.3" {
		t.Errorf("resolveVersion() = %q, want %q", got, "1.2.3")
	}
}

func TestResolveVersionDev(t *testing.T) {
	original := version
	defer func() { version = original }()

	version = "dev"
	if got := resolveVersion(); !strings.HasPrefix(got, "dev") {
		t.Errorf("resolveVersion() = %q, expected to start with 'dev'", got)
	}
}

func TestDefaultDataDir(t *testing.T) {
	if dir := defaultDataDir(); !strings.HasSuffix(dir, ".mentionbot") {
		t.Errorf("defaultDataDir() = %q, want path ending in .mentionbot", dir)
	}
}

// ///////////////////////////////////////////////
// PID Tests
// ///////////////////////////////////////////////

func TestPidToken(t *testing.T) {
	a, b := pidToken(), pidToken()
	if a == b {
		t.Errorf("pidToken() returned the same value twice: %q", a)
	}
	if len(a) != 16 {
		t.Errorf("pidToken() length = %d, want 16", len(a))
	}
}

func TestWritePID_FileContainsPID(t *testing.T) {
	dp := DataPaths{Root: t.TempDir()}
	token := pidToken()

	f, err := writePID(dp, token)
	if err != nil {
		t.Fatalf("writePID() error: %v", err)
	}
	defer func() {
		_ = unlockFile(f)
		f.Close()
	}()

	// Read through the open handle; on Windows the lock blocks os.ReadFile.
	if _, err := f.Seek(0, 0); err != nil {
		t.Fatalf("Seek() error: %v", err)
	}
	data := make([]byte, 256)
	n, err := f.Read(data)
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if want := fmt.Sprintf("%d:%s", os.Getpid(), token); string(data[:n]) != want {
		t.Errorf("PID file content = %q, want %q", data[:n], want)
	}
}

func TestRemovePID(t *testing.T) {
	tests := []struct {
		name        string
		removeWith  string
		wantRemoved bool
	}{
		{"matching token", "", true},
		{"mismatched token", "wrong-token", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dp := DataPaths{Root: t.TempDir()}
			token := pidToken()
			f, err := writePID(dp, token)
			if err != nil {
				t.Fatalf("writePID() error: %v", err)
			}
			with := token
			if tt.removeWith != "" {
				with = tt.removeWith
			}
			removePID(dp, with, f)

			_, statErr := os.Stat(dp.PID())
			if removed := os.IsNotExist(statErr); removed != tt.wantRemoved {
				t.Errorf("removed = %v, want %v", removed, tt.wantRemoved)
			}
		})
	}
}

func TestRemovePID_NilFile(t *testing.T) {
	removePID(DataPaths{Root: t.TempDir()}, "any-token", nil)
}

func TestCheckStalePID(t *testing.T) {
	dp := DataPaths{Root: t.TempDir()}
	if alive, _ := checkStalePID(dp); alive {
		t.Error("checkStalePID() returned alive=true with no PID file")
	}

	// An unlocked file is left over from a dead process.
	if err := os.WriteFile(dp.PID(), []byte("99999:staletoken"), 0o600); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	alive, pid := checkStalePID(dp)
	if alive || pid != 0 {
		t.Errorf("checkStalePID() = %v, %d; want false, 0", alive, pid)
	}
	if _, err := os.Stat(dp.PID()); !os.IsNotExist(err) {
		t.Error("stale PID file should have been removed")
	}
}

// ///////////////////////////////////////////////
// Flag Tests
// ///////////////////////////////////////////////

func TestParseArgs(t *testing.T) {
	c, err := parseArgs([]string{"-data-dir", "/tmp/x", "-dry-run", "-mode", "text", "-since-id", "55"}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if c.dataDir != "/tmp/x" {
		t.Errorf("dataDir = %q", c.dataDir)
	}

	opts := config.Options{
		EarlyExit:      true,
		SinceMentionID: "1",
		RefreshToken:   "from-env",
		ReplyMode:      types.ReplyModeImage,
	}
	c.apply(&opts)

	want := config.Options{
		DryRun:         true,
		EarlyExit:      true,
		SinceMentionID: "55",
		RefreshToken:   "from-env",
		ReplyMode:      types.ReplyModeText,
	}
	if opts != want {
		t.Errorf("apply() = %+v, want %+v", opts, want)
	}
}

func TestParseArgsExplicitFalseOverridesEnv(t *testing.T) {
	c, err := parseArgs([]string{"-early-exit=false"}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	opts := config.Options{EarlyExit: true, ReplyMode: types.ReplyModeText}
	c.apply(&opts)
	if opts.EarlyExit {
		t.Error("explicit -early-exit=false should override the environment")
	}
}

func TestParseArgsErrors(t *testing.T) {
	for _, args := range [][]string{
		{"-no-such-flag"},
		{"stray"},
	} {
		if _, err := parseArgs(args, &bytes.Buffer{}); err == nil {
			t.Errorf("parseArgs(%v) succeeded, want error", args)
		}
	}
}

// ///////////////////////////////////////////////
// Failure Reporting Tests
// ///////////////////////////////////////////////

func TestReportFailureIncludesDetails(t *testing.T) {
	var buf bytes.Buffer
	apiErr := &twitter.APIError{StatusCode: 503, Title: "Service Unavailable"}
	code := reportFailure(nil, &buf, "startup", fmt.Errorf("fetch current user: %w", apiErr))
	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}

	var got struct {
		Error   string         `json:"error"`
		Details map[string]any `json:"details"`
	}
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("stderr is not JSON: %v\n%s", err, buf.String())
	}
	if !strings.HasPrefix(got.Error, "startup: fetch current user") {
		t.Errorf("error = %q", got.Error)
	}
	if got.Details == nil {
		t.Error("expected details from the API error")
	}
}

// ///////////////////////////////////////////////
// End-to-end Tests
// ///////////////////////////////////////////////

// fakeAPI serves the token, platform and AI endpoints from one server.
type fakeAPI struct {
	mu       sync.Mutex
	modelsOK bool
	posted   []map[string]any
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.URL.Path == "/2/oauth2/token":
		_ = r.ParseForm()
		old := r.PostForm.Get("refresh_token")
		fmt.Fprintf(w, `{"access_token":"at-%s","refresh_token":"%s-next","token_type":"bearer","expires_in":7200}`, old, old)
	case r.URL.Path == "/2/users/me":
		fmt.Fprint(w, `{"data":{"id":"42","username":"askbot","name":"Ask Bot"}}`)
	case r.URL.Path == "/2/users/42/mentions":
		fmt.Fprint(w, `{"data":[{"id":"1001","text":"@askbot what is six times seven?","author_id":"7","conversation_id":"1001"}],
			"includes":{"users":[{"id":"7","username":"alice","name":"Alice"}]},"meta":{"result_count":1}}`)
	case r.URL.Path == "/2/tweets" && r.Method == http.MethodPost:
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.posted = append(f.posted, body)
		id := 2000 + len(f.posted)
		f.mu.Unlock()
		fmt.Fprintf(w, `{"data":{"id":"%d","text":"ok"}}`, id)
	case r.URL.Path == "/v1/models":
		if !f.modelsOK {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`)
			return
		}
		fmt.Fprint(w, `{"object":"list","data":[{"id":"gpt-4o-mini","object":"model"}]}`)
	case r.URL.Path == "/v1/chat/completions":
		fmt.Fprint(w, `{"id":"c1","object":"chat.completion","model":"gpt-4o-mini",
			"choices":[{"index":0,"message":{"role":"assistant","content":"Forty-two."},"finish_reason":"stop"}]}`)
	default:
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, `{"title":"Not Found","detail":"%s"}`, r.URL.Path)
	}
}

// newDataDir writes a config pointing every endpoint at srv.
func newDataDir(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Twitter.APIURL = srv.URL
	cfg.Twitter.UploadURL = srv.URL
	cfg.Twitter.TokenURL = srv.URL + "/2/oauth2/token"
	cfg.Twitter.RetryMax = 0
	cfg.OpenAI.BaseURL = srv.URL + "/v1"
	cfg.Loop = config.LoopConfig{}
	cfg.Log.Stderr = false
	if err := cfg.Save(filepath.Join(dir, "config.toml")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	return dir
}

func envFunc(env map[string]string) func(string) string {
	return func(k string) string { return env[k] }
}

func TestRunEarlyExit(t *testing.T) {
	tests := []struct {
		name       string
		dryRun     string
		wantCursor string
		wantPosts  int
	}{
		{"live", "", "1001", 1},
		{"dry run", "1", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{modelsOK: true}
			srv := httptest.NewServer(api)
			defer srv.Close()
			dir := newDataDir(t, srv)

			env := envFunc(map[string]string{
				"TWITTER_CLIENT_ID": "client",
				"OPENAI_API_KEY":    "sk-test",
				"TWITTER_TOKEN":     "rt0",
				"EARLY_EXIT":        "1",
				"TWEET_MODE":        "text",
				"DRY_RUN":           tt.dryRun,
			})
			var stdout, stderr bytes.Buffer
			code := run(context.Background(), &cli{dataDir: dir, set: map[string]bool{}}, env, &stdout, &stderr)
			if code != 0 {
				t.Fatalf("run() = %d, stderr:\n%s", code, stderr.String())
			}

			var interactions []types.Interaction
			if err := json.Unmarshal(stdout.Bytes(), &interactions); err != nil {
				t.Fatalf("stdout is not JSON: %v\n%s", err, stdout.String())
			}
			if len(interactions) != 1 {
				t.Fatalf("interactions = %d, want 1", len(interactions))
			}
			got := interactions[0]
			if got.MentionID != "1001" || got.Response != "Forty-two." || got.Prompt != "what is six times seven?" {
				t.Errorf("interaction = %+v", got)
			}
			if len(api.posted) != tt.wantPosts {
				t.Errorf("posted %d tweets, want %d", len(api.posted), tt.wantPosts)
			}

			st := store.NewFileStore(filepath.Join(dir, "state.toml"))
			ctx := context.Background()
			if c, _ := st.Get(ctx, store.KeySinceMentionID); c != tt.wantCursor {
				t.Errorf("stored cursor = %q, want %q", c, tt.wantCursor)
			}
			if rt, _ := st.Get(ctx, store.KeyRefreshToken); rt != "rt0-next" {
				t.Errorf("stored refresh token = %q, want rt0-next", rt)
			}
			if _, err := os.Stat(filepath.Join(dir, "mentionbot.pid")); !os.IsNotExist(err) {
				t.Error("PID file should be removed on exit")
			}
		})
	}
}

func TestRunAIAuthRejectedIsFatal(t *testing.T) {
	srv := httptest.NewServer(&fakeAPI{modelsOK: false})
	defer srv.Close()
	dir := newDataDir(t, srv)

	env := envFunc(map[string]string{
		"TWITTER_CLIENT_ID": "client",
		"OPENAI_API_KEY":    "sk-bad",
		"TWITTER_TOKEN":     "rt0",
	})
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), &cli{dataDir: dir, set: map[string]bool{}}, env, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("run() = %d, want 1", code)
	}
	if stdout.Len() != 0 {
		t.Errorf("unexpected stdout: %s", stdout.String())
	}
	var payload failure
	if err := json.Unmarshal(stderr.Bytes(), &payload); err != nil {
		t.Fatalf("stderr is not JSON: %v\n%s", err, stderr.String())
	}
	if !strings.Contains(payload.Error, "auth") {
		t.Errorf("error = %q, want an auth failure", payload.Error)
	}
}

func TestRunMissingCredentials(t *testing.T) {
	srv := httptest.NewServer(&fakeAPI{})
	defer srv.Close()
	dir := newDataDir(t, srv)

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), &cli{dataDir: dir, set: map[string]bool{}}, envFunc(nil), &stdout, &stderr)
	if code != 1 {
		t.Fatalf("run() = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "OPENAI_API_KEY") {
		t.Errorf("stderr does not name the missing credential:\n%s", stderr.String())
	}
}

func TestRunSeedsDefaultConfig(t *testing.T) {
	dir := t.TempDir()
	var stdout, stderr bytes.Buffer
	// Fails on missing credentials, after the config has been seeded.
	run(context.Background(), &cli{dataDir: dir, set: map[string]bool{}}, envFunc(nil), &stdout, &stderr)

	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("Load seeded config: %v", err)
	}
	if cfg.Reply.Mode != "image" {
		t.Errorf("seeded reply.mode = %q, want image", cfg.Reply.Mode)
	}
}
