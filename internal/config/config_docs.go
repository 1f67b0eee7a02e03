package config

// ///////////////////////////////////////////////
// Documentation Types
// ///////////////////////////////////////////////

// FieldDoc holds documentation and alternative examples for a single config field.
// The genconfig tool uses [FieldDoc] values to annotate the generated config.default.toml.
type FieldDoc struct {
	// Comment is shown as a header comment above the field in the example config.
	Comment string

	// Alternatives are shown as commented-out lines below the active value.
	Alternatives []string
}

// ///////////////////////////////////////////////
// Field Documentation Map
// ///////////////////////////////////////////////

// ConfigDocs maps TOML field paths (dot-separated, e.g. "reply.mode") to their
// [FieldDoc] entries. Section paths ("twitter") document the section header.
var ConfigDocs = map[string]FieldDoc{
	"version": {
		Comment: "Config schema version. Do not edit.",
	},

	// ── Twitter ──────────────────────────────────────────────────
	"twitter": {
		Comment: "Credentials may be left empty here and supplied through the\nenvironment: TWITTER_CLIENT_ID, TWITTER_CLIENT_SECRET, TWITTER_API_KEY,\nTWITTER_API_SECRET_KEY, TWITTER_API_ACCESS_TOKEN, TWITTER_API_ACCESS_SECRET.",
	},
	"twitter.client_id": {
		Comment: "OAuth2 app used to refresh the bot's user token.",
	},
	"twitter.client_secret": {},
	"twitter.api_key": {
		Comment: "OAuth 1.0a keys. Only media upload needs them; without them\nimage replies are posted as text.",
	},
	"twitter.api_secret_key": {},
	"twitter.access_token":   {},
	"twitter.access_secret":  {},
	"twitter.api_url": {
		Comment: "Endpoints. Change only to point at a proxy or test server.",
	},
	"twitter.upload_url": {},
	"twitter.token_url":  {},
	"twitter.scopes": {
		Comment: "Scopes requested on every refresh. offline.access keeps the\nrefresh token rotating.",
	},
	"twitter.request_timeout_seconds": {
		Comment: "Per-attempt HTTP timeout.",
	},
	"twitter.retry_max": {
		Comment: "Retries for network errors and 5xx responses. 429 is never retried;\nthe loop backs off instead.",
	},

	// ── OpenAI ───────────────────────────────────────────────────
	"openai.api_key": {
		Comment: "Overridden by OPENAI_API_KEY when set.",
	},
	"openai.model": {
		Comment: "Chat model used for replies. Overridden by OPENAI_MODEL.",
		Alternatives: []string{
			`model = "gpt-4o"`,
			`model = "gpt-4.1-mini"`,
		},
	},
	"openai.base_url": {
		Comment: "Any OpenAI-compatible endpoint.",
		Alternatives: []string{
			`base_url = "http://127.0.0.1:11434/v1"`,
		},
	},
	"openai.system_prompt": {
		Comment: "Instructions sent ahead of every mention. Formatting guidance for\nthe reply mode is appended automatically.",
	},
	"openai.max_tokens": {
		Comment: "Upper bound on reply length in tokens. 0 lets the server decide.",
	},

	// ── Loop ─────────────────────────────────────────────────────
	"loop": {
		Comment: "Delays between passes, in seconds.",
	},
	"loop.rate_limit_delay_seconds": {
		Comment: "Slept twice after any rate-limited pass.",
	},
	"loop.twitter_rate_limit_delay_seconds": {
		Comment: "Slept once more when Twitter itself rate limited the pass.",
	},
	"loop.busy_delay_seconds": {
		Comment: "After a pass that posted at least one reply.",
	},
	"loop.idle_delay_seconds": {
		Comment: "After a pass that posted nothing.",
	},
	"loop.fault_delay_seconds": {
		Comment: "After an unexpected error, before refreshing credentials.",
	},
	"loop.refresh_every_passes": {
		Comment: "Refresh the access token every N passes. 0 refreshes only on expiry.",
	},

	// ── Reply ────────────────────────────────────────────────────
	"reply.mode": {
		Comment: "Default reply mode. Overridden by TWEET_MODE or -mode.",
		Alternatives: []string{
			`mode = "text"`,
		},
	},
	"reply.max_mentions_per_pass": {
		Comment: "Oldest mentions are answered first. 0 means no cap.",
	},
	"reply.ignore_authors": {
		Comment: "Usernames never replied to. Glob patterns, case-insensitive.",
		Alternatives: []string{
			`ignore_authors = ["*bot", "spam_*"]`,
		},
	},
	"reply.max_tweet_length": {
		Comment: "Text replies longer than this are posted as a thread.",
	},
	"reply.image_width": {
		Comment: "Image reply styling. Colors are #RRGGBB.",
	},
	"reply.font_size":  {},
	"reply.background": {},
	"reply.foreground": {},

	// ── Store ────────────────────────────────────────────────────
	"store.backend": {
		Comment: "Where the mention cursor and refresh token are kept.\nfile = state.toml in the data directory, sqlite = state.db.",
		Alternatives: []string{
			`backend = "sqlite"`,
		},
	},

	// ── Log ──────────────────────────────────────────────────────
	"log.level": {
		Comment: "trace, debug, info, warn, error",
	},
	"log.max_size_mb": {
		Comment: "mentionbot.log is rotated at this size.",
	},
	"log.stderr": {
		Comment: "Also write log lines to stderr.",
	},
}
