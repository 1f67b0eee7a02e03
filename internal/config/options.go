package config

import (
	"fmt"
	"strconv"
	"strings"

	"tools.zach/dev/mentionbot/internal/cursor"
	"tools.zach/dev/mentionbot/internal/types"
)

// Options are the per-run switches. They come from the environment and may
// be overridden by command-line flags.
type Options struct {
	// DryRun generates replies without posting them or advancing the cursor.
	DryRun bool
	// EarlyExit stops after the first pass.
	EarlyExit bool
	// ForceReply answers mentions that would otherwise be skipped.
	ForceReply bool
	// DebugTweet restricts processing to a single tweet id.
	DebugTweet string
	// SinceMentionID overrides the stored cursor.
	SinceMentionID string
	// RefreshToken overrides the stored refresh token.
	RefreshToken string
	// ReplyMode overrides reply.mode.
	ReplyMode types.ReplyMode
}

// OptionsFromEnv reads the run switches from the environment. Boolean
// switches accept any value [strconv.ParseBool] understands; an unparseable
// non-empty value counts as set.
func OptionsFromEnv(getenv func(string) string, defaultMode types.ReplyMode) Options {
	o := Options{
		DryRun:         envBool(getenv("DRY_RUN")),
		EarlyExit:      envBool(getenv("EARLY_EXIT")),
		ForceReply:     envBool(getenv("FORCE_REPLY")),
		DebugTweet:     strings.TrimSpace(getenv("DEBUG_TWEET")),
		SinceMentionID: strings.TrimSpace(getenv("SINCE_ID")),
		RefreshToken:   strings.TrimSpace(getenv("TWITTER_TOKEN")),
		ReplyMode:      types.ReplyMode(strings.TrimSpace(getenv("TWEET_MODE"))),
	}
	if o.ReplyMode == "" {
		o.ReplyMode = defaultMode
	}
	return o
}

// envBool treats any non-empty value as on, except values strconv reads as
// false ("0", "false", "f").
func envBool(v string) bool {
	v = strings.TrimSpace(v)
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return true
	}
	return b
}

// Validate checks the switches for values the loop cannot act on.
func (o Options) Validate() error {
	if !o.ReplyMode.Valid() {
		return fmt.Errorf("invalid reply mode %q: must be image or text", o.ReplyMode)
	}
	if o.DebugTweet != "" && !cursor.Valid(o.DebugTweet) {
		return fmt.Errorf("invalid debug tweet id %q", o.DebugTweet)
	}
	if o.SinceMentionID != "" && !cursor.Valid(o.SinceMentionID) {
		return fmt.Errorf("invalid since mention id %q", o.SinceMentionID)
	}
	return nil
}

// Session returns the subset of switches the responder acts on.
func (o Options) Session() types.SessionOptions {
	return types.SessionOptions{
		DryRun:     o.DryRun,
		EarlyExit:  o.EarlyExit,
		ForceReply: o.ForceReply,
		DebugTweet: o.DebugTweet,
		ReplyMode:  o.ReplyMode,
	}
}
