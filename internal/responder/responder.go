// Package responder runs one discovery-and-reply pass: it fetches mentions
// newer than the cursor, asks the assistant for a reply to each eligible
// one, publishes the reply, and reports what happened as a
// [types.Outcome].
//
// Rate-limit and authentication signals from either backend are reported
// as outcome flags rather than errors. Only unexpected failures while
// fetching mentions are returned as errors.
package responder

import (
	"context"
	"errors"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"tools.zach/dev/mentionbot/internal/cursor"
	"tools.zach/dev/mentionbot/internal/twitter"
	"tools.zach/dev/mentionbot/internal/types"
)

// ///////////////////////////////////////////////
// Collaborators
// ///////////////////////////////////////////////

// Twitter reads mentions and posts replies.
type Twitter interface {
	Mentions(ctx context.Context, userID, sinceID string) ([]twitter.Tweet, error)
	Tweet(ctx context.Context, id string) (*twitter.Tweet, error)
	CreateTweet(ctx context.Context, text, inReplyTo string, mediaIDs []string) (string, error)
}

// Media uploads reply images.
type Media interface {
	UploadPNG(ctx context.Context, data []byte) (string, error)
}

// Assistant generates reply text.
type Assistant interface {
	Reply(ctx context.Context, prompt string, mode types.ReplyMode) (string, error)
}

// Renderer draws a reply as a PNG.
type Renderer interface {
	Render(author, prompt, response string) ([]byte, error)
}

// Config tunes eligibility and publishing.
type Config struct {
	// Bot is the authenticated account that mentions are addressed to.
	Bot twitter.User
	// MaxMentionsPerPass caps the replies attempted in one pass. Zero means
	// no cap.
	MaxMentionsPerPass int
	// IgnoreAuthors are doublestar patterns matched against lowercased
	// usernames.
	IgnoreAuthors []string
	// MaxTweetLength is the per-tweet character limit for text replies.
	MaxTweetLength int
}

// Runner performs passes. Media and Renderer may be nil, in which case image
// mode falls back to text replies.
type Runner struct {
	cfg       Config
	twitter   Twitter
	media     Media
	assistant Assistant
	renderer  Renderer
	now       func() time.Time
}

// New returns a Runner.
func New(cfg Config, tw Twitter, media Media, assistant Assistant, renderer Renderer) *Runner {
	if cfg.MaxTweetLength <= 0 {
		cfg.MaxTweetLength = 280
	}
	return &Runner{
		cfg:       cfg,
		twitter:   tw,
		media:     media,
		assistant: assistant,
		renderer:  renderer,
		now:       time.Now,
	}
}

// ///////////////////////////////////////////////
// Pass
// ///////////////////////////////////////////////

// Run performs one pass over mentions newer than sinceID.
func (r *Runner) Run(ctx context.Context, sinceID string, opts types.SessionOptions) (*types.Outcome, error) {
	out := &types.Outcome{}

	mentions, err := r.fetch(ctx, sinceID, opts.DebugTweet)
	if err != nil {
		if markSignal(out, err) {
			slog.Warn("mention fetch signalled", "error", err)
			return out, nil
		}
		return nil, err
	}
	slog.Debug("fetched mentions", "count", len(mentions), "since", sinceID)

	high := ""
	processed := 0
	for _, m := range mentions {
		if ctx.Err() != nil {
			break
		}
		if r.cfg.MaxMentionsPerPass > 0 && processed >= r.cfg.MaxMentionsPerPass {
			slog.Info("mention cap reached, deferring the rest", "cap", r.cfg.MaxMentionsPerPass)
			break
		}
		if opts.DebugTweet == "" && cursor.Compare(m.ID, sinceID) <= 0 {
			continue
		}

		prompt := ExtractPrompt(m.Text, r.cfg.Bot.Username)
		if !opts.ForceReply {
			if reason := r.skipReason(m, prompt); reason != "" {
				slog.Debug("skipping mention", "id", m.ID, "reason", reason)
				high = cursor.Max(high, m.ID)
				continue
			}
		}

		inter, err := r.respond(ctx, m, prompt, opts)
		out.Interactions = append(out.Interactions, inter)
		if err != nil && markSignal(out, err) {
			slog.Warn("pass stopped by service signal", "id", m.ID, "error", err)
			break
		}
		if err != nil {
			slog.Error("mention failed", "id", m.ID, "error", err)
		}
		high = cursor.Max(high, m.ID)
		processed++

		if opts.EarlyExit {
			break
		}
	}

	if opts.DebugTweet == "" {
		out.SinceMentionID = high
	}
	return out, nil
}

func (r *Runner) fetch(ctx context.Context, sinceID, debugTweet string) ([]twitter.Tweet, error) {
	if debugTweet != "" {
		tw, err := r.twitter.Tweet(ctx, debugTweet)
		if err != nil {
			return nil, err
		}
		return []twitter.Tweet{*tw}, nil
	}
	return r.twitter.Mentions(ctx, r.cfg.Bot.ID, sinceID)
}

// markSignal sets the outcome flag matching err's signal and reports
// whether there was one.
func markSignal(out *types.Outcome, err error) bool {
	var se *types.SignalError
	if !errors.As(err, &se) {
		return false
	}
	ai := se.Service == types.ServiceAI
	switch se.Signal {
	case types.SignalRateLimited:
		if ai {
			out.AIRateLimited = true
		} else {
			out.TwitterRateLimited = true
		}
	case types.SignalAuthExpired:
		if ai {
			out.AIAuthExpired = true
		} else {
			out.TwitterAuthExpired = true
		}
	default:
		return false
	}
	return true
}

// ///////////////////////////////////////////////
// Eligibility
// ///////////////////////////////////////////////

func (r *Runner) skipReason(m twitter.Tweet, prompt string) string {
	if m.AuthorID != "" && m.AuthorID == r.cfg.Bot.ID {
		return "own tweet"
	}
	if m.Author != nil && matchesAuthor(r.cfg.IgnoreAuthors, m.Author.Username) {
		return "ignored author"
	}
	if prompt == "" {
		return "empty prompt"
	}
	return ""
}

func matchesAuthor(patterns []string, username string) bool {
	name := strings.ToLower(username)
	for _, pattern := range patterns {
		matched, err := doublestar.Match(strings.ToLower(pattern), name)
		if err != nil {
			slog.Warn("invalid ignore pattern", "pattern", pattern, "error", err)
			continue
		}
		if matched {
			return true
		}
	}
	return false
}

// ExtractPrompt strips the leading run of @handles and any remaining
// mention of bot from text, and decodes HTML entities.
func ExtractPrompt(text, bot string) string {
	words := strings.Fields(html.UnescapeString(text))
	i := 0
	for i < len(words) && strings.HasPrefix(words[i], "@") {
		i++
	}
	handle := "@" + strings.ToLower(bot)
	var kept []string
	for _, w := range words[i:] {
		if bot != "" && strings.ToLower(strings.TrimRight(w, ".,:;!?")) == handle {
			continue
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}

// ///////////////////////////////////////////////
// Replying
// ///////////////////////////////////////////////

func (r *Runner) respond(ctx context.Context, m twitter.Tweet, prompt string, opts types.SessionOptions) (types.Interaction, error) {
	inter := types.Interaction{
		MentionID:      m.ID,
		ConversationID: m.ConversationID,
		AuthorID:       m.AuthorID,
		Prompt:         prompt,
		CreatedAt:      m.CreatedAt,
	}
	if m.Author != nil {
		inter.AuthorUsername = m.Author.Username
	}
	if inter.CreatedAt.IsZero() {
		inter.CreatedAt = r.now().UTC()
	}

	response, err := r.assistant.Reply(ctx, prompt, opts.ReplyMode)
	if err != nil {
		inter.Error = err.Error()
		return inter, err
	}
	inter.Response = response

	if opts.DryRun {
		slog.Info("dry run, reply not posted", "id", m.ID, "chars", len([]rune(response)))
		return inter, nil
	}

	ids, err := r.publish(ctx, m, inter.AuthorUsername, prompt, response, opts.ReplyMode)
	inter.ResponseTweetIDs = ids
	if err != nil {
		inter.Error = err.Error()
		return inter, err
	}
	slog.Info("replied to mention", "id", m.ID, "author", inter.AuthorUsername, "replies", len(ids))
	return inter, nil
}

func (r *Runner) publish(ctx context.Context, m twitter.Tweet, author, prompt, response string, mode types.ReplyMode) ([]string, error) {
	if mode == types.ReplyModeImage {
		mediaID, err := r.uploadImage(ctx, author, prompt, response)
		if err == nil {
			id, err := r.twitter.CreateTweet(ctx, "", m.ID, []string{mediaID})
			if err != nil {
				return nil, err
			}
			return []string{id}, nil
		}
		if types.SignalOf(err) != types.SignalOK {
			return nil, err
		}
		slog.Warn("image reply unavailable, falling back to text", "id", m.ID, "error", err)
	}

	var ids []string
	inReplyTo := m.ID
	for _, chunk := range SplitReply(response, r.cfg.MaxTweetLength) {
		id, err := r.twitter.CreateTweet(ctx, chunk, inReplyTo, nil)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
		inReplyTo = id
	}
	return ids, nil
}

func (r *Runner) uploadImage(ctx context.Context, author, prompt, response string) (string, error) {
	if r.renderer == nil || r.media == nil {
		return "", errors.New("image replies not configured")
	}
	png, err := r.renderer.Render(author, prompt, response)
	if err != nil {
		return "", err
	}
	return r.media.UploadPNG(ctx, png)
}
