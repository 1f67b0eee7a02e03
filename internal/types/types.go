// Package types holds the value objects shared between the polling loop and
// the session runner: the per-pass options, the pass outcome, and the
// per-mention interaction record.
package types

import "time"

// ReplyMode selects how generated text is published.
type ReplyMode string

const (
	// ReplyModeText posts the reply as a thread of plain-text tweets.
	ReplyModeText ReplyMode = "text"
	// ReplyModeImage renders the reply to a PNG and posts it as media.
	ReplyModeImage ReplyMode = "image"
)

// Valid reports whether m is a known reply mode.
func (m ReplyMode) Valid() bool {
	return m == ReplyModeText || m == ReplyModeImage
}

// SessionOptions is the fixed configuration handed to every pass.
type SessionOptions struct {
	// DryRun generates replies but never posts them or persists the cursor.
	DryRun bool
	// EarlyExit stops after the first processed mention and ends the loop.
	EarlyExit bool
	// ForceReply bypasses the reply-eligibility checks.
	ForceReply bool
	// DebugTweet restricts the pass to a single tweet id.
	DebugTweet string
	// ReplyMode selects text or image replies.
	ReplyMode ReplyMode
}

// Interaction records one processed mention.
type Interaction struct {
	MentionID        string    `json:"mention_id"`
	ConversationID   string    `json:"conversation_id,omitempty"`
	AuthorID         string    `json:"author_id,omitempty"`
	AuthorUsername   string    `json:"author_username,omitempty"`
	Prompt           string    `json:"prompt"`
	Response         string    `json:"response,omitempty"`
	ResponseTweetIDs []string  `json:"response_tweet_ids,omitempty"`
	Error            string    `json:"error,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Replied reports whether the interaction produced at least one reply
// without error.
func (i Interaction) Replied() bool {
	return i.Error == "" && len(i.ResponseTweetIDs) > 0
}

// Outcome is the result of one discovery-and-reply pass. It is created fresh
// every pass and consumed immediately by the polling loop.
type Outcome struct {
	// SinceMentionID is the new high-water mark, or "" when the pass did not
	// advance past any mention.
	SinceMentionID string
	// Interactions lists the processed mentions in id order.
	Interactions []Interaction

	AIAuthExpired      bool
	AIRateLimited      bool
	TwitterRateLimited bool
	TwitterAuthExpired bool
}

// Productive reports whether at least one interaction was replied to.
func (o *Outcome) Productive() bool {
	if o == nil {
		return false
	}
	for _, i := range o.Interactions {
		if i.Replied() {
			return true
		}
	}
	return false
}

// RateLimited reports whether either backend throttled this pass.
func (o *Outcome) RateLimited() bool {
	return o != nil && (o.AIRateLimited || o.TwitterRateLimited)
}
