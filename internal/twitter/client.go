// Package twitter is a narrow client for the social platform: reading the
// authenticated user and their mentions, looking up a tweet, posting
// replies, and uploading reply images.
//
// Rate-limit and authentication failures are returned as
// [types.SignalError] so callers can react without inspecting status codes.
package twitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"tools.zach/dev/mentionbot/internal/cursor"
)

// maxMentionPages is how many pages one pass returns. Pages arrive newest
// first, so when a backlog runs deeper only the oldest pages are kept and
// the rest are picked up by later passes.
const maxMentionPages = 10

// maxBacklogPages bounds the walk back to the cursor. The platform keeps far
// fewer mentions than this; exceeding it means the server never ends
// pagination.
const maxBacklogPages = 200

const tweetFields = "created_at,conversation_id,in_reply_to_user_id,author_id"

// ///////////////////////////////////////////////
// Types
// ///////////////////////////////////////////////

// User is a platform account.
type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
}

// Tweet is a platform post. Author is filled from the response includes
// when available.
type Tweet struct {
	ID              string    `json:"id"`
	Text            string    `json:"text"`
	AuthorID        string    `json:"author_id"`
	ConversationID  string    `json:"conversation_id"`
	InReplyToUserID string    `json:"in_reply_to_user_id"`
	CreatedAt       time.Time `json:"created_at"`
	Author          *User     `json:"-"`
}

type includes struct {
	Users []User `json:"users"`
}

type meta struct {
	ResultCount int    `json:"result_count"`
	NextToken   string `json:"next_token"`
}

// TokenSource supplies the current OAuth2 access token.
type TokenSource interface {
	AccessToken() string
}

// ///////////////////////////////////////////////
// Client
// ///////////////////////////////////////////////

// Client calls the platform's v2 API with a bearer token.
type Client struct {
	baseURL string
	http    *retryablehttp.Client
	tokens  TokenSource
}

// NewClient returns a client for the API at baseURL.
func NewClient(baseURL string, hc *retryablehttp.Client, tokens TokenSource) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    hc,
		tokens:  tokens,
	}
}

// Me returns the authenticated user.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var resp struct {
		Data *User `json:"data"`
		apiErrors
	}
	if err := c.do(ctx, http.MethodGet, "/2/users/me", nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetching authenticated user: %w", err)
	}
	if resp.Data == nil {
		return nil, resp.asError("fetching authenticated user")
	}
	return resp.Data, nil
}

// Mentions returns mentions of userID newer than sinceID in ascending id
// order, at most maxMentionPages pages of them. With a sinceID the walk
// continues to the end of pagination and keeps the oldest pages, so the
// mentions returned are always the ones directly above sinceID. An empty
// sinceID returns the most recent mentions.
func (c *Client) Mentions(ctx context.Context, userID, sinceID string) ([]Tweet, error) {
	var pages [][]Tweet
	dropped := 0
	next := ""
	for page := 0; ; page++ {
		if page == maxBacklogPages {
			return nil, fmt.Errorf("fetching mentions: pagination did not end after %d pages", maxBacklogPages)
		}
		q := url.Values{}
		q.Set("max_results", "100")
		q.Set("expansions", "author_id")
		q.Set("tweet.fields", tweetFields)
		q.Set("user.fields", "username,name")
		if sinceID != "" {
			q.Set("since_id", sinceID)
		}
		if next != "" {
			q.Set("pagination_token", next)
		}

		var resp struct {
			Data     []Tweet  `json:"data"`
			Includes includes `json:"includes"`
			Meta     meta     `json:"meta"`
			apiErrors
		}
		path := "/2/users/" + url.PathEscape(userID) + "/mentions"
		if err := c.do(ctx, http.MethodGet, path, q, nil, &resp); err != nil {
			return nil, fmt.Errorf("fetching mentions: %w", err)
		}
		attachAuthors(resp.Data, resp.Includes)
		pages = append(pages, resp.Data)
		if len(pages) > maxMentionPages {
			dropped += len(pages[0])
			pages = pages[1:]
		}

		next = resp.Meta.NextToken
		if next == "" || (sinceID == "" && len(pages) == maxMentionPages) {
			break
		}
	}
	if dropped > 0 {
		slog.Info("mention backlog deeper than one pass, answering oldest first", "deferred", dropped, "since", sinceID)
	}

	var all []Tweet
	for _, p := range pages {
		all = append(all, p...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return cursor.Compare(all[i].ID, all[j].ID) < 0
	})
	return all, nil
}

// Tweet returns a single tweet by id.
func (c *Client) Tweet(ctx context.Context, id string) (*Tweet, error) {
	q := url.Values{}
	q.Set("expansions", "author_id")
	q.Set("tweet.fields", tweetFields)
	q.Set("user.fields", "username,name")

	var resp struct {
		Data     *Tweet   `json:"data"`
		Includes includes `json:"includes"`
		apiErrors
	}
	if err := c.do(ctx, http.MethodGet, "/2/tweets/"+url.PathEscape(id), q, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetching tweet %s: %w", id, err)
	}
	if resp.Data == nil {
		return nil, resp.asError("fetching tweet " + id)
	}
	tweets := []Tweet{*resp.Data}
	attachAuthors(tweets, resp.Includes)
	return &tweets[0], nil
}

// CreateTweet posts text, optionally as a reply and with attached media,
// and returns the new tweet's id.
func (c *Client) CreateTweet(ctx context.Context, text, inReplyTo string, mediaIDs []string) (string, error) {
	body := map[string]any{"text": text}
	if inReplyTo != "" {
		body["reply"] = map[string]string{"in_reply_to_tweet_id": inReplyTo}
	}
	if len(mediaIDs) > 0 {
		body["media"] = map[string][]string{"media_ids": mediaIDs}
	}

	var resp struct {
		Data *struct {
			ID string `json:"id"`
		} `json:"data"`
		apiErrors
	}
	if err := c.do(ctx, http.MethodPost, "/2/tweets", nil, body, &resp); err != nil {
		return "", fmt.Errorf("creating tweet: %w", err)
	}
	if resp.Data == nil || resp.Data.ID == "" {
		return "", resp.asError("creating tweet")
	}
	return resp.Data.ID, nil
}

// ///////////////////////////////////////////////
// Transport
// ///////////////////////////////////////////////

// apiErrors captures partial errors returned alongside a 200 response.
type apiErrors struct {
	Errors []ErrorItem `json:"errors"`
}

func (a apiErrors) asError(op string) error {
	return fmt.Errorf("%s: %w", op, &APIError{StatusCode: http.StatusOK, Errors: a.Errors})
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		payload = bytes.NewReader(data)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, u, payload)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.tokens.AccessToken())

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

// decodeResponse decodes a 2xx body into out, or returns a classified
// [APIError] for any other status.
func decodeResponse(resp *http.Response, out any) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{}
		if jsonErr := json.Unmarshal(data, apiErr); jsonErr != nil {
			apiErr.Body = string(data)
		}
		apiErr.StatusCode = resp.StatusCode
		return classify(resp.StatusCode, apiErr)
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func attachAuthors(tweets []Tweet, inc includes) {
	if len(inc.Users) == 0 {
		return
	}
	byID := make(map[string]*User, len(inc.Users))
	for i := range inc.Users {
		byID[inc.Users[i].ID] = &inc.Users[i]
	}
	for i := range tweets {
		tweets[i].Author = byID[tweets[i].AuthorID]
	}
}
