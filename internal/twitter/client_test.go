// Tests for the platform client: request shape, pagination and ordering,
// author expansion, reply posting, and error classification.
package twitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"tools.zach/dev/mentionbot/internal/types"
)

type staticToken string

func (s staticToken) AccessToken() string { return string(s) }

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	hc := NewHTTPClient(2, 5*time.Second)
	hc.RetryWaitMin = time.Millisecond
	hc.RetryWaitMax = time.Millisecond
	return NewClient(srv.URL, hc, staticToken("tok"))
}

// ///////////////////////////////////////////////
// Reads
// ///////////////////////////////////////////////

func TestMe(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/2/users/me" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		fmt.Fprint(w, `{"data":{"id":"42","name":"Bot","username":"askbot"}}`)
	})

	me, err := c.Me(context.Background())
	if err != nil {
		t.Fatalf("Me: %v", err)
	}
	if me.ID != "42" || me.Username != "askbot" {
		t.Errorf("Me = %+v", me)
	}
}

func TestMentionsPaginatesAndSorts(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/2/users/42/mentions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("since_id") != "100" {
			t.Errorf("since_id = %q", q.Get("since_id"))
		}
		if q.Get("expansions") != "author_id" {
			t.Errorf("expansions = %q", q.Get("expansions"))
		}
		switch q.Get("pagination_token") {
		case "":
			fmt.Fprint(w, `{
				"data":[
					{"id":"10000000000000000000","text":"@askbot newest","author_id":"7"},
					{"id":"9999999999999999999","text":"@askbot middle","author_id":"8"}
				],
				"includes":{"users":[{"id":"7","username":"alice"},{"id":"8","username":"bob"}]},
				"meta":{"result_count":2,"next_token":"p2"}}`)
		case "p2":
			fmt.Fprint(w, `{
				"data":[{"id":"101","text":"@askbot oldest","author_id":"7"}],
				"includes":{"users":[{"id":"7","username":"alice"}]},
				"meta":{"result_count":1}}`)
		default:
			t.Errorf("unexpected pagination token %q", q.Get("pagination_token"))
		}
	})

	got, err := c.Mentions(context.Background(), "42", "100")
	if err != nil {
		t.Fatalf("Mentions: %v", err)
	}
	wantIDs := []string{"101", "9999999999999999999", "10000000000000000000"}
	if len(got) != len(wantIDs) {
		t.Fatalf("got %d mentions, want %d", len(got), len(wantIDs))
	}
	for i, id := range wantIDs {
		if got[i].ID != id {
			t.Errorf("mention[%d].ID = %s, want %s", i, got[i].ID, id)
		}
	}
	if got[1].Author == nil || got[1].Author.Username != "bob" {
		t.Errorf("author not attached: %+v", got[1].Author)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

// backlogServer serves total pages of one mention each, newest first: page
// n carries id 1000+10*(total-1-n). The endless variant never ends
// pagination.
func backlogServer(t *testing.T, total int, endless bool, calls *atomic.Int32) *Client {
	t.Helper()
	return newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		n := 0
		if tok := r.URL.Query().Get("pagination_token"); tok != "" {
			fmt.Sscanf(tok, "p%d", &n)
		}
		id := 1000 + 10*(total-1-n)
		next := ""
		if endless || n+1 < total {
			next = fmt.Sprintf(`,"next_token":"p%d"`, n+1)
		}
		fmt.Fprintf(w, `{"data":[{"id":"%d","text":"@askbot q","author_id":"7"}],"meta":{"result_count":1%s}}`, id, next)
	})
}

func TestMentionsDeepBacklogKeepsOldest(t *testing.T) {
	var calls atomic.Int32
	c := backlogServer(t, maxMentionPages+1, false, &calls)

	got, err := c.Mentions(context.Background(), "42", "999")
	if err != nil {
		t.Fatalf("Mentions: %v", err)
	}
	if len(got) != maxMentionPages {
		t.Fatalf("got %d mentions, want %d", len(got), maxMentionPages)
	}
	if got[0].ID != "1000" {
		t.Errorf("oldest = %s, want 1000 (the mention directly above the cursor)", got[0].ID)
	}
	if last := got[len(got)-1].ID; last != "1090" {
		t.Errorf("newest = %s, want 1090; 1100 belongs to the next pass", last)
	}
	if calls.Load() != int32(maxMentionPages+1) {
		t.Errorf("calls = %d, want %d", calls.Load(), maxMentionPages+1)
	}
}

func TestMentionsWithoutCursorStopsAtPageLimit(t *testing.T) {
	var calls atomic.Int32
	c := backlogServer(t, maxMentionPages+5, false, &calls)

	got, err := c.Mentions(context.Background(), "42", "")
	if err != nil {
		t.Fatalf("Mentions: %v", err)
	}
	if calls.Load() != maxMentionPages {
		t.Errorf("calls = %d, want %d", calls.Load(), maxMentionPages)
	}
	if len(got) != maxMentionPages {
		t.Fatalf("got %d mentions, want %d", len(got), maxMentionPages)
	}
	if newest := got[len(got)-1].ID; newest != "1140" {
		t.Errorf("newest = %s, want 1140", newest)
	}
}

func TestMentionsEndlessPaginationFails(t *testing.T) {
	var calls atomic.Int32
	c := backlogServer(t, 1, true, &calls)

	if _, err := c.Mentions(context.Background(), "42", "999"); err == nil {
		t.Fatal("expected error when pagination never ends")
	}
	if calls.Load() != maxBacklogPages {
		t.Errorf("calls = %d, want %d", calls.Load(), maxBacklogPages)
	}
}

func TestMentionsEmpty(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Has("since_id") {
			t.Error("since_id sent for empty cursor")
		}
		fmt.Fprint(w, `{"meta":{"result_count":0}}`)
	})
	got, err := c.Mentions(context.Background(), "42", "")
	if err != nil {
		t.Fatalf("Mentions: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d mentions, want 0", len(got))
	}
}

func TestTweet(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/2/tweets/555" {
			t.Errorf("path = %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"data":{"id":"555","text":"hi","author_id":"7","conversation_id":"500","created_at":"2024-05-01T12:00:00.000Z"},
			"includes":{"users":[{"id":"7","username":"alice"}]}}`)
	})
	tw, err := c.Tweet(context.Background(), "555")
	if err != nil {
		t.Fatalf("Tweet: %v", err)
	}
	if tw.ConversationID != "500" || tw.Author == nil || tw.Author.Username != "alice" {
		t.Errorf("Tweet = %+v", tw)
	}
	if tw.CreatedAt.IsZero() {
		t.Error("CreatedAt not parsed")
	}
}

func TestTweetNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"errors":[{"value":"555","detail":"Could not find tweet with id: [555].","title":"Not Found Error","resource_type":"tweet"}]}`)
	})
	_, err := c.Tweet(context.Background(), "555")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if !strings.Contains(apiErr.Error(), "Could not find tweet") {
		t.Errorf("Error() = %q", apiErr.Error())
	}
}

// ///////////////////////////////////////////////
// Writes
// ///////////////////////////////////////////////

func TestCreateTweet(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/2/tweets" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		var body struct {
			Text  string `json:"text"`
			Reply struct {
				InReplyTo string `json:"in_reply_to_tweet_id"`
			} `json:"reply"`
			Media struct {
				IDs []string `json:"media_ids"`
			} `json:"media"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body.Text != "answer" || body.Reply.InReplyTo != "555" {
			t.Errorf("body = %+v", body)
		}
		if len(body.Media.IDs) != 1 || body.Media.IDs[0] != "m1" {
			t.Errorf("media ids = %v", body.Media.IDs)
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"data":{"id":"900","text":"answer"}}`)
	})

	id, err := c.CreateTweet(context.Background(), "answer", "555", []string{"m1"})
	if err != nil {
		t.Fatalf("CreateTweet: %v", err)
	}
	if id != "900" {
		t.Errorf("id = %q, want 900", id)
	}
}

// ///////////////////////////////////////////////
// Error Classification
// ///////////////////////////////////////////////

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantSig   types.Signal
		wantCalls int32
	}{
		{"rate limited not retried", 429, `{"title":"Too Many Requests","detail":"Too Many Requests","type":"about:blank","status":429}`, types.SignalRateLimited, 1},
		{"unauthorized", 401, `{"title":"Unauthorized","type":"about:blank","status":401,"detail":"Unauthorized"}`, types.SignalAuthExpired, 1},
		{"forbidden is plain", 403, `{"title":"Forbidden","detail":"duplicate content"}`, types.SignalOK, 1},
		{"server error retried", 503, `oops`, types.SignalOK, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})
			_, err := c.Me(context.Background())
			if err == nil {
				t.Fatal("expected error")
			}
			if got := types.SignalOf(err); got != tt.wantSig {
				t.Errorf("SignalOf = %v, want %v", got, tt.wantSig)
			}
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("err = %v, want *APIError in chain", err)
			}
			if apiErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, tt.status)
			}
			if apiErr.Details() == nil {
				t.Error("Details() = nil")
			}
			if calls.Load() != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls.Load(), tt.wantCalls)
			}
		})
	}
}

func TestAPIErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  *APIError
		want string
	}{
		{"title and detail", &APIError{StatusCode: 429, Title: "Too Many Requests", Detail: "slow down"}, "twitter api 429: Too Many Requests: slow down"},
		{"errors list", &APIError{StatusCode: 400, Errors: []ErrorItem{{Message: "a"}, {Detail: "b"}}}, "twitter api 400: a; b"},
		{"status text fallback", &APIError{StatusCode: 502}, "twitter api 502: Bad Gateway"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}
