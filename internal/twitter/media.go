package twitter

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/dghubble/oauth1"
	"github.com/hashicorp/go-retryablehttp"
)

// MediaKeys are the static OAuth 1.0a credentials used for media upload.
type MediaKeys struct {
	APIKey       string
	APISecret    string
	AccessToken  string
	AccessSecret string
}

// Complete reports whether every key is set.
func (k MediaKeys) Complete() bool {
	return k.APIKey != "" && k.APISecret != "" && k.AccessToken != "" && k.AccessSecret != ""
}

// MediaClient uploads images through the v1.1 media endpoint, signing each
// request with OAuth 1.0a.
type MediaClient struct {
	uploadURL string
	http      *http.Client
}

// NewMediaClient returns a client for the upload host at uploadURL. Signed
// requests are sent through hc.
func NewMediaClient(uploadURL string, hc *retryablehttp.Client, keys MediaKeys) *MediaClient {
	cfg := oauth1.NewConfig(keys.APIKey, keys.APISecret)
	token := oauth1.NewToken(keys.AccessToken, keys.AccessSecret)
	ctx := context.WithValue(context.Background(), oauth1.HTTPClient, hc.StandardClient())
	return &MediaClient{
		uploadURL: strings.TrimRight(uploadURL, "/"),
		http:      cfg.Client(ctx, token),
	}
}

// UploadPNG uploads a PNG image and returns its media id.
func (m *MediaClient) UploadPNG(ctx context.Context, data []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("media", "reply.png")
	if err != nil {
		return "", fmt.Errorf("building upload: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("building upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("building upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.uploadURL+"/1.1/media/upload.json", &body)
	if err != nil {
		return "", fmt.Errorf("building upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := m.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("uploading media: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		MediaIDString string `json:"media_id_string"`
	}
	if err := decodeResponse(resp, &out); err != nil {
		return "", fmt.Errorf("uploading media: %w", err)
	}
	if out.MediaIDString == "" {
		return "", fmt.Errorf("uploading media: response has no media id")
	}
	return out.MediaIDString, nil
}
