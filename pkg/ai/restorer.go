// Package ai wraps the external image restoration model.
package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// DefaultPrompt is sent when the upload carries no caption.
const DefaultPrompt = "Restore and colorize this old or damaged photo. Remove photo frame and repair torn edges"

// Restorer produces a restored rendition of an input image.
type Restorer interface {
	// Restore issues one synchronous call. Any failure at any step comes
	// back as an error; the caller decides about retries (currently: none)
	// and bounds the call with its context.
	Restore(ctx context.Context, image []byte, prompt string) ([]byte, error)
}

// ImageRestorer calls any OpenAI-compatible /v1/chat/completions endpoint
// whose models return generated images, e.g. OpenRouter image models.
type ImageRestorer struct {
	baseURL       string
	apiKey        string
	model         string
	defaultPrompt string
	httpClient    *http.Client
}

// NewImageRestorer builds the client. baseURL should include the /v1 prefix,
// e.g. "https://openrouter.ai/api/v1". An empty defaultPrompt falls back to
// DefaultPrompt. No client-side timeout is set; callers pass a bounded ctx.
func NewImageRestorer(baseURL, apiKey, model, defaultPrompt string) *ImageRestorer {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if strings.TrimSpace(defaultPrompt) == "" {
		defaultPrompt = DefaultPrompt
	}
	return &ImageRestorer{
		baseURL:       baseURL,
		apiKey:        strings.TrimSpace(apiKey),
		model:         strings.TrimSpace(model),
		defaultPrompt: defaultPrompt,
		httpClient:    &http.Client{},
	}
}

// Restore implements Restorer.
func (r *ImageRestorer) Restore(ctx context.Context, image []byte, prompt string) ([]byte, error) {
	if r.model == "" {
		return nil, fmt.Errorf("restoration model required")
	}
	if len(image) == 0 {
		return nil, fmt.Errorf("empty source image")
	}
	if strings.TrimSpace(prompt) == "" {
		prompt = r.defaultPrompt
	}

	imageURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(image)
	reqBody := chatRequest{
		Model: r.model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: prompt},
				{Type: "image_url", ImageURL: imageURL},
			},
		}},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	url := r.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("restoration request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error.Message != "" {
			return nil, fmt.Errorf("restoration api error: %s", errResp.Error.Message)
		}
		return nil, fmt.Errorf("restoration api error: %s", resp.Status)
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("restoration decode: %w", err)
	}
	if len(chatResp.Choices) == 0 || len(chatResp.Choices[0].Message.Images) == 0 {
		return nil, fmt.Errorf("no image in restoration response")
	}
	return decodeDataURL(chatResp.Choices[0].Message.Images[0].ImageURL.URL)
}

// decodeDataURL extracts raw bytes from a "data:image/...;base64,..." URL.
func decodeDataURL(url string) ([]byte, error) {
	_, data, found := strings.Cut(url, ",")
	if !found {
		return nil, fmt.Errorf("malformed image data url")
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("decode image data url: %w", err)
	}
	return raw, nil
}

// OpenAI-compatible request/response types. The request mirrors the wire
// format OpenRouter image models accept: image_url carried as a bare string.

type contentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Images []struct {
				ImageURL struct {
					URL string `json:"url"`
				} `json:"image_url"`
			} `json:"images"`
		} `json:"message"`
	} `json:"choices"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}
