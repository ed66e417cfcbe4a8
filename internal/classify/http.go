package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/dharsanguruparan/vanguard/internal/imaging"
)

const uploadQuality = 92

// HTTPBackend posts the image as a multipart "file" field to a model server
// and expects {"predictions":[{"label":..,"confidence":..}]} back.
type HTTPBackend struct {
	url    string
	client *http.Client
}

// NewHTTPBackend returns a backend for url. A nil client uses
// http.DefaultClient; the Gateway bounds the call through the context.
func NewHTTPBackend(url string, client *http.Client) *HTTPBackend {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPBackend{url: url, client: client}
}

// Predict implements Backend.
func (b *HTTPBackend) Predict(ctx context.Context, img image.Image) ([]Prediction, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "image.jpg")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if err := imaging.EncodeJPEG(part, img, uploadQuality); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("model server returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var result struct {
		Predictions []Prediction `json:"predictions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrMalformedResult, err)
	}
	return result.Predictions, nil
}
