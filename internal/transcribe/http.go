package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// maxAudioBytes caps a single recording download.
const maxAudioBytes = 64 << 20

// HTTPDownloader fetches recordings with HTTP Basic credentials.
type HTTPDownloader struct {
	Username string
	Password string
	Timeout  time.Duration
	Client   *http.Client
}

func (d *HTTPDownloader) client() *http.Client {
	if d.Client != nil {
		return d.Client
	}
	return http.DefaultClient
}

// Download GETs url. Any non-2xx status is an error.
func (d *HTTPDownloader) Download(ctx context.Context, url string) ([]byte, error) {
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if d.Username != "" {
		req.SetBasicAuth(d.Username, d.Password)
	}

	resp, err := d.client().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxAudioBytes {
		return nil, fmt.Errorf("recording larger than %d bytes", maxAudioBytes)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty recording")
	}
	return data, nil
}

// HTTPRecognizer calls an OpenAI-compatible /audio/transcriptions endpoint.
type HTTPRecognizer struct {
	Endpoint string
	APIKey   string
	Model    string
	Language string
	Timeout  time.Duration
	Client   *http.Client
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

// Recognize uploads audio as multipart form data and returns the text.
func (r *HTTPRecognizer) Recognize(ctx context.Context, audio []byte, filename string) (string, error) {
	if r.APIKey == "" {
		return "", fmt.Errorf("speech API key not set: set SPEECH_API_KEY or speech.api_key")
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if err := writer.WriteField("model", r.Model); err != nil {
		return "", err
	}
	if r.Language != "" {
		if err := writer.WriteField("language", r.Language); err != nil {
			return "", err
		}
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(audio); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.Endpoint, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+r.APIKey)

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling speech API: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("speech API error (HTTP %d): %s", resp.StatusCode, string(respBody))
	}

	var apiResp transcriptionResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", fmt.Errorf("parsing speech response: %w", err)
	}
	return apiResp.Text, nil
}
