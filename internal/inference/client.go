// Package inference provides the HTTP client for the remote classification and
// speech-synthesis services.
//
// Every call is one request and one response: no retries, no streaming. The
// client timeout bounds each call so a stalled service cannot hold a form in
// the submitting state forever.
package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/book-expert/inference-studio/internal/core"
	"github.com/tidwall/gjson"
)

// API endpoints and paths.
const (
	apiPredict      = "/predict"
	apiPredictMulti = "/predict-multi"
	apiSpeech       = "/tts"
	apiCorrection   = "/correction"
	// FastAPI serves its schema on every deployment.
	apiHealth = "/openapi.json"
)

// HTTP headers and media types.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeWAV    = "audio/wav"
	contentTypeBinary = "application/octet-stream"
	mediaAudioPrefix  = "audio/"
)

// Form field names.
const (
	formFieldFile  = "file"
	formFieldFiles = "files"
	formFieldText  = "text"
	queryParamText = "text"
)

const maxErrorBodyBytes = 64 << 10

// Static errors.
var (
	ErrNoAssets              = errors.New("at least one file is required")
	ErrTextEmpty             = errors.New("text cannot be empty")
	ErrEmptyAudio            = errors.New("received empty audio data")
	ErrUnexpectedContentType = errors.New("unexpected content type")
	ErrMissingResults        = errors.New("response has no results array")
)

// StatusError is returned when the service answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("inference service returned %d: %s", e.StatusCode, e.Message)
}

// HTTPClient represents a client for the inference HTTP services.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
}

type batchResponse struct {
	Results []core.Classification `json:"results"`
}

type correctionResponse struct {
	Corrected string `json:"corrected"`
}

// NewHTTPClient creates a client for the service at baseURL
// (e.g. "http://localhost:8000"). The timeout applies to every request.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// BaseURL returns the service address the client talks to.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// Classify uploads one image in the "file" field and returns its prediction.
func (c *HTTPClient) Classify(ctx context.Context, asset core.Asset) (core.Classification, error) {
	payload, err := newFilePayload(formFieldFile, []core.Asset{asset})
	if err != nil {
		return core.Classification{}, err
	}

	var result core.Classification

	err = c.postJSON(ctx, apiPredict, payload, &result)
	if err != nil {
		return core.Classification{}, err
	}

	if result.Filename == "" {
		result.Filename = asset.Name
	}

	return result, nil
}

// ClassifyBatch uploads every image as a repeated "files" field and returns the
// per-file predictions in the order the service reports them.
func (c *HTTPClient) ClassifyBatch(ctx context.Context, assets []core.Asset) ([]core.Classification, error) {
	if len(assets) == 0 {
		return nil, ErrNoAssets
	}

	payload, err := newFilePayload(formFieldFiles, assets)
	if err != nil {
		return nil, err
	}

	var response batchResponse

	err = c.postJSON(ctx, apiPredictMulti, payload, &response)
	if err != nil {
		return nil, err
	}

	// The service answers for the whole batch; entries are trusted as returned.
	if response.Results == nil {
		return nil, fmt.Errorf("%w: sent %d files", ErrMissingResults, len(assets))
	}

	return response.Results, nil
}

// Synthesize sends text in the "text" field and returns the WAV payload.
// Failures carry the service's own error message.
func (c *HTTPClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrTextEmpty
	}

	payload, err := newTextPayload(formFieldText, text)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, http.MethodPost, c.baseURL+apiSpeech, payload, contentTypeWAV)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	err = checkStatus(resp)
	if err != nil {
		return nil, err
	}

	mediaType := responseMediaType(resp)
	if !strings.HasPrefix(mediaType, mediaAudioPrefix) && mediaType != contentTypeBinary {
		return nil, fmt.Errorf("%w: expected audio, got %q", ErrUnexpectedContentType, mediaType)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(audioData) == 0 {
		return nil, ErrEmptyAudio
	}

	return audioData, nil
}

// Correct asks the text-correction endpoint to fix spelling and diacritics.
func (c *HTTPClient) Correct(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrTextEmpty
	}

	query := url.Values{}
	query.Set(queryParamText, text)

	resp, err := c.do(ctx, http.MethodPost, c.baseURL+apiCorrection+"?"+query.Encode(), nil, contentTypeJSON)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	err = checkStatus(resp)
	if err != nil {
		return "", err
	}

	// The correction endpoint reports failures with 500 and a JSON body, but
	// older deployments answer 200 with {"error": ...}.
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read correction response: %w", err)
	}

	if message := gjson.GetBytes(body, "error"); message.Exists() {
		return "", &StatusError{StatusCode: resp.StatusCode, Message: message.String()}
	}

	var result correctionResponse

	err = json.Unmarshal(body, &result)
	if err != nil {
		return "", fmt.Errorf("failed to decode correction response: %w", err)
	}

	return result.Corrected, nil
}

// HealthCheck verifies that the inference service is reachable.
func (c *HTTPClient) HealthCheck(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, c.baseURL+apiHealth, nil, contentTypeJSON)
	if err != nil {
		return fmt.Errorf("health check failed for service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("health check failed with status: %s", resp.Status)
	}

	return nil
}

func (c *HTTPClient) postJSON(ctx context.Context, path string, payload *payload, target any) error {
	resp, err := c.do(ctx, http.MethodPost, c.baseURL+path, payload, contentTypeJSON)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	err = checkStatus(resp)
	if err != nil {
		return err
	}

	err = json.NewDecoder(resp.Body).Decode(target)
	if err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", path, err)
	}

	return nil
}

func (c *HTTPClient) do(
	ctx context.Context,
	method, target string,
	payload *payload,
	accept string,
) (*http.Response, error) {
	body := io.Reader(http.NoBody)
	if payload != nil {
		body = payload.body
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if payload != nil {
		req.Header.Set(headerContentType, payload.contentType)
	}

	req.Header.Set(headerAccept, accept)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to inference service at %s: %w", c.baseURL, err)
	}

	return resp, nil
}

// checkStatus turns a non-2xx response into a *StatusError. The message comes
// from the JSON "error" field, FastAPI's "detail", or the raw body.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

	return &StatusError{
		StatusCode: resp.StatusCode,
		Message:    errorMessage(resp.StatusCode, body),
	}
}

func errorMessage(statusCode int, body []byte) string {
	if gjson.ValidBytes(body) {
		for _, path := range []string{"error", "detail.0.msg", "detail", "message"} {
			field := gjson.GetBytes(body, path)
			if field.Exists() && field.Type == gjson.String && field.String() != "" {
				return field.String()
			}
		}
	}

	text := strings.TrimSpace(string(body))
	if text != "" {
		return text
	}

	return http.StatusText(statusCode)
}

func responseMediaType(resp *http.Response) string {
	mediaType, _, err := mime.ParseMediaType(resp.Header.Get(headerContentType))
	if err != nil {
		return ""
	}

	return mediaType
}
