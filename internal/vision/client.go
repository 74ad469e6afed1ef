package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"
)

const extractionPrompt = `You are a transport operations assistant. Inspect the screenshot of a fleet dashboard and identify the single trip, route, path, stop, vehicle or driver the operator is pointing at (a row may be highlighted, circled or marked with an arrow).
Respond ONLY with compact JSON: {"entity_name": string|null, "entity_type": "trip"|"route"|"path"|"stop"|"vehicle"|"driver"|null, "suggested_operation": string|null, "confidence": number between 0 and 1, "reasoning": string}.`

// Extractor reads an entity hint from an image.
type Extractor interface {
	Extract(ctx context.Context, image []byte, instruction string) (*Extraction, error)
}

// Config holds multimodal endpoint settings.
type Config struct {
	Endpoint   string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// OllamaClient talks to an Ollama-compatible /api/generate endpoint with
// image support.
type OllamaClient struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

// NewOllamaClient creates an OllamaClient.
func NewOllamaClient(cfg Config, logger *slog.Logger) *OllamaClient {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	return &OllamaClient{
		cfg: cfg,
		http: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
			},
		},
		logger: logger,
	}
}

type generateRequest struct {
	Model   string          `json:"model"`
	System  string          `json:"system,omitempty"`
	Prompt  string          `json:"prompt"`
	Images  []string        `json:"images"`
	Stream  bool            `json:"stream"`
	Format  string          `json:"format,omitempty"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type generateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
}

// Extract sends the image and instruction and parses the reply.
func (c *OllamaClient) Extract(ctx context.Context, image []byte, instruction string) (*Extraction, error) {
	if _, err := MediaType(image); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	body := generateRequest{
		Model:   c.cfg.Model,
		System:  extractionPrompt,
		Prompt:  "Operator request: " + instruction,
		Images:  []string{base64.StdEncoding.EncodeToString(image)},
		Format:  "json",
		Options: generateOptions{Temperature: 0.1, NumPredict: 400},
	}

	start := time.Now()
	var lastErr error
	attempts := 1 + c.cfg.MaxRetries
	for i := 0; i < attempts; i++ {
		resp, err := c.do(ctx, body)
		if err == nil {
			ext, perr := ParseExtraction(resp.Response)
			if perr == nil {
				c.logger.Info("Vision extraction complete",
					"model", resp.Model,
					"entity", ext.EntityName,
					"confidence", ext.Confidence,
					"latency_ms", time.Since(start).Milliseconds())
				return ext, nil
			}
			err = perr
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}

	switch {
	case ctx.Err() != nil:
		return nil, ErrTimeout
	case isConnectionError(lastErr):
		return nil, ErrUnavailable
	case errors.Is(lastErr, ErrInvalidOutput):
		return nil, lastErr
	default:
		return nil, fmt.Errorf("%w: %v", ErrRetryExhausted, lastErr)
	}
}

func (c *OllamaClient) do(ctx context.Context, body generateRequest) (*generateResponse, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+"/api/generate", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vision endpoint returned status %d: %s", resp.StatusCode, string(raw))
	}

	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &out, nil
}

// Available reports whether the endpoint answers.
func (c *OllamaClient) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoint+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func isConnectionError(err error) bool {
	var opErr *net.OpError
	return err != nil && errors.As(err, &opErr)
}
