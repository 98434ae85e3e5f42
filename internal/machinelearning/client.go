package machinelearning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"media-pipeline/internal/logging"
	"media-pipeline/internal/metrics"
)

const (
	defaultHTTPTimeout = 2 * time.Minute
	maxErrorBody       = 512
)

// ErrNoURL is returned when machine learning is enabled without a service URL.
var ErrNoURL = errors.New("machine learning url is not configured")

// ModelConfig selects the model and score threshold of a request.
type ModelConfig struct {
	ModelName string
	MinScore  float64
}

// BoundingBox is a face rectangle in pixels of the analyzed image.
type BoundingBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// DetectedFace is one face found by the recognition model.
type DetectedFace struct {
	ImageWidth  int         `json:"imageWidth"`
	ImageHeight int         `json:"imageHeight"`
	BoundingBox BoundingBox `json:"boundingBox"`
	Score       float64     `json:"score"`
	Embedding   []float32   `json:"embedding"`
}

// Client talks to the machine learning service. The base URL is passed per
// call so configuration changes apply without rebuilding the client.
type Client struct {
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient constructs a client.
func NewClient(opts ...Option) *Client {
	c := &Client{httpClient: &http.Client{Timeout: defaultHTTPTimeout}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type imageRequest struct {
	ImagePath string  `json:"imagePath"`
	ModelName string  `json:"modelName"`
	MinScore  float64 `json:"minScore,omitempty"`
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("machine learning request: http %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// ClassifyImage returns the tags recognized in the image.
func (c *Client) ClassifyImage(ctx context.Context, baseURL, imagePath string, model ModelConfig) ([]string, error) {
	var tags []string
	err := c.post(ctx, "classify", baseURL, "/image-classifier/tag-image", imageRequest{
		ImagePath: imagePath,
		ModelName: model.ModelName,
		MinScore:  model.MinScore,
	}, &tags)
	return tags, err
}

// EncodeImage returns the CLIP embedding of the image.
func (c *Client) EncodeImage(ctx context.Context, baseURL, imagePath string, model ModelConfig) ([]float32, error) {
	var embedding []float32
	err := c.post(ctx, "clip", baseURL, "/sentence-transformer/encode-image", imageRequest{
		ImagePath: imagePath,
		ModelName: model.ModelName,
	}, &embedding)
	return embedding, err
}

// DetectFaces returns the faces found in the image.
func (c *Client) DetectFaces(ctx context.Context, baseURL, imagePath string, model ModelConfig) ([]DetectedFace, error) {
	var faces []DetectedFace
	err := c.post(ctx, "faces", baseURL, "/facial-recognition/detect-faces", imageRequest{
		ImagePath: imagePath,
		ModelName: model.ModelName,
		MinScore:  model.MinScore,
	}, &faces)
	return faces, err
}

func (c *Client) post(ctx context.Context, task, baseURL, path string, payload, out any) (err error) {
	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		metrics.MLRequestsTotal.WithLabelValues(task, status).Inc()
		metrics.MLRequestDuration.WithLabelValues(task).Observe(time.Since(start).Seconds())
	}()

	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return ErrNoURL
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", task, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", task, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", task, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logging.Debug("failed to close ML response body: %v", err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(snippet)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", task, err)
	}
	return nil
}
