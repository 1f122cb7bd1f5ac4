// Package client is the HTTP client for the ingestion API. It drives the
// chunked upload and implements pump.Stepper so a CLI can pump jobs
// remotely.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/assetingest/internal/domain"
	"github.com/timmy/assetingest/internal/logger"
)

const (
	defaultPartSize    = 8 << 20
	defaultConcurrency = 4
	defaultPartRetries = 3
	defaultTimeout     = 5 * time.Minute
)

// Config holds client settings.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	PartSize    int64
	Concurrency int
	// PartRetries is how often one part is re-sent after a transport
	// error or 5xx.
	PartRetries int
	RetryWait   time.Duration
}

// Client talks to one ingestion server.
type Client struct {
	http        *resty.Client
	logger      *logger.Logger
	partSize    int64
	concurrency int
	partRetries int
	retryWait   time.Duration
}

// New creates a client. Zero config fields take defaults.
func New(cfg Config, log *logger.Logger) *Client {
	if log == nil {
		log = logger.GetDefault()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	httpClient := resty.New()
	httpClient.SetBaseURL(cfg.BaseURL)
	httpClient.SetTimeout(timeout)
	httpClient.SetHeader("Accept", "application/json")

	c := &Client{
		http:        httpClient,
		logger:      log.WithField(logger.FieldComponent, "client"),
		partSize:    cfg.PartSize,
		concurrency: cfg.Concurrency,
		partRetries: cfg.PartRetries,
		retryWait:   cfg.RetryWait,
	}
	if c.partSize <= 0 {
		c.partSize = defaultPartSize
	}
	if c.concurrency <= 0 {
		c.concurrency = defaultConcurrency
	}
	switch {
	case cfg.PartRetries < 0:
		c.partRetries = 0
	case cfg.PartRetries == 0:
		c.partRetries = defaultPartRetries
	}
	if c.retryWait <= 0 {
		c.retryWait = 500 * time.Millisecond
	}
	return c
}

// do sends req and turns non-2xx responses into errors.
func (c *Client) do(req *resty.Request, method, path string) error {
	resp, err := req.SetError(&apiError{}).Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		return responseError(resp)
	}
	return nil
}

func (c *Client) r(ctx context.Context) *resty.Request {
	return c.http.R().SetContext(ctx)
}

// Init opens an upload session.
func (c *Client) Init(ctx context.Context, filename string, sizeBytes int64) (*domain.UploadInit, error) {
	var out domain.UploadInit
	req := c.r(ctx).
		SetBody(map[string]interface{}{"filename": filename, "size_bytes": sizeBytes}).
		SetResult(&out)
	if err := c.do(req, http.MethodPost, "/api/upload/init"); err != nil {
		return nil, err
	}
	return &out, nil
}

// Chunk sends one part.
func (c *Client) Chunk(ctx context.Context, uploadID, datasetID string, partNumber int, body io.Reader) (*domain.ChunkAck, error) {
	var out domain.ChunkAck
	req := c.r(ctx).
		SetFormData(map[string]string{
			"upload_id":   uploadID,
			"dataset_id":  datasetID,
			"part_number": strconv.Itoa(partNumber),
		}).
		SetFileReader("chunk", fmt.Sprintf("part_%06d.bin", partNumber), body).
		SetResult(&out)
	if err := c.do(req, http.MethodPost, "/api/upload/chunk"); err != nil {
		return nil, err
	}
	return &out, nil
}

// Finalize assembles the uploaded parts.
func (c *Client) Finalize(ctx context.Context, uploadID, datasetID, filename string) (*domain.FinalizeResult, error) {
	var out domain.FinalizeResult
	req := c.r(ctx).
		SetBody(map[string]string{"upload_id": uploadID, "dataset_id": datasetID, "filename": filename}).
		SetResult(&out)
	if err := c.do(req, http.MethodPost, "/api/upload/finalize"); err != nil {
		return nil, err
	}
	return &out, nil
}

// List returns datasets, newest first. A non-empty status filters them.
func (c *Client) List(ctx context.Context, status string) ([]domain.Dataset, error) {
	var out struct {
		Datasets []domain.Dataset `json:"datasets"`
	}
	req := c.r(ctx).SetResult(&out)
	if status != "" {
		req.SetQueryParam("status", status)
	}
	if err := c.do(req, http.MethodGet, "/api/datasets"); err != nil {
		return nil, err
	}
	return out.Datasets, nil
}

// Get returns one dataset.
func (c *Client) Get(ctx context.Context, datasetID string) (*domain.Dataset, error) {
	var out domain.Dataset
	if err := c.do(c.r(ctx).SetResult(&out), http.MethodGet, datasetPath(datasetID, "")); err != nil {
		return nil, err
	}
	return &out, nil
}

// Detect returns the mapping guess for the raw file.
func (c *Client) Detect(ctx context.Context, datasetID string) (*domain.DetectView, error) {
	var out domain.DetectView
	if err := c.do(c.r(ctx).SetResult(&out), http.MethodGet, datasetPath(datasetID, "/detect")); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status returns the dataset and its job.
func (c *Client) Status(ctx context.Context, datasetID string) (*domain.StatusView, error) {
	var out domain.StatusView
	if err := c.do(c.r(ctx).SetResult(&out), http.MethodGet, datasetPath(datasetID, "/status")); err != nil {
		return nil, err
	}
	return &out, nil
}

// Start begins ingestion with mapping.
func (c *Client) Start(ctx context.Context, datasetID string, mapping domain.Mapping) (*domain.IngestJob, error) {
	var out domain.IngestJob
	req := c.r(ctx).SetBody(map[string]interface{}{"mapping": mapping}).SetResult(&out)
	if err := c.do(req, http.MethodPost, datasetPath(datasetID, "/ingest")); err != nil {
		return nil, err
	}
	return &out, nil
}

// Step runs one bounded ingest step. chunkRows <= 0 uses the server default.
func (c *Client) Step(ctx context.Context, datasetID string, chunkRows int) (*domain.StepResult, error) {
	var out domain.StepResult
	req := c.r(ctx).SetResult(&out)
	if chunkRows > 0 {
		req.SetQueryParam("chunk_rows", strconv.Itoa(chunkRows))
	}
	if err := c.do(req, http.MethodPost, datasetPath(datasetID, "/ingest-step")); err != nil {
		return nil, err
	}
	return &out, nil
}

// Cancel requests a cooperative stop.
func (c *Client) Cancel(ctx context.Context, datasetID string) (*domain.IngestJob, error) {
	return c.jobCall(ctx, datasetID, "/cancel")
}

// Retry resumes a failed or cancelled job.
func (c *Client) Retry(ctx context.Context, datasetID string) (*domain.IngestJob, error) {
	return c.jobCall(ctx, datasetID, "/retry")
}

func (c *Client) jobCall(ctx context.Context, datasetID, suffix string) (*domain.IngestJob, error) {
	var out domain.IngestJob
	if err := c.do(c.r(ctx).SetResult(&out), http.MethodPost, datasetPath(datasetID, suffix)); err != nil {
		return nil, err
	}
	return &out, nil
}

// Rename changes the display name.
func (c *Client) Rename(ctx context.Context, datasetID, name string) (*domain.Dataset, error) {
	var out domain.Dataset
	req := c.r(ctx).SetBody(map[string]string{"name": name}).SetResult(&out)
	if err := c.do(req, http.MethodPost, datasetPath(datasetID, "/rename")); err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete hard-deletes a dataset.
func (c *Client) Delete(ctx context.Context, datasetID string) error {
	return c.do(c.r(ctx), http.MethodDelete, datasetPath(datasetID, "/hard-delete"))
}

// Facts returns up to limit materialized rows.
func (c *Client) Facts(ctx context.Context, datasetID string, limit int) ([]domain.Fact, error) {
	var out struct {
		Facts []domain.Fact `json:"facts"`
	}
	req := c.r(ctx).SetQueryParam("limit", strconv.Itoa(limit)).SetResult(&out)
	if err := c.do(req, http.MethodGet, datasetPath(datasetID, "/facts")); err != nil {
		return nil, err
	}
	return out.Facts, nil
}

// Download streams the original file into w.
func (c *Client) Download(ctx context.Context, datasetID string, w io.Writer) (int64, error) {
	path := datasetPath(datasetID, "/original")
	resp, err := c.r(ctx).SetDoNotParseResponse(true).Get(path)
	if err != nil {
		return 0, fmt.Errorf("GET %s: %w", path, err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.IsError() {
		var apiErr apiError
		_ = json.NewDecoder(io.LimitReader(body, 64<<10)).Decode(&apiErr)
		return 0, &Error{StatusCode: resp.StatusCode(), Code: apiErr.Code, Message: apiErr.Error}
	}
	n, err := io.Copy(w, body)
	if err != nil {
		return n, fmt.Errorf("failed to read download: %w", err)
	}
	return n, nil
}

func datasetPath(datasetID, suffix string) string {
	return "/api/datasets/" + url.PathEscape(datasetID) + suffix
}
