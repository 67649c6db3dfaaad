// Package processor implements the remote extraction call: the transcript
// is posted to the extraction service, which answers with the counts of
// derived tasks and notes.
package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ngandimoun/voicejobs/models"
	"github.com/ngandimoun/voicejobs/worker"
)

var _ worker.Processor = (*Client)(nil)

// DefaultTimeout bounds a single extraction call. The orchestrator imposes
// no additional deadline; it waits for this call to settle.
const DefaultTimeout = 60 * time.Second

// Client calls the extraction service over HTTP. The service must tolerate
// repeated calls for the same payload; the pipeline may deliver duplicates.
type Client struct {
	url    string
	client *http.Client
}

// NewClient creates a processor client for the given endpoint.
func NewClient(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type response struct {
	TaskCount int    `json:"task_count"`
	NoteCount int    `json:"note_count"`
	Error     string `json:"error,omitempty"`
}

// Process posts the payload and decodes the extraction result.
func (c *Client) Process(ctx context.Context, payload models.JobPayload) (models.JobResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return models.JobResult{}, fmt.Errorf("processor: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return models.JobResult{}, fmt.Errorf("processor: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return models.JobResult{}, fmt.Errorf("processor: call extraction service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.JobResult{}, fmt.Errorf("processor: extraction service returned status %d", resp.StatusCode)
	}

	var r response
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return models.JobResult{}, fmt.Errorf("processor: decode response: %w", err)
	}
	if r.Error != "" {
		return models.JobResult{}, errors.New(r.Error)
	}

	return models.JobResult{TaskCount: r.TaskCount, NoteCount: r.NoteCount}, nil
}
