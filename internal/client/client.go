// Package client provides an HTTP client for communicating with the
// xformer monitor.
//
// This package implements the client side of the monitor API, enabling
// CLI tools and other applications to query a monitor over HTTP. It
// provides:
//   - High-level methods for all API operations
//   - Automatic request/response serialization
//   - Error handling and status code processing
//   - Log streaming with a per-chunk callback
//
// The client handles all HTTP communication details, allowing callers
// to work with native Go types rather than raw HTTP requests and
// responses.
//
// Example usage:
//
//	c := client.NewClient("http://localhost:11633")
//	jobs, err := c.ListJobs()
//	if err != nil {
//	    log.Fatalf("Failed to list jobs: %v", err)
//	}
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/zhenhua32/mindformers/internal/api"
)

// Client is the HTTP client for communicating with the xformer monitor.
//
// The Client provides a high-level interface for all monitor API
// operations. It manages HTTP connections, request serialization,
// response parsing, and error handling. All methods are thread-safe and
// can be called concurrently.
type Client struct {
	// baseURL is the base URL of the monitor.
	// Format: "http://host:port" (e.g., "http://localhost:11633")
	baseURL string

	// httpClient is the underlying HTTP client used for requests.
	httpClient *http.Client
}

// NewClient creates a new client instance configured to communicate
// with a specific monitor.
//
// No request timeout is set because log following keeps a response
// open for as long as the caller wants to watch.
//
// Parameters:
//   - baseURL: The base URL of the monitor (e.g., "http://localhost:11633")
//
// Returns:
//   - A pointer to a configured Client ready for use.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 0, // No timeout so log streaming can run indefinitely
		},
	}
}

// Health checks the monitor's health status.
//
// This method is commonly used before other operations to produce a
// clear "monitor is not running" message instead of a connection error
// deep inside another command.
//
// Returns:
//   - A pointer to HealthResponse with status information
//   - An error if the request fails or the monitor is unreachable
func (c *Client) Health() (*api.HealthResponse, error) {
	var resp api.HealthResponse
	if err := c.doRequest(http.MethodGet, "/api/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Version retrieves version and build information from the monitor.
//
// Returns:
//   - A pointer to VersionResponse with monitor version details
//   - An error if the request fails
func (c *Client) Version() (*api.VersionResponse, error) {
	var resp api.VersionResponse
	if err := c.doRequest(http.MethodGet, "/api/version", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListJobs retrieves all tracked jobs, newest first.
//
// Returns:
//   - A slice of job summaries
//   - An error if the request fails
func (c *Client) ListJobs() ([]api.JobSummary, error) {
	var resp api.ListJobsResponse
	if err := c.doRequest(http.MethodGet, "/api/jobs", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// GetJob retrieves one job by id, unique id prefix, or unique name.
//
// Parameters:
//   - ref: Job reference as accepted by the CLI
//
// Returns:
//   - The matching job summary
//   - An error if no job matches or the request fails
func (c *Client) GetJob(ref string) (*api.JobSummary, error) {
	var resp api.JobSummary
	if err := c.doRequest(http.MethodGet, "/api/jobs/"+url.PathEscape(ref), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StopJob asks the monitor to stop a running job.
//
// Parameters:
//   - ref: Job reference
//   - timeoutSeconds: SIGTERM-to-SIGKILL grace, zero for the monitor default
//
// Returns:
//   - The job state after the stop completed
//   - An error if the request fails
func (c *Client) StopJob(ref string, timeoutSeconds int) (string, error) {
	req := api.StopJobRequest{TimeoutSeconds: timeoutSeconds}
	var resp api.StopJobResponse
	if err := c.doRequest(http.MethodPost, "/api/jobs/"+url.PathEscape(ref)+"/stop", req, &resp); err != nil {
		return "", err
	}
	return resp.State, nil
}

// RemoveJob deletes a job record and its logs.
//
// Parameters:
//   - ref: Job reference
//   - force: Remove even if the record says running
//
// Returns:
//   - An error if the request fails
func (c *Client) RemoveJob(ref string, force bool) error {
	path := "/api/jobs/" + url.PathEscape(ref)
	if force {
		path += "?force=true"
	}
	return c.doRequest(http.MethodDelete, path, nil, nil)
}

// StreamJobLogs reads a job's logs, invoking the callback for each
// chunk as it arrives.
//
// Parameters:
//   - ref: Job reference
//   - rank: Global rank whose log to read, negative for the default
//   - follow: Keep streaming appended output until the job ends
//   - tail: Only the last N lines, zero for the whole log
//   - logCallback: Function called for each received chunk
//
// Returns:
//   - An error if the request fails or the stream is interrupted
func (c *Client) StreamJobLogs(ref string, rank int, follow bool, tail int, logCallback func(string)) error {
	q := url.Values{}
	if rank >= 0 {
		q.Set("rank", strconv.Itoa(rank))
	}
	if follow {
		q.Set("follow", "true")
	}
	if tail > 0 {
		q.Set("tail", strconv.Itoa(tail))
	}
	path := fmt.Sprintf("%s/api/jobs/%s/logs", c.baseURL, url.PathEscape(ref))
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	req, err := http.NewRequest(http.MethodGet, path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("cannot connect to xformer monitor at %s", c.baseURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respData, _ := io.ReadAll(resp.Body)
		var errResp api.ErrorResponse
		if err := json.Unmarshal(respData, &errResp); err == nil && errResp.Error != "" {
			return fmt.Errorf("failed to read logs: %s", errResp.Error)
		}
		return fmt.Errorf("failed to read logs: status %d", resp.StatusCode)
	}

	// Stream with a small buffer for low latency output.
	buf := make([]byte, 256)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if logCallback != nil {
				logCallback(string(buf[:n]))
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("error reading log stream: %w", err)
		}
	}
}

// ListDevices retrieves the NPU inventory of the monitor's host.
//
// Returns:
//   - A slice of device information including busy state
//   - An error if the request fails
func (c *Client) ListDevices() ([]api.DeviceInfo, error) {
	var resp api.DeviceListResponse
	if err := c.doRequest(http.MethodGet, "/api/devices", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Devices, nil
}

// ListModels retrieves the trainable model cards known to the monitor.
//
// Returns:
//   - A slice of model information, sorted by name
//   - An error if the request fails
func (c *Client) ListModels() ([]api.ModelInfo, error) {
	var resp api.ListModelsResponse
	if err := c.doRequest(http.MethodGet, "/api/models", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Models, nil
}

// System retrieves host facts and the monitor identity.
//
// Returns:
//   - A pointer to SystemResponse
//   - An error if the request fails
func (c *Client) System() (*api.SystemResponse, error) {
	var resp api.SystemResponse
	if err := c.doRequest(http.MethodGet, "/api/system", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// doRequest performs an HTTP request to the monitor.
//
// This is an internal helper method that handles the low-level details
// of HTTP communication including:
//   - Request serialization to JSON
//   - HTTP request creation and execution
//   - Response parsing and error handling
//   - Status code validation
//
// Parameters:
//   - method: HTTP method (GET, POST, DELETE)
//   - path: API endpoint path (e.g., "/api/jobs")
//   - reqBody: Request body to serialize (nil for no body)
//   - respBody: Pointer to struct for response deserialization (nil to ignore)
//
// Returns:
//   - nil if the request succeeds
//   - error if the request fails or the monitor returns an error
func (c *Client) doRequest(method, path string, reqBody, respBody interface{}) error {
	fullURL := c.baseURL + path

	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, fullURL, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("cannot connect to xformer monitor at %s\n\nIs the monitor running? Start it with: xformer serve", c.baseURL)
	}
	defer resp.Body.Close()

	respData, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp api.ErrorResponse
		if err := json.Unmarshal(respData, &errResp); err == nil && errResp.Error != "" {
			return fmt.Errorf("monitor error: %s", errResp.Error)
		}
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(respData))
	}

	if respBody != nil && len(respData) > 0 {
		if err := json.Unmarshal(respData, respBody); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return nil
}
