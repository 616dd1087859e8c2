package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/models"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/template"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/topology"
)

const DefaultRequestTimeout = 10 * time.Second

var (
	ErrNotAPINode       = errors.New("node is not an api node")
	ErrUnexpectedStatus = errors.New("unexpected response status")
	ErrNoBaseURL        = errors.New("api base url not configured")
)

// APIFetcher performs the HTTP request described by an api node and publishes the decoded
// response as the node's value.
type APIFetcher struct {
	logger  *slog.Logger
	client  *http.Client
	baseURL string
	nodes   NodeLookup
	sink    ValueSink
}

func NewAPIFetcher(logger *slog.Logger, baseURL string, nodes NodeLookup, sink ValueSink) *APIFetcher {
	return &APIFetcher{
		logger:  logger.With("module", "api_fetcher"),
		client:  &http.Client{Timeout: DefaultRequestTimeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		nodes:   nodes,
		sink:    sink,
	}
}

// WithClient replaces the HTTP client.
func (f *APIFetcher) WithClient(client *http.Client) *APIFetcher {
	f.client = client

	return f
}

// Refresh fetches an api node and publishes the response.
func (f *APIFetcher) Refresh(ctx context.Context, nodeID string) (any, error) {
	node, ok := f.nodes.Node(nodeID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", topology.ErrNodeNotFound, nodeID)
	}

	data, ok := node.Data.(models.APIData)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotAPINode, nodeID)
	}

	data, err := expandRequest(nodeID, data)
	if err != nil {
		return nil, err
	}

	value, err := f.Fetch(ctx, data)
	if err != nil {
		f.logger.WarnContext(ctx, "API request failed", "node_id", nodeID, "path", data.Path, "error", err)

		return nil, err
	}

	if err := f.sink.SetNodeValue(ctx, nodeID, value); err != nil {
		return nil, fmt.Errorf("failed to publish response of %s: %w", nodeID, err)
	}

	return value, nil
}

// expandRequest renders template actions in the path and body of an api node.
func expandRequest(nodeID string, data models.APIData) (models.APIData, error) {
	if !template.NeedsTemplating(data.Path) && !template.NeedsTemplating(data.Body) {
		return data, nil
	}

	vars := template.RequestData(nodeID)

	path, err := template.Expand(data.Path, vars)
	if err != nil {
		return data, fmt.Errorf("api node %s: %w", nodeID, err)
	}

	body, err := template.Expand(data.Body, vars)
	if err != nil {
		return data, fmt.Errorf("api node %s: %w", nodeID, err)
	}

	data.Path, data.Body = path, body

	return data, nil
}

// Fetch performs the request and decodes the JSON response body.
func (f *APIFetcher) Fetch(ctx context.Context, data models.APIData) (any, error) {
	if f.baseURL == "" && !strings.Contains(data.Path, "://") {
		return nil, ErrNoBaseURL
	}

	method := strings.ToUpper(data.Method)
	if method == "" {
		method = http.MethodGet
	}

	url := data.Path
	if !strings.Contains(url, "://") {
		url = f.baseURL + "/" + strings.TrimLeft(data.Path, "/")
	}

	var body io.Reader
	if data.Body != "" {
		body = bytes.NewBufferString(data.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %d %s", ErrUnexpectedStatus, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		f.logger.WarnContext(ctx, "Failed to parse response as JSON, using it as string", "url", url, "error", err)

		return string(raw), nil
	}

	f.logger.DebugContext(ctx, "API request completed", "method", method, "url", url, "status", resp.StatusCode, "bytes", len(raw))

	return value, nil
}
