package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rendis/flowgraph/pkg/schema"
)

const (
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultHTTPTimeout     = 30 * time.Second
	httpRetryBaseDelay     = 250 * time.Millisecond
	httpRetryMaxDelay      = 5 * time.Second
)

// HTTPExecutor performs an HTTP request described by the node data:
// method, url, headers, body, auth, timeout.
type HTTPExecutor struct {
	client          *http.Client
	maxResponseBody int64
}

// NewHTTPExecutor creates the executor. A nil client gets a default with a
// 30s timeout.
func NewHTTPExecutor(client *http.Client) *HTTPExecutor {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &HTTPExecutor{client: client, maxResponseBody: defaultMaxResponseBody}
}

func (e *HTTPExecutor) Type() string { return schema.NodeTypeHTTP }

func (e *HTTPExecutor) Execute(ctx context.Context, ec *ExecutionContext, node *schema.Node, input any) (*Result, error) {
	rawURL := node.String("url", "")
	if rawURL == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "http node requires url").WithNode(node.ID)
	}
	if u, err := url.ParseRequestURI(rawURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid url %q", rawURL).WithNode(node.ID)
	}

	method := strings.ToUpper(node.String("method", "GET"))

	reqCtx := ctx
	if ts := node.String("timeout", ""); ts != "" {
		if d, err := time.ParseDuration(ts); err == nil && d > 0 {
			var cancel context.CancelFunc
			reqCtx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
	}

	retries := node.Int("retries", 0)
	if retries < 0 {
		retries = 0
	}

	var resp *http.Response
	var durationMs int64
	for attempt := 0; ; attempt++ {
		bodyReader, contentType, err := buildRequestBody(node, input, method)
		if err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(reqCtx, method, rawURL, bodyReader)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeExecutor, "build request: %s", err.Error()).
				WithNode(node.ID).WithCause(err)
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		if hdrs, ok := node.Data["headers"].(map[string]any); ok {
			for k, v := range hdrs {
				req.Header.Set(k, fmt.Sprintf("%v", v))
			}
		}

		applyAuth(req, node)

		start := time.Now()
		resp, err = e.client.Do(req)
		durationMs = time.Since(start).Milliseconds()
		if err == nil {
			break
		}
		if attempt >= retries || !IsRetryable(err) {
			return nil, schema.NewErrorf(schema.ErrCodeExecutor, "http request failed: %s", err.Error()).
				WithNode(node.ID).WithCause(err)
		}
		if werr := WaitForBackoff(reqCtx, ComputeBackoff(httpRetryBaseDelay, attempt, httpRetryMaxDelay)); werr != nil {
			return nil, schema.NewError(schema.ErrCodeCancelled, "http node cancelled").WithNode(node.ID).WithCause(werr)
		}
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, e.maxResponseBody))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecutor, "read response body: %s", err.Error()).
			WithNode(node.ID).WithCause(err)
	}

	respContentType := resp.Header.Get("Content-Type")
	var parsedBody any
	switch {
	case len(bodyBytes) == 0:
		parsedBody = nil
	case strings.Contains(respContentType, "application/json"):
		var jsonBody any
		if jsonErr := json.Unmarshal(bodyBytes, &jsonBody); jsonErr == nil {
			parsedBody = jsonBody
		} else {
			parsedBody = string(bodyBytes)
		}
	default:
		parsedBody = string(bodyBytes)
	}

	respHeaders := make(map[string]any, len(resp.Header))
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}

	value := map[string]any{
		"status_code":  resp.StatusCode,
		"status":       resp.Status,
		"headers":      respHeaders,
		"body":         parsedBody,
		"content_type": respContentType,
		"duration_ms":  durationMs,
	}

	if resp.StatusCode >= 400 {
		return nil, schema.NewErrorf(schema.ErrCodeExecutor, "server returned %d", resp.StatusCode).
			WithNode(node.ID).WithDetails(value)
	}

	return &Result{Value: value}, nil
}

// buildRequestBody encodes the body from node data, falling back to the
// incoming value for write methods.
func buildRequestBody(node *schema.Node, input any, method string) (io.Reader, string, error) {
	rawBody, ok := node.Data["body"]
	if !ok || rawBody == nil {
		if method == http.MethodGet || method == http.MethodHead || input == nil {
			return nil, "", nil
		}
		rawBody = input
	}

	switch node.String("bodyEncoding", "json") {
	case "form":
		formData, ok := rawBody.(map[string]any)
		if !ok {
			return nil, "", schema.NewError(schema.ErrCodeValidation, "form body must be an object").WithNode(node.ID)
		}
		vals := url.Values{}
		for k, v := range formData {
			vals.Set(k, fmt.Sprintf("%v", v))
		}
		return strings.NewReader(vals.Encode()), "application/x-www-form-urlencoded", nil
	case "text":
		return strings.NewReader(fmt.Sprintf("%v", rawBody)), "text/plain", nil
	default: // json
		b, err := json.Marshal(rawBody)
		if err != nil {
			return nil, "", schema.NewErrorf(schema.ErrCodeExecutor, "marshal body: %s", err.Error()).
				WithNode(node.ID).WithCause(err)
		}
		return strings.NewReader(string(b)), "application/json", nil
	}
}

// applyAuth sets request auth from the node's "auth" object.
func applyAuth(req *http.Request, node *schema.Node) {
	auth, ok := node.Data["auth"].(map[string]any)
	if !ok {
		return
	}
	authType, _ := auth["type"].(string)
	switch authType {
	case "bearer":
		if token, ok := auth["token"].(string); ok {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	case "basic":
		username, _ := auth["username"].(string)
		password, _ := auth["password"].(string)
		req.SetBasicAuth(username, password)
	case "api_key":
		name, _ := auth["header_name"].(string)
		value, _ := auth["header_value"].(string)
		if name != "" {
			req.Header.Set(name, value)
		}
	}
}
