package directus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Error codes synthesized by the client itself; upstream-supplied codes are
// passed through verbatim.
const (
	CodeInvalidURL    = "INVALID_URL"
	CodeTimeout       = "TIMEOUT"
	CodeRequestFailed = "REQUEST_FAILED"
	CodeParseError    = "PARSE_ERROR"
)

// DefaultRequestTimeout bounds every upstream call unless configured otherwise.
const DefaultRequestTimeout = 30 * time.Second

// loginPathFragment marks the credential-exchange endpoint, which is always
// called unauthenticated regardless of any previously attached token.
const loginPathFragment = "/auth/login"

var (
	// ErrEmptyBaseURL indicates that no upstream base URL was configured.
	ErrEmptyBaseURL = errors.New("directus.client.empty_base_url")
	// ErrInvalidBaseURL indicates the configured base URL could not be parsed.
	ErrInvalidBaseURL = errors.New("directus.client.invalid_base_url")
	// ErrEmptyPath indicates a fire-and-forget post was issued with an empty path.
	ErrEmptyPath = errors.New("directus.client.empty_path")
)

// TokenSource supplies the bearer token stored for the current visitor
// session. An empty string means no token is available.
type TokenSource interface {
	AccessToken(ctx context.Context) string
}

// Config configures the upstream base URL and the per-request deadline.
type Config struct {
	BaseURL        string
	RequestTimeout time.Duration
}

// Client issues HTTP calls against the CMS API, attaching bearer credentials
// on demand from its TokenSource and normalizing every response into an
// Envelope. One instance serves one inbound request; the bearer state is
// never shared across requests.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	timeout    time.Duration
	tokens     TokenSource
	logger     *zap.Logger

	mutex       sync.Mutex
	bearerToken string
}

// NewClient constructs a request-scoped client. The transport may be shared
// across clients; the token source is typically the credential store bound to
// the inbound request's session.
func NewClient(configuration Config, transport *http.Client, tokens TokenSource, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	trimmedBaseURL := strings.TrimSpace(configuration.BaseURL)
	if trimmedBaseURL == "" {
		return nil, ErrEmptyBaseURL
	}
	parsedBase, parseErr := url.Parse(trimmedBaseURL)
	if parseErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBaseURL, parseErr)
	}
	if parsedBase.Scheme == "" || parsedBase.Host == "" {
		return nil, fmt.Errorf("%w: %s", ErrInvalidBaseURL, trimmedBaseURL)
	}
	// Relative API paths must resolve under the base path, not replace it.
	if !strings.HasSuffix(parsedBase.Path, "/") {
		parsedBase.Path += "/"
	}
	if transport == nil {
		transport = &http.Client{}
	}
	timeout := configuration.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Client{
		httpClient: transport,
		baseURL:    parsedBase,
		timeout:    timeout,
		tokens:     tokens,
		logger:     logger,
	}, nil
}

// AttachToken sets the bearer credential for subsequent calls on this client
// instance. Attaching an empty token is a logged no-op.
func (client *Client) AttachToken(token string) {
	if strings.TrimSpace(token) == "" {
		client.logger.Warn("attempted to attach empty token",
			zap.String("code", "directus.client.empty_token"))
		return
	}
	client.mutex.Lock()
	client.bearerToken = token
	client.mutex.Unlock()
}

// RemoveToken clears the bearer credential.
func (client *Client) RemoveToken() {
	client.mutex.Lock()
	client.bearerToken = ""
	client.mutex.Unlock()
}

// Get issues an authenticated GET and normalizes the response.
func Get[T any](ctx context.Context, client *Client, path string) Envelope[T] {
	return call[T](ctx, client, http.MethodGet, path, false, nil, true)
}

// GetWithoutAuth issues one GET with no bearer credential. Any token attached
// to the client stays in place for later calls.
func GetWithoutAuth[T any](ctx context.Context, client *Client, path string) Envelope[T] {
	return call[T](ctx, client, http.MethodGet, path, false, nil, false)
}

// Post issues an authenticated POST with a JSON body. A path matching the
// credential-exchange endpoint is always sent unauthenticated.
func Post[T any](ctx context.Context, client *Client, path string, body any) Envelope[T] {
	return call[T](ctx, client, http.MethodPost, path, true, body, true)
}

// Patch issues an authenticated PATCH with a JSON body.
func Patch[T any](ctx context.Context, client *Client, path string, body any) Envelope[T] {
	return call[T](ctx, client, http.MethodPatch, path, true, body, true)
}

// Put issues an authenticated PUT with a JSON body.
func Put[T any](ctx context.Context, client *Client, path string, body any) Envelope[T] {
	return call[T](ctx, client, http.MethodPut, path, true, body, true)
}

// Delete issues an authenticated DELETE and normalizes the response.
func Delete[T any](ctx context.Context, client *Client, path string) Envelope[T] {
	return call[T](ctx, client, http.MethodDelete, path, false, nil, true)
}

// PostNoContent posts fire-and-forget. Unlike the envelope operations it
// surfaces every failure as an error; callers must wrap it themselves.
func PostNoContent(ctx context.Context, client *Client, path string, body any) error {
	if strings.TrimSpace(path) == "" {
		client.logger.Error("fire-and-forget post issued with empty path",
			zap.String("code", "directus.client.invalid_url"))
		return ErrEmptyPath
	}
	requestURL, resolveErr := client.resolveURL(path)
	if resolveErr != nil {
		return fmt.Errorf("directus.client.post: %w", resolveErr)
	}
	encodedBody, encodeErr := json.Marshal(body)
	if encodeErr != nil {
		return fmt.Errorf("directus.client.post.encode: %w", encodeErr)
	}

	callCtx, cancel := context.WithTimeout(ctx, client.timeout)
	defer cancel()

	request, requestErr := http.NewRequestWithContext(callCtx, http.MethodPost, requestURL, bytes.NewReader(encodedBody))
	if requestErr != nil {
		return fmt.Errorf("directus.client.post: %w", requestErr)
	}
	request.Header.Set("Accept", "application/json")
	request.Header.Set("Content-Type", "application/json")
	if token := client.resolveToken(ctx, path, true); token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}

	response, doErr := client.httpClient.Do(request)
	if doErr != nil {
		return fmt.Errorf("directus.client.post: %w", doErr)
	}
	defer func() { _ = response.Body.Close() }()

	if response.StatusCode < http.StatusOK || response.StatusCode > 299 {
		bodyBytes, _ := io.ReadAll(response.Body)
		client.logger.Error("fire-and-forget post failed",
			zap.String("code", "directus.client.post_failed"),
			zap.String("path", path),
			zap.Int("status", response.StatusCode))
		return fmt.Errorf("directus.client.post: request failed with status code %d: %s", response.StatusCode, string(bodyBytes))
	}
	return nil
}

func (client *Client) resolveURL(path string) (string, error) {
	parsedPath, parseErr := url.Parse(strings.TrimPrefix(path, "/"))
	if parseErr != nil {
		return "", fmt.Errorf("parse path %q: %w", path, parseErr)
	}
	return client.baseURL.ResolveReference(parsedPath).String(), nil
}

// resolveToken decides which bearer token, if any, the outgoing call carries.
// The credential-exchange path strips any attached token; every other
// authenticated path attaches one on demand from the token source.
func (client *Client) resolveToken(ctx context.Context, path string, withAuth bool) string {
	if !withAuth {
		return ""
	}
	normalizedPath := "/" + strings.TrimPrefix(strings.ToLower(path), "/")
	if strings.Contains(normalizedPath, loginPathFragment) {
		client.RemoveToken()
		return ""
	}

	client.mutex.Lock()
	attached := client.bearerToken
	client.mutex.Unlock()
	if attached != "" {
		return attached
	}
	if client.tokens == nil {
		return ""
	}
	stored := client.tokens.AccessToken(ctx)
	if stored == "" {
		client.logger.Warn("no token available for authenticated request",
			zap.String("code", "directus.client.token_missing"),
			zap.String("path", path))
		return ""
	}
	client.AttachToken(stored)
	return stored
}

func call[T any](ctx context.Context, client *Client, method string, path string, hasBody bool, body any, withAuth bool) Envelope[T] {
	if strings.TrimSpace(path) == "" {
		client.logger.Error("request issued with empty path",
			zap.String("code", "directus.client.invalid_url"),
			zap.String("method", method))
		return ErrorEnvelope[T]("URL cannot be empty", CodeInvalidURL, http.StatusBadRequest)
	}
	requestURL, resolveErr := client.resolveURL(path)
	if resolveErr != nil {
		return ErrorEnvelope[T](fmt.Sprintf("Request failed: %v", resolveErr), CodeRequestFailed, http.StatusInternalServerError)
	}

	var bodyReader io.Reader
	if hasBody {
		encodedBody, encodeErr := json.Marshal(body)
		if encodeErr != nil {
			return ErrorEnvelope[T](fmt.Sprintf("Request failed: %v", encodeErr), CodeRequestFailed, http.StatusInternalServerError)
		}
		bodyReader = bytes.NewReader(encodedBody)
	}

	callCtx, cancel := context.WithTimeout(ctx, client.timeout)
	defer cancel()

	request, requestErr := http.NewRequestWithContext(callCtx, method, requestURL, bodyReader)
	if requestErr != nil {
		return ErrorEnvelope[T](fmt.Sprintf("Request failed: %v", requestErr), CodeRequestFailed, http.StatusInternalServerError)
	}
	request.Header.Set("Accept", "application/json")
	if hasBody {
		request.Header.Set("Content-Type", "application/json")
	}
	if token := client.resolveToken(ctx, path, withAuth); token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}

	response, doErr := client.httpClient.Do(request)
	if doErr != nil {
		if isTimeoutError(doErr, callCtx) {
			client.logger.Error("request timed out",
				zap.String("code", "directus.client.timeout"),
				zap.String("method", method),
				zap.String("path", path))
			return ErrorEnvelope[T]("Request timeout", CodeTimeout, http.StatusRequestTimeout)
		}
		client.logger.Error("request failed",
			zap.String("code", "directus.client.request_failed"),
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(doErr))
		return ErrorEnvelope[T](fmt.Sprintf("Request failed: %v", doErr), CodeRequestFailed, http.StatusInternalServerError)
	}
	defer func() { _ = response.Body.Close() }()

	result := decodeResponse[T](client.logger, response, method, path)
	client.logger.Info("request completed",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", result.StatusCode),
		zap.Bool("success", result.IsSuccess()))
	return result
}

func isTimeoutError(err error, callCtx context.Context) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return true
	}
	return errors.Is(callCtx.Err(), context.DeadlineExceeded)
}

// wireEnvelope is the generic data/meta/errors shape the CMS wraps successful
// responses in. Data stays raw so that an explicitly absent key can be told
// apart from a present-but-null one.
type wireEnvelope struct {
	Data   json.RawMessage `json:"data"`
	Meta   *Meta           `json:"meta"`
	Errors []wireError     `json:"errors"`
}

func (wrapped wireEnvelope) resolved() bool {
	return wrapped.Data != nil || wrapped.Meta != nil || wrapped.Errors != nil
}

type wireError struct {
	Message    string           `json:"message"`
	Extensions *ErrorExtensions `json:"extensions"`
}

// graphQLErrorDocument is the error shape the CMS uses for non-2xx bodies.
type graphQLErrorDocument struct {
	Errors []wireError     `json:"errors"`
	Data   json.RawMessage `json:"data"`
}

// decodeResponse reshapes one raw transport response into an Envelope. It
// never fails: every malformed body degrades to a structured error inside the
// returned envelope.
func decodeResponse[T any](logger *zap.Logger, response *http.Response, method string, path string) Envelope[T] {
	result := Envelope[T]{StatusCode: response.StatusCode}

	bodyBytes, readErr := io.ReadAll(response.Body)
	if readErr != nil {
		logger.Error("failed to read response body",
			zap.String("code", "directus.client.parse_error"),
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(readErr))
		result.Errors = append(result.Errors, APIError{
			Message: fmt.Sprintf("Failed to process response: %v", readErr),
			Code:    CodeParseError,
			Reason:  readErr.Error(),
		})
		return result
	}
	bodyText := string(bodyBytes)

	if response.StatusCode >= http.StatusOK && response.StatusCode <= 299 {
		if strings.TrimSpace(bodyText) == "" {
			return result
		}

		var wrapped wireEnvelope
		if decodeErr := json.Unmarshal(bodyBytes, &wrapped); decodeErr == nil && wrapped.resolved() {
			if len(wrapped.Data) > 0 && string(wrapped.Data) != "null" {
				payload := new(T)
				if dataErr := json.Unmarshal(wrapped.Data, payload); dataErr != nil {
					result.Errors = append(result.Errors, APIError{
						Message: fmt.Sprintf("Failed to process response: %v", dataErr),
						Code:    CodeParseError,
						Reason:  dataErr.Error(),
					})
					return result
				}
				result.Data = payload
			}
			result.Meta = wrapped.Meta
			result.Errors = mapWireErrors(wrapped.Errors)
			return result
		}

		payload := new(T)
		if decodeErr := json.Unmarshal(bodyBytes, payload); decodeErr != nil {
			logger.Error("response body not decodable",
				zap.String("code", "directus.client.parse_error"),
				zap.String("method", method),
				zap.String("path", path),
				zap.Error(decodeErr))
			result.Errors = append(result.Errors, APIError{
				Message: fmt.Sprintf("Failed to process response: %v", decodeErr),
				Code:    CodeParseError,
				Reason:  decodeErr.Error(),
			})
			return result
		}
		result.Data = payload
		return result
	}

	var errorDocument graphQLErrorDocument
	if decodeErr := json.Unmarshal(bodyBytes, &errorDocument); decodeErr == nil && len(errorDocument.Errors) > 0 {
		result.Errors = mapWireErrors(errorDocument.Errors)
		return result
	}

	result.Errors = append(result.Errors, APIError{
		Message: fmt.Sprintf("HTTP %d: %s", response.StatusCode, http.StatusText(response.StatusCode)),
		Code:    strconv.Itoa(response.StatusCode),
		Reason:  bodyText,
	})
	return result
}

func mapWireErrors(wireErrors []wireError) []APIError {
	if len(wireErrors) == 0 {
		return nil
	}
	mapped := make([]APIError, 0, len(wireErrors))
	for _, item := range wireErrors {
		message := item.Message
		if message == "" {
			message = "Unknown error"
		}
		var extensions ErrorExtensions
		if item.Extensions != nil {
			extensions = *item.Extensions
		}
		mapped = append(mapped, APIError{
			Message:    message,
			Code:       extensions.Code,
			Reason:     extensions.Reason,
			Extensions: extensions,
		})
	}
	return mapped
}
