package transport

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

	"github.com/praekeltfoundation/vumi-telegram/pkg/telegram"
)

// APIFailure classifies what went wrong with a call, beyond retryability.
type APIFailure string

const (
	// FailureBadResponse covers platform-reported errors: ok:false bodies and
	// non-2xx statuses that carried a parseable envelope.
	FailureBadResponse APIFailure = "bad_response"

	// FailureNetwork covers transport faults and 5xx responses.
	FailureNetwork APIFailure = "network"

	// FailureRedirect marks a 3xx response; Telegram redirects requests whose
	// bot token is malformed.
	FailureRedirect APIFailure = "redirect"

	// FailureBadFormat marks a response body that did not parse as the
	// platform's JSON envelope.
	FailureBadFormat APIFailure = "bad_format"
)

// APIError is a failed Telegram API call. Transient errors (network faults,
// 5xx responses) may be retried; everything else is terminal.
type APIError struct {
	Method      string
	StatusCode  int
	Description string
	Kind        APIFailure
	Transient   bool
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("telegram api %s: %s", e.Method, e.Description)
	}

	return fmt.Sprintf("telegram api %s: status %d: %s", e.Method, e.StatusCode, e.Description)
}

// IsTransient reports whether err may succeed on retry.
func IsTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient
	}

	return false
}

// apiResponse is the uniform Telegram API result wrapper.
type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	ErrorCode   int    `json:"error_code"`
}

// APIClient issues Telegram Bot API calls as JSON POSTs against the
// token-keyed base URL.
type APIClient struct {
	baseURL string
	http    *http.Client
}

// APIBaseURL joins the outbound base and bot token the way Telegram addresses
// bots: https://api.telegram.org/bot<token>, no separator.
func APIBaseURL(outboundURL, botToken string) string {
	return strings.TrimRight(outboundURL, "/") + botToken
}

// NewAPIClient builds a client for baseURL with a per-call timeout. Redirects
// are not followed: Telegram redirects requests carrying a malformed token,
// and following one would mask that failure.
func NewAPIClient(baseURL string, timeout time.Duration) *APIClient {
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Call performs one API call and interprets the platform's response envelope.
func (c *APIClient) Call(ctx context.Context, call telegram.APICall) error {
	body, err := json.Marshal(call.Params)
	if err != nil {
		return &APIError{Method: call.Method, Description: "encode params: " + err.Error(), Kind: FailureBadResponse}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+call.Method, bytes.NewReader(body))
	if err != nil {
		return &APIError{Method: call.Method, Description: "build request: " + err.Error(), Kind: FailureBadResponse}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &APIError{Method: call.Method, Description: err.Error(), Kind: FailureNetwork, Transient: true}
	}
	defer resp.Body.Close()

	// Telegram redirects when the bot token is in an invalid format.
	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		return &APIError{
			Method:      call.Method,
			StatusCode:  resp.StatusCode,
			Description: "request redirected (invalid token?)",
			Kind:        FailureRedirect,
		}
	}

	if resp.StatusCode >= 500 {
		return &APIError{
			Method:      call.Method,
			StatusCode:  resp.StatusCode,
			Description: "server error",
			Kind:        FailureNetwork,
			Transient:   true,
		}
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &APIError{Method: call.Method, StatusCode: resp.StatusCode, Description: "read response: " + err.Error(), Kind: FailureNetwork, Transient: true}
	}

	var result apiResponse
	if err := json.Unmarshal(payload, &result); err != nil {
		return &APIError{
			Method:      call.Method,
			StatusCode:  resp.StatusCode,
			Description: "unexpected response format",
			Kind:        FailureBadFormat,
		}
	}

	if resp.StatusCode != http.StatusOK || !result.OK {
		return &APIError{
			Method:      call.Method,
			StatusCode:  resp.StatusCode,
			Description: result.Description,
			Kind:        FailureBadResponse,
		}
	}

	return nil
}
