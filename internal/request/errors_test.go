package request

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{&networkError{Err: errors.New("connection reset")}, true},
		{&statusError{StatusCode: 500}, true},
		{&statusError{StatusCode: 503}, true},
		{&statusError{StatusCode: 408}, true},
		{&statusError{StatusCode: 429}, true},
		{&statusError{StatusCode: 400}, false},
		{&statusError{StatusCode: 401}, false},
		{&statusError{StatusCode: 404}, false},
		{&APIError{Code: CodeHTTPError}, false},
		{fmt.Errorf("wrapped: %w", &statusError{StatusCode: 502}), true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, retryable(tc.err), tc.err.Error())
	}
}

func TestRetryDelayIsLinear(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: 100}
	assert.EqualValues(t, 100, p.Delay(0))
	assert.EqualValues(t, 100, p.Delay(1))
	assert.EqualValues(t, 200, p.Delay(2))
	assert.EqualValues(t, 300, p.Delay(3))
}

func TestDescribeJSONBody(t *testing.T) {
	apiErr := describeBody(422, "application/json", []byte(`{"error":{"message":"email taken","code":"EMAIL_TAKEN"},"field":"email"}`))
	assert.Equal(t, 422, apiErr.Status)
	assert.Equal(t, "email taken", apiErr.Message)
	assert.Equal(t, "EMAIL_TAKEN", apiErr.Code)
	details, ok := apiErr.Details.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "email", details["field"])

	apiErr = describeBody(400, "", []byte(`{"error":"invalid_grant","code":1042}`))
	assert.Equal(t, "invalid_grant", apiErr.Message)
	assert.Equal(t, "1042", apiErr.Code)

	apiErr = describeBody(500, "application/json", []byte(`"boom"`))
	assert.Equal(t, "boom", apiErr.Message)
	assert.Equal(t, CodeHTTPError, apiErr.Code)
}

func TestDescribeJSONKeepsReservedCodes(t *testing.T) {
	apiErr := describeBody(400, "application/json", []byte(`{"code":"OFFLINE_QUEUED","message":"x"}`))
	assert.Equal(t, CodeHTTPError, apiErr.Code)
	assert.Equal(t, "x", apiErr.Message)
	assert.Equal(t, map[string]any{"code": "OFFLINE_QUEUED", "message": "x"}, apiErr.Details)
}

func TestDescribeHTMLBody(t *testing.T) {
	page := `<!DOCTYPE html><html><head><title>502 Bad Gateway</title><style>p{}</style></head>
<body><h1>Bad Gateway</h1><p>The upstream server is <b>unavailable</b>.</p></body></html>`
	apiErr := describeBody(502, "text/html; charset=utf-8", []byte(page))
	assert.Equal(t, "502 Bad Gateway", apiErr.Message)
	details, ok := apiErr.Details.(string)
	require.True(t, ok)
	assert.Contains(t, details, "# Bad Gateway")
	assert.Contains(t, details, "**unavailable**")
}

func TestDescribeOtherBodies(t *testing.T) {
	apiErr := describeBody(503, "", nil)
	assert.Equal(t, "Service Unavailable", apiErr.Message)

	apiErr = describeBody(599, "text/plain", []byte("  upstream timed out \n"))
	assert.Equal(t, "upstream timed out", apiErr.Message)

	apiErr = describeBody(599, "", nil)
	assert.Equal(t, "Request failed with status 599", apiErr.Message)
}

func TestToAPIError(t *testing.T) {
	apiErr := toAPIError(&statusError{StatusCode: http.StatusUnauthorized, Header: http.Header{}})
	assert.Equal(t, CodeUnauthorized, apiErr.Code)
	assert.Equal(t, 401, apiErr.Status)

	apiErr = toAPIError(&networkError{Err: errors.New("dial tcp: refused")})
	assert.Equal(t, CodeNetworkError, apiErr.Code)
	assert.Contains(t, apiErr.Message, "refused")

	orig := &APIError{Code: CodeOfflineQueued, RequestID: "q1"}
	assert.Same(t, orig, toAPIError(fmt.Errorf("wrap: %w", orig)))

	assert.Equal(t, "OFFLINE_QUEUED: ", orig.Error())
	assert.Equal(t, "HTTP_ERROR (418): teapot", (&APIError{Status: 418, Code: CodeHTTPError, Message: "teapot"}).Error())
}

func TestIsQueued(t *testing.T) {
	id, ok := IsQueued(&APIError{Code: CodeOfflineQueued, RequestID: "abc"})
	assert.True(t, ok)
	assert.Equal(t, "abc", id)

	_, ok = IsQueued(&APIError{Code: CodeOfflineQueued})
	assert.False(t, ok, "a queued result always carries its id")
	_, ok = IsQueued(&APIError{Code: CodeNoConnection})
	assert.False(t, ok)
	_, ok = IsQueued(errors.New("plain"))
	assert.False(t, ok)
}
