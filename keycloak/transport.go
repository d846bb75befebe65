package keycloak

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// providerCall is one request to a provider endpoint.
type providerCall struct {
	op        string // operation name used in logs and error messages
	method    string
	url       string
	form      url.Values
	bearer    string
	basicUser string
	basicPass string
}

// providerResponse is a fully read provider response.
type providerResponse struct {
	status int
	body   []byte
}

func (r *providerResponse) ok() bool {
	return r.status >= 200 && r.status < 300
}

// send performs the call once. Transport failures come back as
// KindProviderUnavailable; HTTP status codes are left to the caller.
func send(ctx context.Context, client *http.Client, logger *zap.Logger, call providerCall) (*providerResponse, error) {
	var body io.Reader
	if call.form != nil {
		body = strings.NewReader(call.form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, call.method, call.url, body)
	if err != nil {
		return nil, newAuthError(KindInvalidConfig, err, "%s failed: invalid request: %v", call.op, err)
	}
	req.Header.Set("Accept", "application/json")
	if call.form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if call.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+call.bearer)
	}
	if call.basicUser != "" {
		req.SetBasicAuth(call.basicUser, call.basicPass)
	}

	resp, err := client.Do(req)
	if err != nil {
		logger.Error("provider request failed",
			zap.String("operation", call.op),
			zap.String("url", call.url),
			zap.Error(err))
		return nil, newAuthError(KindProviderUnavailable, err, "%s failed: identity provider unreachable", call.op)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		logger.Error("failed to read provider response",
			zap.String("operation", call.op),
			zap.Int("status", resp.StatusCode),
			zap.Error(err))
		return nil, newAuthError(KindProviderUnavailable, err, "%s failed: could not read provider response", call.op)
	}

	out := &providerResponse{status: resp.StatusCode, body: data}
	if !out.ok() {
		logger.Warn("provider returned error status",
			zap.String("operation", call.op),
			zap.String("url", call.url),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", data))
	}
	return out, nil
}

// statusError turns a non-2xx response into an AuthError of the given kind.
// Server side failures are reported as the provider being unavailable.
func statusError(op string, kind ErrorKind, resp *providerResponse) *AuthError {
	if resp.status >= http.StatusInternalServerError {
		kind = KindProviderUnavailable
	}
	return newAuthError(kind, nil, "%s failed: provider returned status %s", op, describeStatus(resp.status))
}

// decodeJSON unmarshals a provider body into v.
func decodeJSON(op string, resp *providerResponse, v interface{}) error {
	if err := json.Unmarshal(resp.body, v); err != nil {
		return newAuthError(KindProviderUnavailable, err, "%s failed: malformed provider response: %v", op, err)
	}
	return nil
}

func describeStatus(status int) string {
	return fmt.Sprintf("%d %s", status, http.StatusText(status))
}
