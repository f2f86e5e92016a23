package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/SonJH7/Yakssok/internal/logging"
)

// TokenClient exchanges a stored refresh token for a short-lived access token.
type TokenClient struct {
	oauth  oauth2.Config
	client *http.Client
	logger *slog.Logger
}

// NewTokenClient constructs a TokenClient from the shared provider config.
func NewTokenClient(cfg Config, logger *slog.Logger, opts ...Option) *TokenClient {
	cfg = cfg.withDefaults()
	o := buildOptions(opts)
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenClient{
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		client: &http.Client{Timeout: cfg.Timeout, Transport: o.transport},
		logger: logger,
	}
}

// Refresh performs a refresh_token grant and returns the new access token.
// Failures are returned as *ProviderError.
func (c *TokenClient) Refresh(ctx context.Context, refreshToken string) (string, error) {
	if c == nil {
		return "", fmt.Errorf("TokenClient is nil")
	}
	if strings.TrimSpace(refreshToken) == "" {
		return "", &ProviderError{Class: ClassAuth, Code: CodeMissingRefreshToken, Err: errors.New("refresh token is empty")}
	}

	logger := logging.FromContext(ctx)
	if logger == nil {
		logger = c.logger
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.client)
	token, err := c.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		classified := classifyRefreshError(err)
		logger.Warn("google token refresh failed",
			"error_code", classified.Code,
			"status", classified.StatusCode,
			"error", err,
		)
		return "", classified
	}
	if token.AccessToken == "" {
		return "", &ProviderError{Class: ClassAuth, Code: CodeRefreshFailed, Err: errors.New("response missing access_token")}
	}
	return token.AccessToken, nil
}

func classifyRefreshError(err error) *ProviderError {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		status := 0
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
		if status == http.StatusBadRequest && retrieveErr.ErrorCode == CodeInvalidGrant {
			return &ProviderError{Class: ClassAuth, Code: CodeInvalidGrant, StatusCode: status, Err: err}
		}
		return &ProviderError{Class: ClassAuth, Code: CodeRefreshFailed, StatusCode: status, Err: err}
	}
	if isTransportError(err) {
		return &ProviderError{Class: ClassTransport, Code: CodeRequestFailed, Err: err}
	}
	return &ProviderError{Class: ClassAuth, Code: CodeRefreshFailed, Err: err}
}

func isTransportError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
