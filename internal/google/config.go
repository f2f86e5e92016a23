// Package google talks to the OAuth token endpoint and the Calendar API on
// behalf of a single participant. Calls use a fixed timeout and are never
// retried here; retrying is an explicit operation owned by the caller.
package google

import (
	"net/http"
	"time"
)

const (
	// DefaultTokenURL is Google's OAuth 2.0 token endpoint.
	DefaultTokenURL = "https://oauth2.googleapis.com/token"
	// DefaultCalendarEndpoint is the Calendar v3 API base path.
	DefaultCalendarEndpoint = "https://www.googleapis.com/calendar/v3/"
	// DefaultTimeout bounds every provider call.
	DefaultTimeout = 10 * time.Second
	// DefaultTimeZone is used when listing events without an explicit zone.
	DefaultTimeZone = "Asia/Seoul"
	// DefaultMaxResults caps one page of listed events.
	DefaultMaxResults = 50
	// PrimaryCalendarID addresses the participant's default calendar.
	PrimaryCalendarID = "primary"

	eventListFields = "items(id,summary,location,start,end,htmlLink,updated),nextPageToken"
)

// Config holds the OAuth client credentials and provider endpoints. It is
// built once at start-up and shared by reference.
type Config struct {
	ClientID         string
	ClientSecret     string
	TokenURL         string
	CalendarEndpoint string
	Timeout          time.Duration
	TimeZone         string
}

func (c Config) withDefaults() Config {
	if c.TokenURL == "" {
		c.TokenURL = DefaultTokenURL
	}
	if c.CalendarEndpoint == "" {
		c.CalendarEndpoint = DefaultCalendarEndpoint
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.TimeZone == "" {
		c.TimeZone = DefaultTimeZone
	}
	return c
}

// Option customises a client.
type Option func(*clientOptions)

type clientOptions struct {
	transport http.RoundTripper
}

// WithTransport replaces the HTTP transport, mainly for tests and tracing.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *clientOptions) {
		o.transport = rt
	}
}

func buildOptions(opts []Option) clientOptions {
	o := clientOptions{transport: http.DefaultTransport}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
