package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/SonJH7/Yakssok/internal/logging"
)

// EventInput is the confirmed meeting pushed to a participant's calendar.
type EventInput struct {
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	TimeZone    string
}

// EventTime mirrors the provider's start/end object.
type EventTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

// Event is the trimmed event projection returned by ListEvents.
type Event struct {
	ID       string    `json:"id"`
	Summary  string    `json:"summary,omitempty"`
	Location string    `json:"location,omitempty"`
	Start    EventTime `json:"start"`
	End      EventTime `json:"end"`
	HTMLLink string    `json:"htmlLink,omitempty"`
	Updated  string    `json:"updated,omitempty"`
}

// ListOptions narrows an event listing. Zero values fall back to defaults.
type ListOptions struct {
	TimeMin    string
	TimeMax    string
	PageToken  string
	MaxResults int64
	TimeZone   string
}

// EventPage is one page of listed events.
type EventPage struct {
	Events        []Event `json:"events"`
	NextPageToken string  `json:"nextPageToken,omitempty"`
}

// EventClient reads and writes events on a participant's primary calendar.
type EventClient struct {
	cfg       Config
	transport http.RoundTripper
	logger    *slog.Logger
}

// NewEventClient constructs an EventClient from the shared provider config.
func NewEventClient(cfg Config, logger *slog.Logger, opts ...Option) *EventClient {
	o := buildOptions(opts)
	if logger == nil {
		logger = slog.Default()
	}
	return &EventClient{cfg: cfg.withDefaults(), transport: o.transport, logger: logger}
}

func (c *EventClient) service(ctx context.Context, accessToken string) (*calendar.Service, error) {
	httpClient := &http.Client{
		Timeout: c.cfg.Timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}),
			Base:   c.transport,
		},
	}
	svc, err := calendar.NewService(ctx,
		option.WithHTTPClient(httpClient),
		option.WithEndpoint(c.cfg.CalendarEndpoint),
	)
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	return svc, nil
}

// UpsertEvent creates the event when eventID is empty and updates it in place
// otherwise, so a retry never produces a duplicate. It returns the provider's
// event identifier.
func (c *EventClient) UpsertEvent(ctx context.Context, accessToken, eventID string, input EventInput) (string, error) {
	if c == nil {
		return "", fmt.Errorf("EventClient is nil")
	}
	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return "", &ProviderError{Class: ClassProvider, Code: CodeCalendarSyncFailed, Err: err}
	}

	tz := input.TimeZone
	if tz == "" {
		tz = c.cfg.TimeZone
	}
	body := &calendar.Event{
		Summary:     input.Summary,
		Description: input.Description,
		Start:       &calendar.EventDateTime{DateTime: input.Start.Format(time.RFC3339), TimeZone: tz},
		End:         &calendar.EventDateTime{DateTime: input.End.Format(time.RFC3339), TimeZone: tz},
	}

	var result *calendar.Event
	if eventID == "" {
		result, err = svc.Events.Insert(PrimaryCalendarID, body).Context(ctx).Do()
	} else {
		result, err = svc.Events.Update(PrimaryCalendarID, eventID, body).Context(ctx).Do()
	}
	if err != nil {
		classified := classifyEventError(err)
		c.log(ctx).Warn("google event upsert failed",
			"event_id", eventID,
			"error_code", classified.Code,
			"status", classified.StatusCode,
			"error", err,
		)
		return "", classified
	}
	if result.Id != "" {
		return result.Id, nil
	}
	return eventID, nil
}

// ListEvents lists expanded single events on the primary calendar ordered by
// start time.
func (c *EventClient) ListEvents(ctx context.Context, accessToken string, opts ListOptions) (EventPage, error) {
	if c == nil {
		return EventPage{}, fmt.Errorf("EventClient is nil")
	}
	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return EventPage{}, &ProviderError{Class: ClassProvider, Code: CodeCalendarSyncFailed, Err: err}
	}

	tz := opts.TimeZone
	if tz == "" {
		tz = c.cfg.TimeZone
	}
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}

	call := svc.Events.List(PrimaryCalendarID).
		SingleEvents(true).
		OrderBy("startTime").
		TimeZone(tz).
		MaxResults(maxResults).
		Fields(googleapi.Field(eventListFields))
	if opts.TimeMin != "" {
		call = call.TimeMin(opts.TimeMin)
	}
	if opts.TimeMax != "" {
		call = call.TimeMax(opts.TimeMax)
	}
	if opts.PageToken != "" {
		call = call.PageToken(opts.PageToken)
	}

	resp, err := call.Context(ctx).Do()
	if err != nil {
		classified := classifyEventError(err)
		c.log(ctx).Warn("google event listing failed",
			"error_code", classified.Code,
			"status", classified.StatusCode,
			"error", err,
		)
		return EventPage{}, classified
	}

	page := EventPage{Events: make([]Event, 0, len(resp.Items)), NextPageToken: resp.NextPageToken}
	for _, item := range resp.Items {
		page.Events = append(page.Events, toEvent(item))
	}
	return page, nil
}

func (c *EventClient) log(ctx context.Context) *slog.Logger {
	if logger := logging.FromContext(ctx); logger != nil {
		return logger
	}
	return c.logger
}

func toEvent(item *calendar.Event) Event {
	if item == nil {
		return Event{}
	}
	return Event{
		ID:       item.Id,
		Summary:  item.Summary,
		Location: item.Location,
		Start:    toEventTime(item.Start),
		End:      toEventTime(item.End),
		HTMLLink: item.HtmlLink,
		Updated:  item.Updated,
	}
}

func toEventTime(value *calendar.EventDateTime) EventTime {
	if value == nil {
		return EventTime{}
	}
	return EventTime{DateTime: value.DateTime, Date: value.Date, TimeZone: value.TimeZone}
}

func classifyEventError(err error) *ProviderError {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusUnauthorized:
			return &ProviderError{Class: ClassReauthRequired, Code: CodeReauthRequired, StatusCode: apiErr.Code, Err: err}
		case http.StatusForbidden:
			return &ProviderError{Class: ClassForbidden, Code: CodeInsufficientScope, StatusCode: apiErr.Code, Err: err}
		case http.StatusTooManyRequests:
			return &ProviderError{Class: ClassTransient, Code: CodeRateLimited, StatusCode: apiErr.Code, Err: err}
		default:
			return &ProviderError{Class: ClassProvider, Code: CodeCalendarSyncFailed, StatusCode: apiErr.Code, Err: err}
		}
	}
	if isTransportError(err) {
		return &ProviderError{Class: ClassTransport, Code: CodeRequestFailed, Err: err}
	}
	return &ProviderError{Class: ClassProvider, Code: CodeCalendarSyncFailed, Err: err}
}
