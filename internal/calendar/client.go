package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
	_ "time/tzdata"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"mailbot/internal/gmail"
	"mailbot/internal/logger"
	"mailbot/internal/retry"
	"mailbot/internal/service"
)

// Client creates events in one Google calendar.
type Client struct {
	svc        *calendar.Service
	calendarID string
	policy     retry.Policy
	logger     *logger.Logger
}

func NewClient(ctx context.Context, httpClient *http.Client, calendarID string, logger *logger.Logger, opts ...option.ClientOption) (*Client, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Calendar service: %w", err)
	}
	if calendarID == "" {
		calendarID = "primary"
	}

	policy := retry.Default
	policy.Retryable = service.IsTransient
	return &Client{
		svc:        svc,
		calendarID: calendarID,
		policy:     policy,
		logger:     logger,
	}, nil
}

// CreateEvent inserts the event and returns its web link.
func (c *Client) CreateEvent(ctx context.Context, title, description string, start, end time.Time, timezone string) (string, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		c.logger.Warnf("Unknown timezone %q, using UTC: %v", timezone, err)
		loc, timezone = time.UTC, "UTC"
	}

	event := &calendar.Event{
		Summary:     title,
		Description: description,
		Start: &calendar.EventDateTime{
			DateTime: start.In(loc).Format(time.RFC3339),
			TimeZone: timezone,
		},
		End: &calendar.EventDateTime{
			DateTime: end.In(loc).Format(time.RFC3339),
			TimeZone: timezone,
		},
		Reminders: &calendar.EventReminders{UseDefault: true},
	}

	created, err := retry.Value(ctx, c.policy, func(ctx context.Context) (*calendar.Event, error) {
		e, err := c.svc.Events.Insert(c.calendarID, event).Context(ctx).Do()
		return e, gmail.MapError("events.insert", err)
	})
	if err != nil {
		return "", err
	}

	c.logger.Infof("Created calendar event %q at %s", title, event.Start.DateTime)
	return created.HtmlLink, nil
}

// ErrDisabled is returned by Disabled.
var ErrDisabled = errors.New("no calendar account configured")

// Disabled stands in when no Google account can reach a calendar. Events
// are still scheduled as tasks, only without a calendar link.
type Disabled struct{}

func (Disabled) CreateEvent(ctx context.Context, title, description string, start, end time.Time, timezone string) (string, error) {
	return "", ErrDisabled
}
