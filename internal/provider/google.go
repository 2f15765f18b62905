package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Event is a provider-side calendar event in normalized form.
type Event struct {
	ID          string
	Title       string
	Description string
	Location    string
	StartsAt    time.Time
	EndsAt      time.Time
	AllDay      bool
	Cancelled   bool
	Link        string
}

// ListOptions controls a ListEvents call.
type ListOptions struct {
	// Cursor is the incremental sync cursor from a previous run. When set,
	// the provider returns only changes since that cursor, including
	// deletions as cancelled tombstones.
	Cursor string

	// PageToken continues pagination within one run.
	PageToken string

	// WindowStart bounds the look-back of a full fetch. Only used when
	// Cursor is empty (first sync or cursor fallback).
	WindowStart time.Time
}

// ListPage is one page of provider events.
type ListPage struct {
	Events []Event

	// NextPage is set when more pages remain for this fetch.
	NextPage string

	// NextCursor is the cursor for the next run, issued on the final page.
	NextCursor string
}

// Client is the provider API boundary: CRUD over a remote events collection
// scoped to an external calendar id. All operations require valid
// credentials; errors are classified into the package taxonomy.
type Client interface {
	ListEvents(ctx context.Context, calendarID string, opts ListOptions) (*ListPage, error)
	CreateEvent(ctx context.Context, calendarID string, event *Event) (externalID, link string, err error)
	UpdateEvent(ctx context.Context, calendarID, externalID string, event *Event) error
	DeleteEvent(ctx context.Context, calendarID, externalID string) error
}

// ClientFactory builds a provider client from freshly-ensured credentials.
// Injected so the sync pipeline can be driven against a fake in tests.
type ClientFactory func(ctx context.Context, cfg Config, token *oauth2.Token) (Client, error)

// GoogleClient implements Client against the Google Calendar API.
type GoogleClient struct {
	svc *calendar.Service
}

// NewGoogleClient creates a calendar API client authorized with the token.
func NewGoogleClient(ctx context.Context, cfg Config, token *oauth2.Token) (Client, error) {
	httpClient := cfg.OAuth().Client(ctx, token)
	httpClient.Timeout = cfg.Timeout

	svc, err := calendar.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("creating calendar service: %w", err)
	}

	return &GoogleClient{svc: svc}, nil
}

// ListEvents fetches one page of events: incremental when a cursor is
// supplied, otherwise a full fetch from the look-back window. An expired
// cursor surfaces as ErrCursorInvalidated.
func (c *GoogleClient) ListEvents(ctx context.Context, calendarID string, opts ListOptions) (*ListPage, error) {
	call := c.svc.Events.List(calendarID).
		Context(ctx).
		SingleEvents(true).
		ShowDeleted(true).
		MaxResults(250)

	if opts.Cursor != "" {
		// The API rejects a time window combined with a sync token.
		call = call.SyncToken(opts.Cursor)
	} else {
		call = call.TimeMin(opts.WindowStart.Format(time.RFC3339))
	}
	if opts.PageToken != "" {
		call = call.PageToken(opts.PageToken)
	}

	res, err := call.Do()
	if err != nil {
		return nil, classify("listing events", err, true)
	}

	page := &ListPage{
		NextPage:   res.NextPageToken,
		NextCursor: res.NextSyncToken,
	}
	for _, item := range res.Items {
		ev, err := fromGoogleEvent(item)
		if err != nil {
			return nil, err
		}
		page.Events = append(page.Events, ev)
	}

	return page, nil
}

// CreateEvent inserts an event and returns the provider's identifier and
// direct link.
func (c *GoogleClient) CreateEvent(ctx context.Context, calendarID string, event *Event) (string, string, error) {
	res, err := c.svc.Events.Insert(calendarID, toGoogleEvent(event)).Context(ctx).Do()
	if err != nil {
		return "", "", classify("creating event", err, false)
	}

	return res.Id, res.HtmlLink, nil
}

// UpdateEvent overwrites a provider event.
func (c *GoogleClient) UpdateEvent(ctx context.Context, calendarID, externalID string, event *Event) error {
	_, err := c.svc.Events.Update(calendarID, externalID, toGoogleEvent(event)).Context(ctx).Do()
	if err != nil {
		return classify("updating event", err, false)
	}

	return nil
}

// DeleteEvent removes a provider event. An already-deleted event is success,
// not failure.
func (c *GoogleClient) DeleteEvent(ctx context.Context, calendarID, externalID string) error {
	err := c.svc.Events.Delete(calendarID, externalID).Context(ctx).Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && (apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone) {
			return nil
		}
		return classify("deleting event", err, false)
	}

	return nil
}

const dateOnly = "2006-01-02"

// fromGoogleEvent normalizes a provider event. Cancelled tombstones may
// carry no times at all. A malformed timestamp fails the fetch rather than
// silently becoming the zero time and overwriting a local event.
func fromGoogleEvent(item *calendar.Event) (Event, error) {
	ev := Event{
		ID:          item.Id,
		Title:       item.Summary,
		Description: item.Description,
		Location:    item.Location,
		Cancelled:   item.Status == "cancelled",
		Link:        item.HtmlLink,
	}

	var err error
	if item.Start != nil {
		if item.Start.Date != "" {
			ev.AllDay = true
			ev.StartsAt, err = time.Parse(dateOnly, item.Start.Date)
		} else if item.Start.DateTime != "" {
			ev.StartsAt, err = time.Parse(time.RFC3339, item.Start.DateTime)
		}
		if err != nil {
			return Event{}, fmt.Errorf("parsing start of event %s: %w", item.Id, err)
		}
	}
	if item.End != nil {
		if item.End.Date != "" {
			ev.EndsAt, err = time.Parse(dateOnly, item.End.Date)
		} else if item.End.DateTime != "" {
			ev.EndsAt, err = time.Parse(time.RFC3339, item.End.DateTime)
		}
		if err != nil {
			return Event{}, fmt.Errorf("parsing end of event %s: %w", item.Id, err)
		}
	}

	return ev, nil
}

// toGoogleEvent translates to the wire shape: all-day events become
// date-only boundaries, timed events carry an explicit time zone.
func toGoogleEvent(ev *Event) *calendar.Event {
	out := &calendar.Event{
		Summary:     ev.Title,
		Description: ev.Description,
		Location:    ev.Location,
	}

	if ev.AllDay {
		out.Start = &calendar.EventDateTime{Date: ev.StartsAt.Format(dateOnly)}
		out.End = &calendar.EventDateTime{Date: ev.EndsAt.Format(dateOnly)}
	} else {
		out.Start = &calendar.EventDateTime{
			DateTime: ev.StartsAt.UTC().Format(time.RFC3339),
			TimeZone: "UTC",
		}
		out.End = &calendar.EventDateTime{
			DateTime: ev.EndsAt.UTC().Format(time.RFC3339),
			TimeZone: "UTC",
		}
	}

	return out
}
