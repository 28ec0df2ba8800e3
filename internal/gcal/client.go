// Package gcal adapts the Google Calendar v3 API to the narrow event
// operations the mirror needs.
package gcal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
)

const pageSize = 250

var (
	// ErrNotFound is returned when the addressed event no longer exists.
	ErrNotFound = errors.New("calendar event not found")

	// ErrNotConnected is returned when a user has not linked a calendar.
	ErrNotConnected = errors.New("calendar not connected")
)

// Calendar is the set of event operations available on one user's calendar.
type Calendar interface {
	List(ctx context.Context, from, to time.Time) ([]*calendar.Event, error)
	Insert(ctx context.Context, ev *calendar.Event) (*calendar.Event, error)
	Update(ctx context.Context, eventID string, ev *calendar.Event) (*calendar.Event, error)
	Delete(ctx context.Context, eventID string) error
}

// Client is a Calendar backed by a calendar.Service.
type Client struct {
	svc        *calendar.Service
	calendarID string
}

func NewClient(svc *calendar.Service, calendarID string) *Client {
	if calendarID == "" {
		calendarID = "primary"
	}
	return &Client{svc: svc, calendarID: calendarID}
}

// List returns every event that overlaps [from, to), following pagination.
// Recurring events are returned as their master event.
func (c *Client) List(ctx context.Context, from, to time.Time) ([]*calendar.Event, error) {
	var out []*calendar.Event
	token := ""
	for {
		call := c.svc.Events.List(c.calendarID).
			TimeMin(from.Format(time.RFC3339)).
			TimeMax(to.Format(time.RFC3339)).
			MaxResults(pageSize).
			ShowDeleted(false).
			Context(ctx)
		if token != "" {
			call = call.PageToken(token)
		}
		page, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("list events: %w", mapErr(err))
		}
		out = append(out, page.Items...)
		if page.NextPageToken == "" {
			return out, nil
		}
		token = page.NextPageToken
	}
}

func (c *Client) Insert(ctx context.Context, ev *calendar.Event) (*calendar.Event, error) {
	created, err := c.svc.Events.Insert(c.calendarID, ev).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("insert event: %w", mapErr(err))
	}
	return created, nil
}

func (c *Client) Update(ctx context.Context, eventID string, ev *calendar.Event) (*calendar.Event, error) {
	updated, err := c.svc.Events.Update(c.calendarID, eventID, ev).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("update event %s: %w", eventID, mapErr(err))
	}
	if updated.Status == "cancelled" {
		return nil, fmt.Errorf("update event %s: %w", eventID, ErrNotFound)
	}
	return updated, nil
}

func (c *Client) Delete(ctx context.Context, eventID string) error {
	if err := c.svc.Events.Delete(c.calendarID, eventID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("delete event %s: %w", eventID, mapErr(err))
	}
	return nil
}

// mapErr turns 404 and 410 API responses into ErrNotFound.
func mapErr(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && (gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone) {
		return fmt.Errorf("%w: %s", ErrNotFound, gerr.Message)
	}
	return err
}
