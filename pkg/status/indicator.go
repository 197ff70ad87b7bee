package status

import (
	"context"
	"fmt"
	"strings"
)

const (
	// IndicatorID is the fixed slot every mount run writes to
	IndicatorID = "bootmount"

	// Title is shown on every indicator update
	Title = "Mounting filesystems"

	// BodyStarting is posted before the mount command is spawned
	BodyStarting = "starting"

	// BodyCompleted is posted once the mount command terminated cleanly
	BodyCompleted = "completed"

	// bodyFailedPrefix starts every failure body
	bodyFailedPrefix = "failed"
)

// Indicator is the user-visible status of a mount run
type Indicator struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Body    string `json:"body"`
	Ongoing bool   `json:"ongoing"`
}

// Sink displays an indicator. Update replaces whatever is stored under
// ind.ID; it never creates a second entry for the same id.
type Sink interface {
	Update(ctx context.Context, ind Indicator) error
}

// SinkFunc adapts a function to the Sink interface
type SinkFunc func(ctx context.Context, ind Indicator) error

// Update calls f(ctx, ind)
func (f SinkFunc) Update(ctx context.Context, ind Indicator) error {
	return f(ctx, ind)
}

// Starting returns the in-progress indicator
func Starting() Indicator {
	return Indicator{ID: IndicatorID, Title: Title, Body: BodyStarting, Ongoing: true}
}

// Completed returns the terminal indicator for a run that terminated cleanly
func Completed() Indicator {
	return Indicator{ID: IndicatorID, Title: Title, Body: BodyCompleted}
}

// Failed returns a terminal indicator whose body starts with "failed"
func Failed(reason string) Indicator {
	body := bodyFailedPrefix
	if reason != "" {
		body = fmt.Sprintf("%s: %s", bodyFailedPrefix, reason)
	}
	return Indicator{ID: IndicatorID, Title: Title, Body: body}
}

// IsFailure reports whether the indicator shows a failed terminal state
func (i Indicator) IsFailure() bool {
	return !i.Ongoing && strings.HasPrefix(i.Body, bodyFailedPrefix)
}

// IsTerminal reports whether the indicator shows a finished run
func (i Indicator) IsTerminal() bool {
	return !i.Ongoing
}

func (i Indicator) String() string {
	return fmt.Sprintf("%s[ongoing=%v body=%q]", i.ID, i.Ongoing, i.Body)
}
