package syncer

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"

	"github.com/TBit-services/davsync/internal/davxml"
	"github.com/TBit-services/davsync/registry"
)

// MIMEICalendar is the content type used for iCalendar uploads.
const MIMEICalendar = "text/calendar; charset=utf-8"

type eventsStrategy struct {
	logger *slog.Logger
}

// NewEventsStrategy returns the strategy syncing calendar collections as
// iCalendar VEVENT objects.
func NewEventsStrategy(logger *slog.Logger) Strategy {
	return &eventsStrategy{logger: logger}
}

func (s *eventsStrategy) Kind() string { return "events" }

func (s *eventsStrategy) Prepare(c *registry.Collection) error {
	if c.Type != registry.TypeCalendar {
		return fmt.Errorf("collection %s is not a calendar", c.URL)
	}
	if c.SupportsEvents != nil && !*c.SupportsEvents {
		return fmt.Errorf("calendar %s does not support events", c.URL)
	}
	return nil
}

func (s *eventsStrategy) ListQuery() ([]byte, error) {
	return davxml.CalendarQuery("VEVENT")
}

func (s *eventsStrategy) MultigetQuery(hrefs []string) ([]byte, error) {
	return davxml.CalendarMultiget(hrefs)
}

func (s *eventsStrategy) Decode(data []byte) error {
	return decodeICalendar(data, ical.CompEvent)
}

func (s *eventsStrategy) Encode(res *LocalResource) ([]byte, string, error) {
	if err := s.Decode(res.Data); err != nil {
		return nil, "", err
	}
	return res.Data, MIMEICalendar, nil
}

func (s *eventsStrategy) NewFileName() string {
	return uuid.New().String() + ".ics"
}

func (s *eventsStrategy) PostProcess(store LocalStore, scope Scope) error {
	s.logger.Debug("event sync post-processing complete", "url", scope.CollectionURL)
	return nil
}

// decodeICalendar parses an iCalendar stream and checks that it carries at
// least one component of the wanted kind.
func decodeICalendar(data []byte, comp string) error {
	cal, err := ical.NewDecoder(bytes.NewReader(data)).Decode()
	if err != nil {
		return fmt.Errorf("invalid iCalendar: %w", err)
	}
	for _, child := range cal.Children {
		if child.Name == comp {
			return nil
		}
	}
	return fmt.Errorf("iCalendar contains no %s component", comp)
}
