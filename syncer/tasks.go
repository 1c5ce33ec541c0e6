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

type tasksStrategy struct {
	logger *slog.Logger
}

// NewTasksStrategy returns the strategy syncing calendar collections as
// iCalendar VTODO objects.
func NewTasksStrategy(logger *slog.Logger) Strategy {
	return &tasksStrategy{logger: logger}
}

func (s *tasksStrategy) Kind() string { return "tasks" }

func (s *tasksStrategy) Prepare(c *registry.Collection) error {
	if c.Type != registry.TypeCalendar {
		return fmt.Errorf("collection %s is not a calendar", c.URL)
	}
	if c.SupportsTasks != nil && !*c.SupportsTasks {
		return fmt.Errorf("calendar %s does not support tasks", c.URL)
	}
	return nil
}

func (s *tasksStrategy) ListQuery() ([]byte, error) {
	return davxml.CalendarQuery("VTODO")
}

func (s *tasksStrategy) MultigetQuery(hrefs []string) ([]byte, error) {
	return davxml.CalendarMultiget(hrefs)
}

func (s *tasksStrategy) Decode(data []byte) error {
	return decodeICalendar(data, ical.CompToDo)
}

func (s *tasksStrategy) Encode(res *LocalResource) ([]byte, string, error) {
	if err := s.Decode(res.Data); err != nil {
		return nil, "", err
	}
	return res.Data, MIMEICalendar, nil
}

func (s *tasksStrategy) NewFileName() string {
	return uuid.New().String() + ".ics"
}

// PostProcess re-derives parent/child task relations after all adds and
// updates of the pass are visible.
func (s *tasksStrategy) PostProcess(store LocalStore, scope Scope) error {
	resources, err := store.All(scope)
	if err != nil {
		return err
	}

	uids := make(map[string]bool)
	relations := make(map[string]string) // child UID -> parent UID
	for _, res := range resources {
		if res.Deleted {
			continue
		}
		cal, err := ical.NewDecoder(bytes.NewReader(res.Data)).Decode()
		if err != nil {
			continue
		}
		for _, child := range cal.Children {
			if child.Name != ical.CompToDo {
				continue
			}
			uid, err := child.Props.Text(ical.PropUID)
			if err != nil || uid == "" {
				continue
			}
			uids[uid] = true
			if parent, err := child.Props.Text(ical.PropRelatedTo); err == nil && parent != "" {
				relations[uid] = parent
			}
		}
	}

	touched, dangling := 0, 0
	for child, parent := range relations {
		if uids[parent] {
			touched++
		} else {
			dangling++
			s.logger.Warn("task references unknown parent", "task", child, "parent", parent)
		}
	}
	s.logger.Debug("touched task relations", "touched", touched, "dangling", dangling)
	return nil
}
