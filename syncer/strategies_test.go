package syncer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TBit-services/davsync/registry"
)

const (
	icalEvent = "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//davsync//test//EN\r\n" +
		"BEGIN:VEVENT\r\nUID:ev-1\r\nDTSTAMP:20260101T000000Z\r\nDTSTART:20260102T100000Z\r\nSUMMARY:Standup\r\nEND:VEVENT\r\nEND:VCALENDAR\r\n"
	icalTask = "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//davsync//test//EN\r\n" +
		"BEGIN:VTODO\r\nUID:task-1\r\nDTSTAMP:20260101T000000Z\r\nSUMMARY:Buy milk\r\nEND:VTODO\r\nEND:VCALENDAR\r\n"
	icalChildTask = "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//davsync//test//EN\r\n" +
		"BEGIN:VTODO\r\nUID:task-2\r\nDTSTAMP:20260101T000000Z\r\nRELATED-TO:task-1\r\nSUMMARY:Go shopping\r\nEND:VTODO\r\nEND:VCALENDAR\r\n"
)

func boolPtr(b bool) *bool { return &b }

func TestContactsStrategyPrepare(t *testing.T) {
	s := NewContactsStrategy(testLogger())
	assert.NoError(t, s.Prepare(&registry.Collection{URL: "u", Type: registry.TypeAddressBook}))
	assert.Error(t, s.Prepare(&registry.Collection{URL: "u", Type: registry.TypeCalendar}))
}

func TestContactsStrategyDecode(t *testing.T) {
	s := NewContactsStrategy(testLogger())

	assert.NoError(t, s.Decode([]byte(vcardAlice)))
	assert.Error(t, s.Decode([]byte(vcardNoFN)), "a vCard without FN is unusable")
	assert.Error(t, s.Decode([]byte("not a vcard")))
}

func TestContactsStrategyEncode(t *testing.T) {
	s := NewContactsStrategy(testLogger())

	data, contentType, err := s.Encode(&LocalResource{Data: []byte(vcardAlice)})
	require.NoError(t, err)
	assert.Equal(t, []byte(vcardAlice), data)
	assert.Equal(t, MIMEVCard, contentType)

	_, _, err = s.Encode(&LocalResource{Data: []byte(vcardNoFN)})
	assert.Error(t, err)
}

func TestContactsStrategyNewFileName(t *testing.T) {
	s := NewContactsStrategy(testLogger())
	first := s.NewFileName()
	second := s.NewFileName()
	assert.True(t, strings.HasSuffix(first, ".vcf"))
	assert.NotEqual(t, first, second)
}

func TestContactsStrategyPostProcessGroups(t *testing.T) {
	s := NewContactsStrategy(testLogger())
	store := newMemStore()

	scope := Scope{CollectionURL: "https://x.test/ab/", Kind: s.Kind()}
	store.Save(scope, &LocalResource{FileName: "alice.vcf", Data: []byte(
		"BEGIN:VCARD\r\nVERSION:4.0\r\nUID:alice\r\nFN:Alice\r\nEND:VCARD\r\n")})
	store.Save(scope, &LocalResource{FileName: "group.vcf", Data: []byte(
		"BEGIN:VCARD\r\nVERSION:4.0\r\nUID:team\r\nFN:Team\r\nKIND:group\r\n" +
			"MEMBER:urn:uuid:alice\r\nMEMBER:urn:uuid:nobody\r\nEND:VCARD\r\n")})

	assert.NoError(t, s.PostProcess(store, scope))
}

func TestEventsStrategyPrepare(t *testing.T) {
	s := NewEventsStrategy(testLogger())

	assert.NoError(t, s.Prepare(&registry.Collection{URL: "u", Type: registry.TypeCalendar}))
	assert.NoError(t, s.Prepare(&registry.Collection{
		URL: "u", Type: registry.TypeCalendar, SupportsEvents: boolPtr(true),
	}))
	assert.Error(t, s.Prepare(&registry.Collection{
		URL: "u", Type: registry.TypeCalendar, SupportsEvents: boolPtr(false),
	}))
	assert.Error(t, s.Prepare(&registry.Collection{URL: "u", Type: registry.TypeAddressBook}))
}

func TestEventsStrategyDecode(t *testing.T) {
	s := NewEventsStrategy(testLogger())

	assert.NoError(t, s.Decode([]byte(icalEvent)))
	assert.Error(t, s.Decode([]byte(icalTask)), "a VTODO object is not an event")
	assert.Error(t, s.Decode([]byte("garbage")))
}

func TestTasksStrategyPrepare(t *testing.T) {
	s := NewTasksStrategy(testLogger())

	assert.NoError(t, s.Prepare(&registry.Collection{URL: "u", Type: registry.TypeCalendar}))
	assert.Error(t, s.Prepare(&registry.Collection{
		URL: "u", Type: registry.TypeCalendar, SupportsTasks: boolPtr(false),
	}))
}

func TestTasksStrategyDecode(t *testing.T) {
	s := NewTasksStrategy(testLogger())

	assert.NoError(t, s.Decode([]byte(icalTask)))
	assert.Error(t, s.Decode([]byte(icalEvent)), "a VEVENT object is not a task")
}

func TestTasksStrategyPostProcessRelations(t *testing.T) {
	s := NewTasksStrategy(testLogger())
	store := newMemStore()

	scope := Scope{CollectionURL: "https://x.test/cal/", Kind: s.Kind()}
	store.Save(scope, &LocalResource{FileName: "parent.ics", Data: []byte(icalTask)})
	store.Save(scope, &LocalResource{FileName: "child.ics", Data: []byte(icalChildTask)})

	assert.NoError(t, s.PostProcess(store, scope))
}

func TestStrategyFileNameSuffixes(t *testing.T) {
	assert.True(t, strings.HasSuffix(NewEventsStrategy(testLogger()).NewFileName(), ".ics"))
	assert.True(t, strings.HasSuffix(NewTasksStrategy(testLogger()).NewFileName(), ".ics"))
}
