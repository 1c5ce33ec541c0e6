package syncer

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"

	"github.com/emersion/go-vcard"
	"github.com/google/uuid"

	"github.com/TBit-services/davsync/internal/davxml"
	"github.com/TBit-services/davsync/registry"
)

// MIMEVCard is the content type used for vCard uploads.
const MIMEVCard = "text/vcard; charset=utf-8"

type contactsStrategy struct {
	logger *slog.Logger
}

// NewContactsStrategy returns the strategy syncing address book collections
// as vCards.
func NewContactsStrategy(logger *slog.Logger) Strategy {
	return &contactsStrategy{logger: logger}
}

func (s *contactsStrategy) Kind() string { return "contacts" }

func (s *contactsStrategy) Prepare(c *registry.Collection) error {
	if c.Type != registry.TypeAddressBook {
		return fmt.Errorf("collection %s is not an address book", c.URL)
	}
	return nil
}

func (s *contactsStrategy) ListQuery() ([]byte, error) {
	return davxml.AddressbookQuery()
}

func (s *contactsStrategy) MultigetQuery(hrefs []string) ([]byte, error) {
	return davxml.AddressbookMultiget(hrefs)
}

func (s *contactsStrategy) Decode(data []byte) error {
	card, err := vcard.NewDecoder(bytes.NewReader(data)).Decode()
	if err != nil {
		return fmt.Errorf("invalid vCard: %w", err)
	}
	if card.PreferredValue(vcard.FieldFormattedName) == "" {
		return fmt.Errorf("vCard has no FN property")
	}
	return nil
}

func (s *contactsStrategy) Encode(res *LocalResource) ([]byte, string, error) {
	if err := s.Decode(res.Data); err != nil {
		return nil, "", err
	}
	return res.Data, MIMEVCard, nil
}

func (s *contactsStrategy) NewFileName() string {
	return uuid.New().String() + ".vcf"
}

// PostProcess re-derives group memberships once all adds and updates of the
// pass are visible, so MEMBER references to cards downloaded later in the
// same pass resolve.
func (s *contactsStrategy) PostProcess(store LocalStore, scope Scope) error {
	resources, err := store.All(scope)
	if err != nil {
		return err
	}

	uids := make(map[string]bool)
	type group struct {
		fileName string
		members  []string
	}
	var groups []group

	for _, res := range resources {
		if res.Deleted {
			continue
		}
		card, err := vcard.NewDecoder(bytes.NewReader(res.Data)).Decode()
		if err != nil {
			continue
		}
		if uid := card.Value(vcard.FieldUID); uid != "" {
			uids[uid] = true
		}
		if strings.EqualFold(card.Value(vcard.FieldKind), "group") {
			groups = append(groups, group{fileName: res.FileName, members: card.Values(vcard.FieldMember)})
		}
	}

	resolved, dangling := 0, 0
	for _, g := range groups {
		for _, member := range g.members {
			uid := strings.TrimPrefix(member, "urn:uuid:")
			if uids[uid] {
				resolved++
			} else {
				dangling++
				s.logger.Warn("group references unknown member",
					"group", g.fileName, "member", member)
			}
		}
	}
	s.logger.Debug("re-derived group memberships",
		"groups", len(groups), "resolved", resolved, "dangling", dangling)
	return nil
}
