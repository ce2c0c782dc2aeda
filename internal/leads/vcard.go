package leads

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-vcard"
)

// ExportVCards writes every captured email address as a vCard 4.0
// entry, oldest first, deduplicated case-insensitively.
func (s *Store) ExportVCards(ctx context.Context, w io.Writer) (int, error) {
	emails, err := s.List(ctx, KindEmail, 0)
	if err != nil {
		return 0, err
	}

	enc := vcard.NewEncoder(w)
	seen := make(map[string]bool)
	written := 0
	for i := len(emails) - 1; i >= 0; i-- {
		l := emails[i]
		key := strings.ToLower(strings.TrimSpace(l.Value))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true

		if err := enc.Encode(leadCard(l)); err != nil {
			return written, fmt.Errorf("encode vcard for %s: %w", l.ID, err)
		}
		written++
	}
	return written, nil
}

func leadCard(l Lead) vcard.Card {
	card := make(vcard.Card)
	email := strings.TrimSpace(l.Value)
	card.SetValue(vcard.FieldUID, "urn:uuid:"+l.ID.String())
	card.SetValue(vcard.FieldFormattedName, email)
	card.SetValue(vcard.FieldEmail, email)
	card.SetValue(vcard.FieldNote, "Left via careerbot on "+l.CreatedAt.Format("2006-01-02"))
	card.SetValue(vcard.FieldRevision, l.CreatedAt.UTC().Format("20060102T150405Z"))
	card.SetValue(vcard.FieldCategories, "careerbot")
	vcard.ToV4(card)
	return card
}
