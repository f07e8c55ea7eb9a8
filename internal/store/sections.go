package store

import (
	"context"
	"database/sql"

	"github.com/mmcdole/reel/internal/domain"
)

// ReplaceHomeSections swaps every home section of a source in one
// transaction. Entries that reference items not stored locally are skipped,
// and sections left without items are not persisted.
func (s *Store) ReplaceHomeSections(ctx context.Context, sourceID string, sections []domain.HomeSectionContent) error {
	return s.withTx(ctx, "replace home sections", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM home_sections WHERE source_id = ?`, sourceID); err != nil {
			return err
		}

		for _, content := range sections {
			sec := content.Section
			if sec.ID == "" {
				continue
			}

			var itemIDs []string
			seen := make(map[string]struct{}, len(content.Items))
			for _, item := range content.Items {
				if _, dup := seen[item.ID]; dup {
					continue
				}
				var exists int
				err := tx.QueryRowContext(ctx,
					`SELECT COUNT(1) FROM media_items WHERE source_id = ? AND id = ? AND removed = 0`,
					sourceID, item.ID).Scan(&exists)
				if err != nil {
					return err
				}
				if exists == 0 {
					continue
				}
				seen[item.ID] = struct{}{}
				itemIDs = append(itemIDs, item.ID)
			}
			if len(itemIDs) == 0 {
				continue
			}

			if sec.Type == "" {
				sec.Type = domain.SectionCustom
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO home_sections (source_id, id, title, type, priority) VALUES (?, ?, ?, ?, ?)
                 ON CONFLICT (source_id, id) DO NOTHING`,
				sourceID, sec.ID, sec.Title, string(sec.Type), sec.Priority,
			); err != nil {
				return err
			}
			for pos, itemID := range itemIDs {
				if _, err := tx.ExecContext(ctx,
					`INSERT OR IGNORE INTO home_section_items (source_id, section_id, item_id, position) VALUES (?, ?, ?, ?)`,
					sourceID, sec.ID, itemID, pos,
				); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// HomeSections returns a source's sections by priority with items in order
func (s *Store) HomeSections(ctx context.Context, sourceID string) ([]domain.HomeSectionContent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, type, priority FROM home_sections WHERE source_id = ? ORDER BY priority, id`, sourceID)
	if err != nil {
		return nil, storageErr("home sections", err)
	}

	var sections []domain.HomeSectionContent
	for rows.Next() {
		sec := domain.HomeSection{SourceID: sourceID}
		var secType string
		if err := rows.Scan(&sec.ID, &sec.Title, &secType, &sec.Priority); err != nil {
			rows.Close()
			return nil, storageErr("scan home section", err)
		}
		sec.Type = domain.HomeSectionType(secType)
		sections = append(sections, domain.HomeSectionContent{Section: sec})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, storageErr("home sections", err)
	}

	out := sections[:0]
	for _, content := range sections {
		itemRows, err := s.db.QueryContext(ctx,
			`SELECT `+prefixed("m.", itemColumns)+` FROM home_section_items h
             JOIN media_items m ON m.source_id = h.source_id AND m.id = h.item_id
             WHERE h.source_id = ? AND h.section_id = ? AND m.removed = 0
             ORDER BY h.position`,
			sourceID, content.Section.ID)
		if err != nil {
			return nil, storageErr("home section items", err)
		}
		items, err := scanItems(itemRows)
		if err != nil {
			return nil, storageErr("home section items", err)
		}
		if len(items) == 0 {
			continue
		}
		content.Items = items
		out = append(out, content)
	}
	return out, nil
}
