package tableio

import (
	"context"
	"fmt"
	"strings"
)

// TableInfo summarizes one versioned model table for observability surfaces.
type TableInfo struct {
	Model    string
	Table    string
	Rows     int64
	Entities int64
}

// Tables discovers the versioned model tables present in the database and
// their row/entity counts. The model name is derived back from the table
// name; the mapping is lossy for names containing literal underscores, so it
// is display text only.
func (s *Store) Tables(ctx context.Context) ([]TableInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name LIKE 't\_%' ESCAPE '\' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list model tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	infos := make([]TableInfo, 0, len(names))
	for _, name := range names {
		info := TableInfo{
			Model: strings.ReplaceAll(strings.TrimPrefix(name, "t_"), "_", "."),
			Table: name,
		}
		count := fmt.Sprintf(`SELECT COUNT(1), COUNT(DISTINCT entity_id) FROM %s`, name)
		if err := s.db.QueryRowContext(ctx, count).Scan(&info.Rows, &info.Entities); err != nil {
			return nil, fmt.Errorf("count rows in %s: %w", name, err)
		}
		infos = append(infos, info)
	}
	return infos, nil
}
