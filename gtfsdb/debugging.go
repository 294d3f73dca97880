package gtfsdb

import (
	"context"
	"fmt"

	"tripcards.app/internal/logging"
)

var countedTables = map[string]string{
	"stops":           "SELECT COUNT(*) FROM stops",
	"routes":          "SELECT COUNT(*) FROM routes",
	"trips":           "SELECT COUNT(*) FROM trips",
	"stop_times":      "SELECT COUNT(*) FROM stop_times",
	"services":        "SELECT COUNT(*) FROM services",
	"import_metadata": "SELECT COUNT(*) FROM import_metadata",
}

// TableCounts returns row counts for the snapshot tables that exist.
func (c *Client) TableCounts(ctx context.Context) (map[string]int, error) {
	rows, err := c.DB.QueryContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'")
	if err != nil {
		return nil, fmt.Errorf("failed to query table names: %w", err)
	}
	defer logging.SafeCloseWithLogging(rows, c.logger, "database_rows")

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, table := range tables {
		query, ok := countedTables[table]
		if !ok {
			continue
		}
		var n int
		if err := c.DB.QueryRowContext(ctx, query).Scan(&n); err != nil {
			return nil, err
		}
		counts[table] = n
	}
	return counts, nil
}

// ServiceWindow is the first and last service date present, as YYYYMMDD.
func (c *Client) ServiceWindow(ctx context.Context) (int, int, error) {
	from, to, err := c.Queries.GetServiceDateRange(ctx)
	return int(from), int(to), err
}
