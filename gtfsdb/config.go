package gtfsdb

import "tripcards.app/internal/appconf"

// Config describes one snapshot database.
type Config struct {
	DBPath string
	// ScratchDir receives a private copy of a read-only snapshot that SQLite
	// cannot open in place. Empty means os.TempDir().
	ScratchDir string
	// AlwaysCopy skips the in-place open attempt.
	AlwaysCopy bool
	Env        appconf.Environment
	Verbose    bool

	BulkInsertBatchSize int
}

func (c Config) batchSize() int {
	if c.BulkInsertBatchSize > 0 {
		return c.BulkInsertBatchSize
	}
	// 5 columns per stop_times row keeps a batch under SQLite's 32766 variable limit.
	return 3000
}
