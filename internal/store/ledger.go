package store

import (
	"fmt"
	"sync"
)

// Ledger kinds.
const (
	LedgerDone   = "done"
	LedgerFailed = "failed"
)

// LedgerSet is a checkpoint.DurableSet stored in the ledger table. Rows are
// only ever inserted; the set is read once when opened.
type LedgerSet struct {
	s    *Store
	kind string
	year int

	mu  sync.Mutex
	ids map[string]struct{}
}

func (s *Store) OpenLedgerSet(kind string, year int) (*LedgerSet, error) {
	rows, err := s.db.Query(`SELECT station_id FROM ledger WHERE kind = ? AND year = ?`, kind, year)
	if err != nil {
		return nil, fmt.Errorf("load %s ledger: %w", kind, err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &LedgerSet{s: s, kind: kind, year: year, ids: ids}, nil
}

func (l *LedgerSet) Contains(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.ids[id]
	return ok
}

func (l *LedgerSet) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ids)
}

func (l *LedgerSet) Add(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.ids[id]; ok {
		return nil
	}
	_, err := l.s.db.Exec(`
		INSERT OR IGNORE INTO ledger (kind, year, station_id, recorded_at)
		VALUES (?, ?, ?, ?)
	`, l.kind, l.year, id, l.s.clock.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert %s ledger row: %w", l.kind, err)
	}
	l.ids[id] = struct{}{}
	return nil
}
