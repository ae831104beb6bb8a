// Package checkpoint records which stations have been fully downloaded so an
// interrupted run resumes where it stopped.
package checkpoint

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// DurableSet is an append-only set of station ids that survives restarts.
type DurableSet interface {
	Contains(id string) bool
	Add(id string) error
	Len() int
}

// FileSet keeps one id per line in a text file. The file is read once on
// open; every Add appends and syncs before returning.
type FileSet struct {
	mu   sync.Mutex
	path string
	ids  map[string]struct{}
}

func OpenFileSet(path string) (*FileSet, error) {
	s := &FileSet{path: path, ids: make(map[string]struct{})}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if id := strings.TrimSpace(scanner.Text()); id != "" {
			s.ids[id] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return s, nil
}

func (s *FileSet) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

func (s *FileSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

func (s *FileSet) Add(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ids[id]; ok {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.path, err)
	}
	if _, err := f.WriteString(id + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("append to %s: %w", s.path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync %s: %w", s.path, err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	s.ids[id] = struct{}{}
	return nil
}

// Ledger tracks completed and failed stations for one target year. Failed
// stations are retried on the next run; only done stations are skipped.
type Ledger struct {
	done   DurableSet
	failed DurableSet
}

func NewLedger(done, failed DurableSet) *Ledger {
	return &Ledger{done: done, failed: failed}
}

// OpenFileLedger opens climate_{year}_done.txt and climate_{year}_failed.txt
// in dir.
func OpenFileLedger(dir string, year int) (*Ledger, error) {
	done, err := OpenFileSet(filepath.Join(dir, "climate_"+strconv.Itoa(year)+"_done.txt"))
	if err != nil {
		return nil, err
	}
	failed, err := OpenFileSet(filepath.Join(dir, "climate_"+strconv.Itoa(year)+"_failed.txt"))
	if err != nil {
		return nil, err
	}
	return NewLedger(done, failed), nil
}

func (l *Ledger) IsDone(id string) bool {
	return l.done.Contains(id)
}

func (l *Ledger) MarkDone(id string) error {
	if err := l.done.Add(id); err != nil {
		return fmt.Errorf("mark %s done: %w", id, err)
	}
	return nil
}

func (l *Ledger) MarkFailed(id string) error {
	if err := l.failed.Add(id); err != nil {
		return fmt.Errorf("mark %s failed: %w", id, err)
	}
	return nil
}

// Counts returns the number of done and failed stations recorded.
func (l *Ledger) Counts() (done, failed int) {
	return l.done.Len(), l.failed.Len()
}
