package storage

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/fundswap/swapd/pkg/swap"
)

// Journal is an append-only audit trail of settlement events, one JSON
// line per event. It complements the Pebble store: the store holds
// current state, the journal holds history.
type Journal interface {
	Append(ev swap.Event)
}

type NopJournal struct{}

func NewNopJournal() *NopJournal { return &NopJournal{} }

func (j *NopJournal) Append(swap.Event) {}

type FileJournal struct {
	mu sync.Mutex
	f  *os.File
}

func NewFileJournal(path string) (*FileJournal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileJournal{f: f}, nil
}

func (j *FileJournal) Append(ev swap.Event) {
	line, err := json.Marshal(ev)
	if err != nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.f.Write(append(line, '\n'))
}

func (j *FileJournal) Close() error { return j.f.Close() }

var _ Journal = (*NopJournal)(nil)
var _ Journal = (*FileJournal)(nil)
