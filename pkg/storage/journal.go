package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/uhyunpark/hyperswap/pkg/exchange/record"
)

// Journal appends one JSON line per settled match. It is a record.Sink.
type Journal interface {
	record.Sink
	Close() error
}

type NopJournal struct{}

func NewNopJournal() *NopJournal { return &NopJournal{} }

func (NopJournal) Publish(context.Context, record.Event) error { return nil }
func (NopJournal) Close() error                                { return nil }

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

func (j *FileJournal) Publish(_ context.Context, ev record.Event) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	_, err = fmt.Fprintln(j.f, string(line))
	return err
}

func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}

var _ Journal = (*NopJournal)(nil)
var _ Journal = (*FileJournal)(nil)
