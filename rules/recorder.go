package rules

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Record is the result of a single rule run.
// It contains the trigger and other metadata that was used to execute the rule.
type Record struct {
	ID        string        `json:"id"`
	Def       Definition    `json:"definition"`
	Trigger   string        `json:"trigger,omitempty"`
	Async     bool          `json:"async"`
	Duration  time.Duration `json:"duration"`
	Timestamp *time.Time    `json:"timestamp"`
	Err       *RecordError  `json:"error"`
}

// NewRecord creates a new record for a completed rule run.
func NewRecord(def Definition, trigger string, async bool, duration time.Duration, err error) Record {
	now := time.Now()
	r := Record{
		ID:        uuid.New().String(),
		Def:       def,
		Trigger:   trigger,
		Async:     async,
		Duration:  duration,
		Timestamp: &now,
	}
	if err != nil {
		r.Err = &RecordError{Message: err.Error()}
	}

	return r
}

// RecordError represents an error in the Record.
// Its purpose is to have an exported field `Message` for marshalling as the
// native error cant be marshaled to JSON.
type RecordError struct {
	Message string `json:"message"`
}

// Error implements the error interface.
func (e RecordError) Error() string {
	return e.Message
}

var ErrRecordNotFound = errors.New("record not found")

// Recorder manages rule run records. It can store them in memory, in the FS, etc.
type Recorder interface {
	GetRecord(id string) (Record, error)
	GetRecords() ([]Record, error)
	AddRecord(rec Record) error
}

// MemoryRecorder stores records in memory.
// This is thread-safe and can be used in a multi-threaded environment.
type MemoryRecorder struct {
	records []Record
	mu      sync.RWMutex
}

type MemoryRecorderOption func(*MemoryRecorder)

// WithRecords is an option to initialize the MemoryRecorder with a list of records.
func WithRecords(records []Record) MemoryRecorderOption {
	return func(mr *MemoryRecorder) {
		mr.records = records
	}
}

// NewMemoryRecorder creates a new MemoryRecorder.
// It can be initialized with a list of records using the WithRecords option.
func NewMemoryRecorder(options ...MemoryRecorderOption) *MemoryRecorder {
	recorder := &MemoryRecorder{}
	for _, opt := range options {
		opt(recorder)
	}

	return recorder
}

// AddRecord adds a record to the memory recorder.
func (m *MemoryRecorder) AddRecord(rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = append(m.records, rec)

	return nil
}

// GetRecords returns all records.
func (m *MemoryRecorder) GetRecords() ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Create a copy to avoid data races after returning
	records := make([]Record, len(m.records))
	copy(records, m.records)

	return records, nil
}

// GetRecord returns a record by ID.
// Returns ErrRecordNotFound if the record is not found.
func (m *MemoryRecorder) GetRecord(id string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, rec := range m.records {
		if rec.ID == id {
			return rec, nil
		}
	}

	return Record{}, fmt.Errorf("record_id %s: %w", id, ErrRecordNotFound)
}
