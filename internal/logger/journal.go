package logger

import (
	"sync"
	"time"

	"catwatch/internal/dto"
)

// Journal is the log panel shown on the page. Entries are kept for the life
// of the process and listed newest first.
type Journal struct {
	mu          sync.RWMutex
	entries     []dto.LogEntry
	subscribers map[int]func(dto.LogEntry)
	nextID      int
	logger      *Logger
	now         func() time.Time
}

// NewJournal creates a Journal that mirrors every entry into logger (may be nil).
func NewJournal(logger *Logger) *Journal {
	return &Journal{
		subscribers: make(map[int]func(dto.LogEntry)),
		logger:      logger,
		now:         time.Now,
	}
}

// Log appends an entry. raw is optional data rendered preformatted below the message.
func (j *Journal) Log(message string, isError bool, raw string) dto.LogEntry {
	entry := dto.LogEntry{
		Time:    j.now(),
		Message: message,
		IsError: isError,
		Raw:     raw,
	}

	j.mu.Lock()
	j.entries = append(j.entries, entry)
	subs := make([]func(dto.LogEntry), 0, len(j.subscribers))
	for _, fn := range j.subscribers {
		subs = append(subs, fn)
	}
	j.mu.Unlock()

	if j.logger != nil {
		line := message
		if raw != "" {
			line += " " + raw
		}
		if isError {
			j.logger.Error("%s", line)
		} else {
			j.logger.Info("%s", line)
		}
	}

	for _, fn := range subs {
		fn(entry)
	}
	return entry
}

// Info is shorthand for Log(message, false, "").
func (j *Journal) Info(message string) {
	j.Log(message, false, "")
}

// Error is shorthand for Log(message, true, "").
func (j *Journal) Error(message string) {
	j.Log(message, true, "")
}

// Entries returns a copy of all entries, newest first.
func (j *Journal) Entries() []dto.LogEntry {
	j.mu.RLock()
	defer j.mu.RUnlock()

	out := make([]dto.LogEntry, len(j.entries))
	for i, e := range j.entries {
		out[len(j.entries)-1-i] = e
	}
	return out
}

// Subscribe registers fn for every future entry and returns a function removing it.
// fn runs on the goroutine calling Log and must not block.
func (j *Journal) Subscribe(fn func(dto.LogEntry)) func() {
	j.mu.Lock()
	id := j.nextID
	j.nextID++
	j.subscribers[id] = fn
	j.mu.Unlock()

	return func() {
		j.mu.Lock()
		delete(j.subscribers, id)
		j.mu.Unlock()
	}
}
