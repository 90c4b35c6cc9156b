package game

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/openskirmish/skirmish-server-go/internal/game/resolve"
)

// Journal records the resolution event stream of one match so finished
// runs can be replayed or audited later. It subscribes to the match
// broadcaster like any other observer.
type Journal struct {
	MatchID string
	Entries []resolve.Event
	mu      sync.RWMutex
}

// NewJournal creates an empty journal for the match.
func NewJournal(matchID string) *Journal {
	return &Journal{
		MatchID: matchID,
		Entries: make([]resolve.Event, 0, 64),
	}
}

// OnResolutionEvent implements resolve.Observer.
func (j *Journal) OnResolutionEvent(event resolve.Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Entries = append(j.Entries, event)
}

// Size returns the number of recorded events.
func (j *Journal) Size() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.Entries)
}

// Events returns a copy of the full event stream.
func (j *Journal) Events() []resolve.Event {
	j.mu.RLock()
	defer j.mu.RUnlock()
	events := make([]resolve.Event, len(j.Entries))
	copy(events, j.Entries)
	return events
}

// RunEvents returns the events of a single resolution run in order.
func (j *Journal) RunEvents(runID string) []resolve.Event {
	j.mu.RLock()
	defer j.mu.RUnlock()
	events := make([]resolve.Event, 0, 8)
	for _, event := range j.Entries {
		if event.RunID == runID {
			events = append(events, event)
		}
	}
	return events
}

// RunIDs returns the distinct run ids in first-seen order.
func (j *Journal) RunIDs() []string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	seen := make(map[string]struct{}, 8)
	ids := make([]string, 0, 8)
	for _, event := range j.Entries {
		if event.RunID == "" {
			continue
		}
		if _, ok := seen[event.RunID]; ok {
			continue
		}
		seen[event.RunID] = struct{}{}
		ids = append(ids, event.RunID)
	}
	return ids
}

// journalMetadata is the header written ahead of the event stream.
type journalMetadata struct {
	MatchID    string
	Timestamp  time.Time
	Version    int
	EntryCount int
}

// SaveToFile writes the journal to <directory>/<matchID>.journal as a
// gzipped gob stream.
func (j *Journal) SaveToFile(directory string) error {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if err := os.MkdirAll(directory, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	filename := filepath.Join(directory, fmt.Sprintf("%s.journal", j.MatchID))
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	gzipWriter := gzip.NewWriter(file)
	encoder := gob.NewEncoder(gzipWriter)

	metadata := journalMetadata{
		MatchID:    j.MatchID,
		Timestamp:  time.Now(),
		Version:    1,
		EntryCount: len(j.Entries),
	}
	if err := encoder.Encode(&metadata); err != nil {
		gzipWriter.Close()
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	for i := range j.Entries {
		if err := encoder.Encode(&j.Entries[i]); err != nil {
			gzipWriter.Close()
			return fmt.Errorf("failed to encode event %d: %w", i, err)
		}
	}
	if err := gzipWriter.Close(); err != nil {
		return fmt.Errorf("failed to flush journal: %w", err)
	}
	return nil
}

// LoadJournalFromFile reads a journal previously written with SaveToFile.
func LoadJournalFromFile(directory, matchID string) (*Journal, error) {
	filename := filepath.Join(directory, fmt.Sprintf("%s.journal", matchID))

	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	gzipReader, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gzipReader.Close()

	decoder := gob.NewDecoder(gzipReader)

	var metadata journalMetadata
	if err := decoder.Decode(&metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	if metadata.Version != 1 {
		return nil, fmt.Errorf("unsupported journal version: %d", metadata.Version)
	}

	journal := NewJournal(metadata.MatchID)
	for i := 0; i < metadata.EntryCount; i++ {
		var event resolve.Event
		if err := decoder.Decode(&event); err != nil {
			return nil, fmt.Errorf("failed to decode event %d: %w", i, err)
		}
		journal.Entries = append(journal.Entries, event)
	}
	return journal, nil
}
