package watcher

import (
	"fmt"
	"os"
	"time"
)

type fileSnapshot struct {
	modTime time.Time
	size    int64
}

// poller detects inbox changes by comparing directory listings. It is the
// fallback when fsnotify cannot be used.
type poller struct {
	dir   string
	state map[string]fileSnapshot
}

func newPoller(dir string) *poller {
	return &poller{dir: dir, state: make(map[string]fileSnapshot)}
}

// list returns the record files currently in the inbox.
func (p *poller) list() (map[string]fileSnapshot, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return nil, fmt.Errorf("read inbox: %w", err)
	}
	out := make(map[string]fileSnapshot, len(entries))
	for _, e := range entries {
		if e.IsDir() || !IsRecordFile(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Moved away between listing and stat.
			continue
		}
		out[e.Name()] = fileSnapshot{modTime: info.ModTime(), size: info.Size()}
	}
	return out, nil
}

// baseline records the current listing without reporting it.
func (p *poller) baseline() error {
	current, err := p.list()
	if err != nil {
		return err
	}
	p.state = current
	return nil
}

// changes returns the events since the previous call.
func (p *poller) changes(now time.Time) ([]FileEvent, error) {
	current, err := p.list()
	if err != nil {
		return nil, err
	}

	var events []FileEvent
	for name, snap := range current {
		prev, ok := p.state[name]
		switch {
		case !ok:
			events = append(events, FileEvent{Path: name, Operation: OpCreate, Timestamp: now})
		case prev != snap:
			events = append(events, FileEvent{Path: name, Operation: OpModify, Timestamp: now})
		}
	}
	for name := range p.state {
		if _, ok := current[name]; !ok {
			events = append(events, FileEvent{Path: name, Operation: OpDelete, Timestamp: now})
		}
	}
	p.state = current
	return events, nil
}
