// Package continuity provides append-only, per-topic event logs with
// replay, so subscribers can catch up on events missed while disconnected
// (spec.md §4.9).
package continuity

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"rabbitwarren/frame"
)

// StoredEvent is a single persisted event in a topic stream.
type StoredEvent struct {
	Seq       uint64
	Timestamp int64
	Lane      uint16
	Topic     string
	Data      string
}

// Engine is the persistence layer for event streams: an in-memory index
// per topic, backed by an append-only log file per topic on disk.
type Engine struct {
	basePath string

	mu      sync.RWMutex
	streams map[string][]StoredEvent
}

// New creates an engine rooted at basePath, creating the directory if
// necessary.
func New(basePath string) (*Engine, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("continuity: create base dir: %w", err)
	}
	return &Engine{
		basePath: basePath,
		streams:  make(map[string][]StoredEvent),
	}, nil
}

func (e *Engine) logPath(topic string) string {
	safe := strings.ReplaceAll(topic, "/", "_")
	return filepath.Join(e.basePath, safe+".log")
}

// Append records an event in memory and appends it to the topic's
// on-disk log. The caller is responsible for passing monotonic sequence
// numbers; the engine does not enforce ordering.
func (e *Engine) Append(topic string, lane uint16, seq uint64, body string) error {
	ts := time.Now().Unix()
	ev := StoredEvent{Seq: seq, Timestamp: ts, Lane: lane, Topic: topic, Data: body}

	e.mu.Lock()
	e.streams[topic] = append(e.streams[topic], ev)
	e.mu.Unlock()

	f, err := os.OpenFile(e.logPath(topic), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("continuity: open log: %w", err)
	}
	defer f.Close()
	line := fmt.Sprintf("%d\t%d\t%d\t%s\n", seq, ts, lane, body)
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("continuity: append log: %w", err)
	}
	return nil
}

// LoadTopic reads an existing topic's log file into memory, replacing
// any in-memory entries for that topic. A missing log file is a no-op.
// Malformed lines (too few fields) are skipped; unparseable numeric
// fields default to zero, matching the reference implementation's
// lenient loader.
func (e *Engine) LoadTopic(topic string) error {
	f, err := os.Open(e.logPath(topic))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("continuity: open log: %w", err)
	}
	defer f.Close()

	var events []StoredEvent
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		parts := strings.SplitN(scanner.Text(), "\t", 4)
		if len(parts) < 4 {
			continue
		}
		seq, _ := strconv.ParseUint(parts[0], 10, 64)
		ts, _ := strconv.ParseInt(parts[1], 10, 64)
		lane, _ := strconv.ParseUint(parts[2], 10, 16)
		events = append(events, StoredEvent{
			Seq:       seq,
			Timestamp: ts,
			Lane:      uint16(lane),
			Topic:     topic,
			Data:      parts[3],
		})
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("continuity: scan log: %w", err)
	}

	e.mu.Lock()
	e.streams[topic] = events
	e.mu.Unlock()
	return nil
}

// Replay returns EVENT frames for topic with sequence greater than since,
// in log order. Pass since=0 to replay the entire stream (valid sequence
// numbers start at 1, per the lane sequencing scheme in package lane).
func (e *Engine) Replay(topic string, since uint64) []*frame.Frame {
	e.mu.RLock()
	events := e.streams[topic]
	out := make([]*frame.Frame, 0, len(events))
	for _, ev := range events {
		if ev.Seq <= since {
			continue
		}
		f := frame.New("EVENT")
		f.SetHeader("Lane", strconv.FormatUint(uint64(ev.Lane), 10))
		f.SetHeader("Seq", strconv.FormatUint(ev.Seq, 10))
		f.SetHeader("Selector", topic)
		f.SetBody([]byte(ev.Data))
		out = append(out, f)
	}
	e.mu.RUnlock()
	return out
}

// Prune trims topic's in-memory history to at most maxEvents entries,
// dropping the oldest first. It does not touch the on-disk log; use
// Compact to rewrite the log file itself.
func (e *Engine) Prune(topic string, maxEvents int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	events := e.streams[topic]
	if len(events) > maxEvents {
		drop := len(events) - maxEvents
		e.streams[topic] = append([]StoredEvent{}, events[drop:]...)
	}
}

// Compact rewrites topic's on-disk log to contain exactly its current
// in-memory entries, atomically (write to a temp file, then rename).
// Unlike Prune, which only trims the in-memory view, Compact is the
// explicit operation that reclaims disk space for events already pruned
// from memory.
func (e *Engine) Compact(topic string) error {
	e.mu.RLock()
	events := append([]StoredEvent{}, e.streams[topic]...)
	e.mu.RUnlock()

	tmp, err := os.CreateTemp(e.basePath, ".compact-*.tmp")
	if err != nil {
		return fmt.Errorf("continuity: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	w := bufio.NewWriter(tmp)
	for _, ev := range events {
		line := fmt.Sprintf("%d\t%d\t%d\t%s\n", ev.Seq, ev.Timestamp, ev.Lane, ev.Data)
		if _, err := w.WriteString(line); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("continuity: write temp file: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("continuity: flush temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("continuity: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, e.logPath(topic)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("continuity: rename temp file: %w", err)
	}
	return nil
}
