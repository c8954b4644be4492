// Package recognition reconciles noisy plate reads into one plate per vehicle.
package recognition

import (
	"strings"
	"sync"
	"time"

	"github.com/BrandonDHaskell/lotgate/internal/lotgate/types"
)

const DefaultWindow = 3

type Config struct {
	// Window is how many valid reads are collected before a vote.
	// Defaults to DefaultWindow.
	Window int

	// Prefix anchors the plate inside a longer read: the plate is the
	// PlateLen characters starting at the first occurrence of Prefix.
	// Empty means the whole read must be the plate.
	Prefix string

	// Cooldown is how long a Mark suppresses the same plate.
	Cooldown time.Duration

	// LastOnly keeps a single mark: marking a plate forgets the previous
	// one, so only a repeat of the most recent plate is suppressed.
	LastOnly bool
}

// Buffer collects valid reads from one lane, emits the majority once the
// window fills, and remembers recently acted-on plates.
type Buffer struct {
	mu       sync.Mutex
	window   int
	prefix   string
	cooldown time.Duration
	lastOnly bool
	reads    []string
	marks    map[string]time.Time
}

func NewBuffer(cfg Config) *Buffer {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	return &Buffer{
		window:   cfg.Window,
		prefix:   strings.ToUpper(cfg.Prefix),
		cooldown: cfg.Cooldown,
		lastOnly: cfg.LastOnly,
		reads:    make([]string, 0, cfg.Window),
		marks:    make(map[string]time.Time),
	}
}

// Candidate extracts a plate from a raw read.  ok is false for noise.
func (b *Buffer) Candidate(raw string) (string, bool) {
	s := strings.ToUpper(strings.Join(strings.Fields(raw), ""))
	if b.prefix != "" {
		i := strings.Index(s, b.prefix)
		if i < 0 || len(s)-i < types.PlateLen {
			return "", false
		}
		s = s[i : i+types.PlateLen]
	}
	return types.NormalizePlate(s)
}

// Push adds one raw read.  When the read fills the window the majority
// plate is returned with ok=true and the window starts over.  Ties go to
// the value seen first.  Noise is dropped without touching the window.
func (b *Buffer) Push(raw string) (string, bool) {
	plate, ok := b.Candidate(raw)
	if !ok {
		return "", false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.reads = append(b.reads, plate)
	if len(b.reads) < b.window {
		return "", false
	}
	winner := majority(b.reads)
	b.reads = b.reads[:0]
	return winner, true
}

func majority(reads []string) string {
	counts := make(map[string]int, len(reads))
	best, bestN := "", 0
	for _, r := range reads {
		counts[r]++
	}
	for _, r := range reads {
		if counts[r] > bestN {
			best, bestN = r, counts[r]
		}
	}
	return best
}

// Mark records that the lane acted on plate at now.
func (b *Buffer) Mark(plate string, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for p, at := range b.marks {
		if b.lastOnly || now.Sub(at) >= b.cooldown {
			delete(b.marks, p)
		}
	}
	b.marks[plate] = now
}

// Suppressed reports whether plate was marked less than the cooldown ago.
func (b *Buffer) Suppressed(plate string, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	at, ok := b.marks[plate]
	return ok && now.Sub(at) < b.cooldown
}

// Reset drops any partial window.  Marks are kept.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reads = b.reads[:0]
}

// Pending is the number of reads waiting for a vote.
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.reads)
}
