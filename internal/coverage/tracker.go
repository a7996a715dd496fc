package coverage

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"
)

// Construction and lookup errors
var (
	ErrInvalidK           = errors.New("combination size must be at least 1")
	ErrEmptyName          = errors.New("api name is empty")
	ErrReservedCharacter  = errors.New("api name contains a NUL byte")
	ErrDuplicateName      = errors.New("duplicate api name")
	ErrMissingDetail      = errors.New("api name has no detail record")
	ErrUnknownCombination = errors.New("combination is not part of the universe")
)

// Config holds the construction parameters of a Tracker.
type Config struct {
	// K is the size of every combination.
	K int
	// Parallelism bounds the enumeration workers. Zero or less means
	// runtime.GOMAXPROCS(0).
	Parallelism int
	// Seed fixes the sampling source. Nil seeds from the clock.
	Seed *int64
}

// Selection is a sampled combination together with the detail record of
// each member.
type Selection[D any] struct {
	Combination Combination
	Details     map[string]D
}

// Names returns the member names in canonical order.
func (s Selection[D]) Names() []string {
	return s.Combination.Names()
}

// Stats is a point-in-time view of coverage.
type Stats struct {
	K         int     `json:"k"`
	Universe  int     `json:"universe"`
	Covered   int     `json:"covered"`
	Uncovered int     `json:"uncovered"`
	Ratio     float64 `json:"ratio"`
}

// Tracker owns every size-K combination over a set of named items and
// records which of them have been exercised.
//
// Covered and uncovered are updated together under one mutex, so every
// method is safe for concurrent use.
type Tracker[D any] struct {
	k        int
	details  map[string]D
	universe map[string]struct{}

	mu        sync.Mutex
	covered   map[string]Combination
	uncovered []Combination
	position  map[string]int
	rng       *rand.Rand
}

// NewTracker validates the catalog and enumerates the full universe of
// size-K combinations before returning. It blocks until every enumeration
// partition has finished; if any fails, no tracker is returned.
func NewTracker[D any](ctx context.Context, names []string, details map[string]D, cfg Config) (*Tracker[D], error) {
	if cfg.K <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidK, cfg.K)
	}

	seen := make(map[string]struct{}, len(names))
	own := make(map[string]D, len(names))
	for _, name := range names {
		if name == "" {
			return nil, ErrEmptyName
		}
		if strings.Contains(name, keySeparator) {
			return nil, fmt.Errorf("%w: %q", ErrReservedCharacter, name)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateName, name)
		}
		seen[name] = struct{}{}

		detail, ok := details[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrMissingDetail, name)
		}
		own[name] = detail
	}

	sorted := make([]string, 0, len(seen))
	for name := range seen {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	combos, err := enumerate(ctx, sorted, cfg.K, cfg.Parallelism)
	if err != nil {
		return nil, fmt.Errorf("enumerate combinations: %w", err)
	}

	seed := time.Now().UnixNano()
	if cfg.Seed != nil {
		seed = *cfg.Seed
	}

	t := &Tracker[D]{
		k:         cfg.K,
		details:   own,
		universe:  make(map[string]struct{}, len(combos)),
		covered:   make(map[string]Combination),
		uncovered: make([]Combination, 0, len(combos)),
		position:  make(map[string]int, len(combos)),
		rng:       rand.New(rand.NewSource(seed)),
	}
	for _, c := range combos {
		if _, dup := t.universe[c.key]; dup {
			continue
		}
		t.universe[c.key] = struct{}{}
		t.position[c.key] = len(t.uncovered)
		t.uncovered = append(t.uncovered, c)
	}
	return t, nil
}

// K returns the combination size.
func (t *Tracker[D]) K() int {
	return t.k
}

// Size returns the number of combinations in the universe.
func (t *Tracker[D]) Size() int {
	return len(t.universe)
}

// Contains reports whether c belongs to the universe.
func (t *Tracker[D]) Contains(c Combination) bool {
	_, ok := t.universe[c.key]
	return ok && c.Len() == t.k
}

// Sample draws one uncovered combination uniformly at random. It returns
// false once every combination is covered. Sampling never marks anything
// covered.
func (t *Tracker[D]) Sample() (Selection[D], bool) {
	t.mu.Lock()
	if len(t.uncovered) == 0 {
		t.mu.Unlock()
		return Selection[D]{}, false
	}
	c := t.uncovered[t.rng.Intn(len(t.uncovered))]
	t.mu.Unlock()

	details := make(map[string]D, len(c.names))
	for _, name := range c.names {
		details[name] = t.details[name]
	}
	return Selection[D]{Combination: c, Details: details}, true
}

// ReportCovered moves c from uncovered to covered. Reporting a covered
// combination again, or one outside the universe, does nothing.
func (t *Tracker[D]) ReportCovered(c Combination) {
	_ = t.MarkCovered(c)
}

// MarkCovered is ReportCovered that returns ErrUnknownCombination for
// combinations outside the universe.
func (t *Tracker[D]) MarkCovered(c Combination) error {
	if !t.Contains(c) {
		return fmt.Errorf("%w: %s", ErrUnknownCombination, c)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	i, ok := t.position[c.key]
	if !ok {
		return nil
	}
	member := t.uncovered[i]
	last := len(t.uncovered) - 1
	if i != last {
		moved := t.uncovered[last]
		t.uncovered[i] = moved
		t.position[moved.key] = i
	}
	t.uncovered = t.uncovered[:last]
	delete(t.position, c.key)
	t.covered[c.key] = member
	return nil
}

// IsCovered reports whether c has been reported.
func (t *Tracker[D]) IsCovered(c Combination) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.covered[c.key]
	return ok
}

// Exhausted reports whether no uncovered combination remains.
func (t *Tracker[D]) Exhausted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.uncovered) == 0
}

// Ratio returns covered/universe, or 0 for an empty universe.
func (t *Tracker[D]) Ratio() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ratioLocked()
}

// Percent returns Ratio scaled to 0..100.
func (t *Tracker[D]) Percent() float64 {
	return t.Ratio() * 100
}

// Stats returns a consistent snapshot of the counters.
func (t *Tracker[D]) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Stats{
		K:         t.k,
		Universe:  len(t.universe),
		Covered:   len(t.covered),
		Uncovered: len(t.uncovered),
		Ratio:     t.ratioLocked(),
	}
}

// Covered returns the covered combinations sorted by key.
func (t *Tracker[D]) Covered() []Combination {
	t.mu.Lock()
	out := make([]Combination, 0, len(t.covered))
	for _, c := range t.covered {
		out = append(out, c)
	}
	t.mu.Unlock()

	sortCombinations(out)
	return out
}

// Uncovered returns the uncovered combinations sorted by key.
func (t *Tracker[D]) Uncovered() []Combination {
	t.mu.Lock()
	out := make([]Combination, len(t.uncovered))
	copy(out, t.uncovered)
	t.mu.Unlock()

	sortCombinations(out)
	return out
}

func (t *Tracker[D]) ratioLocked() float64 {
	if len(t.universe) == 0 {
		return 0.0
	}
	return float64(len(t.covered)) / float64(len(t.universe))
}

func sortCombinations(cs []Combination) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].key < cs[j].key })
}
