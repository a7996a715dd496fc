package coverage

import (
	"math"
	"math/bits"
	"sort"
	"strings"
)

// keySeparator joins names into a map key. NewTracker rejects names that
// contain it.
const keySeparator = "\x00"

// Combination is an unordered selection of distinct API names kept in
// sorted order, so equal sets share one Key regardless of discovery order.
type Combination struct {
	names []string
	key   string
}

// NewCombination builds the canonical form of names. Repeated names are
// kept, so a combination with repeats never matches a universe member.
func NewCombination(names ...string) Combination {
	sorted := make([]string, len(names))
	copy(sorted, names)
	sort.Strings(sorted)
	return fromSorted(sorted)
}

// fromSorted wraps names that are already sorted.
func fromSorted(names []string) Combination {
	return Combination{
		names: names,
		key:   strings.Join(names, keySeparator),
	}
}

// Names returns a copy of the member names in canonical order.
func (c Combination) Names() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// Key returns the canonical identity of the combination.
func (c Combination) Key() string {
	return c.key
}

// Len returns the number of members.
func (c Combination) Len() int {
	return len(c.names)
}

// Contains reports whether name is a member.
func (c Combination) Contains(name string) bool {
	i := sort.SearchStrings(c.names, name)
	return i < len(c.names) && c.names[i] == name
}

// Equal reports whether both combinations hold the same members.
func (c Combination) Equal(other Combination) bool {
	return c.key == other.key
}

func (c Combination) String() string {
	return "(" + strings.Join(c.names, ", ") + ")"
}

// CombinationFromKey reverses Key.
func CombinationFromKey(key string) Combination {
	if key == "" {
		return Combination{}
	}
	return NewCombination(strings.Split(key, keySeparator)...)
}

// Binomial returns C(n, k), saturating at math.MaxUint64.
func Binomial(n, k int) uint64 {
	if k < 0 || n < 0 || k > n {
		return 0
	}
	if k > n-k {
		k = n - k
	}
	result := uint64(1)
	for i := 0; i < k; i++ {
		// result*(n-i)/(i+1) is C(n, i+1). Dividing out the common factor
		// first keeps the product within range whenever C(n, i+1) is.
		divisor := uint64(i + 1)
		g := gcd(result, divisor)
		factor := uint64(n-i) / (divisor / g)
		hi, lo := bits.Mul64(result/g, factor)
		if hi != 0 {
			return math.MaxUint64
		}
		result = lo
	}
	return result
}

func gcd(a, b uint64) uint64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
