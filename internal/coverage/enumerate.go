package coverage

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// cancelCheckInterval is how many combinations a partition emits between
// context checks.
const cancelCheckInterval = 4096

// enumerate returns every k-subset of sorted. Work is partitioned by the
// smallest member: partition i fixes sorted[i] and chooses the remaining
// k-1 members from sorted[i+1:]. Partitions share no state; each writes
// only its own slot and the slots are joined after every worker finishes.
func enumerate(ctx context.Context, sorted []string, k, parallelism int) ([]Combination, error) {
	n := len(sorted)
	if n == 0 || k > n {
		return nil, nil
	}
	if parallelism <= 0 {
		parallelism = runtime.GOMAXPROCS(0)
	}

	parts := make([][]Combination, n-k+1)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i := range parts {
		i := i
		g.Go(func() error {
			combos, err := enumeratePartition(gctx, sorted[i], sorted[i+1:], k)
			if err != nil {
				return err
			}
			parts[i] = combos
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := 0
	for _, part := range parts {
		total += len(part)
	}
	all := make([]Combination, 0, total)
	for _, part := range parts {
		all = append(all, part...)
	}
	return all, nil
}

// enumeratePartition emits first combined with every (k-1)-subset of rest.
// rest must be sorted and every element must sort after first.
func enumeratePartition(ctx context.Context, first string, rest []string, k int) ([]Combination, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k == 1 {
		return []Combination{fromSorted([]string{first})}, nil
	}

	r := k - 1
	m := len(rest)
	if r > m {
		return nil, nil
	}

	out := make([]Combination, 0, capacityHint(m, r))
	idx := make([]int, r)
	for i := range idx {
		idx[i] = i
	}

	for emitted := 1; ; emitted++ {
		names := make([]string, 0, k)
		names = append(names, first)
		for _, j := range idx {
			names = append(names, rest[j])
		}
		out = append(out, fromSorted(names))

		if emitted%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		// Advance idx to the next r-subset in lexicographic order.
		i := r - 1
		for i >= 0 && idx[i] == m-r+i {
			i--
		}
		if i < 0 {
			return out, nil
		}
		idx[i]++
		for j := i + 1; j < r; j++ {
			idx[j] = idx[j-1] + 1
		}
	}
}

func capacityHint(n, k int) int {
	const maxHint = 1 << 20
	c := Binomial(n, k)
	if c > maxHint {
		return maxHint
	}
	return int(c)
}
