package common

import (
	"bufio"
	"io"
	"sort"
	"strconv"
	"time"
)

// Sample is one captured stack with its value (cpu samples or allocated bytes).
// Stack is ordered root first. A Sample must not be modified once captured.
type Sample struct {
	Stack     []string
	Value     int64
	Timestamp time.Time
}

// Profile is the aggregation of one flush window [Start, End).
// Stacks maps a folded stack to its cumulative value.
type Profile struct {
	Type        ProfileType
	Start       time.Time
	End         time.Time
	Stacks      map[string]int64
	SampleCount int64
}

// Empty reports whether p holds no stacks. A nil profile is empty.
func (p *Profile) Empty() bool {
	return p == nil || len(p.Stacks) == 0
}

// Total is the sum of all stack values.
func (p *Profile) Total() int64 {
	var sum int64
	for _, v := range p.Stacks {
		sum += v
	}
	return sum
}

// SortedStacks returns folded stacks in lexicographic order.
func (p *Profile) SortedStacks() []string {
	keys := make([]string, 0, len(p.Stacks))
	for k := range p.Stacks {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// WriteFolded writes one "stack value" line per folded stack, sorted by stack.
// The same set of stacks always produces the same bytes.
func (p *Profile) WriteFolded(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, k := range p.SortedStacks() {
		_, _ = bw.WriteString(k)
		_ = bw.WriteByte(' ')
		_, _ = bw.WriteString(strconv.FormatInt(p.Stacks[k], 10))
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}
