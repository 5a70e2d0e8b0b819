// Package refcount tracks, per (collection, id), how many publication paths
// currently claim a document. A document may be reachable through several
// branches of a composite publication at once; it must only be reported
// removed to the client once the last branch releases it.
package refcount

import "github.com/kartikbazzad/bunpub/internal/types"

// OnChange fires on every effective decrement with the new count, including
// counts above zero. The caller owns the zero-check policy.
type OnChange func(collection, id string, count int)

// Counter is not safe for concurrent use; callers serialize access per
// subscription (see livequery.Runner).
type Counter struct {
	counts   map[types.DocKey]int
	onChange OnChange
}

func New(onChange OnChange) *Counter {
	return &Counter{
		counts:   make(map[types.DocKey]int),
		onChange: onChange,
	}
}

// Increment raises the count for the key by one, starting from zero when the
// key is absent. Increment never fires OnChange.
func (c *Counter) Increment(collection, id string) {
	c.counts[types.DocKey{Collection: collection, ID: id}]++
}

// Decrement lowers the count by one and fires OnChange with the new count.
// Decrementing an absent or zero key is a no-op and fires nothing, so a
// count can never go below zero.
func (c *Counter) Decrement(collection, id string) {
	key := types.DocKey{Collection: collection, ID: id}
	n, ok := c.counts[key]
	if !ok || n < 1 {
		return
	}
	n--
	if n == 0 {
		delete(c.counts, key)
	} else {
		c.counts[key] = n
	}
	if c.onChange != nil {
		c.onChange(collection, id, n)
	}
}

// Count returns the current count; absent keys read as zero.
func (c *Counter) Count(collection, id string) int {
	return c.counts[types.DocKey{Collection: collection, ID: id}]
}

// Len returns the number of keys with a non-zero count.
func (c *Counter) Len() int {
	return len(c.counts)
}

// Reset drops all counts without firing OnChange.
func (c *Counter) Reset() {
	c.counts = make(map[types.DocKey]int)
}
