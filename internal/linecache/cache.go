// Package linecache bounds the memory a mirrored pane spends on
// fetched rows. Render deltas dirty arbitrary stable rows, so the
// cache is keyed by stable row index; when the byte budget fills,
// the rows touched longest ago are evicted. A re-fetch repopulates
// anything evicted too eagerly.
package linecache

import (
	"container/list"
	"sync"

	"github.com/remux-dev/remux/internal/codec"
)

// DefaultBudget bounds one pane's cached rows.
const DefaultBudget = 1 << 20

type entry struct {
	row  codec.StableRowIndex
	text string
}

// Cache is a byte-budgeted row store. Reads refresh recency.
//
// Cache is safe for concurrent use.
type Cache struct {
	mu     sync.Mutex
	rows   map[codec.StableRowIndex]*list.Element
	order  *list.List // front = most recently touched
	size   int        // total text bytes stored
	budget int
}

func New(budgetBytes int) *Cache {
	if budgetBytes <= 0 {
		budgetBytes = DefaultBudget
	}
	return &Cache{
		rows:   make(map[codec.StableRowIndex]*list.Element),
		order:  list.New(),
		budget: budgetBytes,
	}
}

// Put stores one row's text, replacing any previous content for that
// row. Cold rows are evicted until the budget holds; the row just
// written always survives, even alone over budget.
func (c *Cache) Put(row codec.StableRowIndex, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.rows[row]; ok {
		e := el.Value.(*entry)
		c.size += len(text) - len(e.text)
		e.text = text
		c.order.MoveToFront(el)
	} else {
		c.rows[row] = c.order.PushFront(&entry{row: row, text: text})
		c.size += len(text)
	}

	for c.size > c.budget && c.order.Len() > 1 {
		c.evictOldest()
	}
}

// Get returns the cached text for a row and refreshes its recency.
func (c *Cache) Get(row codec.StableRowIndex) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.rows[row]
	if !ok {
		return "", false
	}
	c.order.MoveToFront(el)
	return el.Value.(*entry).text, true
}

// Len reports how many rows are cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Bytes reports the total cached text size.
func (c *Cache) Bytes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// evictOldest drops the least recently touched row. Caller must hold
// c.mu and ensure the cache is not empty.
func (c *Cache) evictOldest() {
	el := c.order.Back()
	e := el.Value.(*entry)
	c.order.Remove(el)
	delete(c.rows, e.row)
	c.size -= len(e.text)
}
