package pool

import (
	"container/list"

	"github.com/go-sevenzip/sevenzip/internal/util"
)

type queueID int

const (
	queueSmall queueID = iota
	queueMain
)

// ghostList is a FIFO-ordered set with a bounded capacity: it remembers
// recently evicted keys so a re-insertion can be recognised as a "second
// chance" candidate for promotion straight into the main queue. Removal is
// lazy — remove only drops the key from the membership set, leaving a
// tombstone in the queue that eviction skips over.
type ghostList struct {
	member   map[int64]struct{}
	queue    *list.List
	capacity int
}

func newGhostList(capacity int) *ghostList {
	return &ghostList{member: make(map[int64]struct{}), queue: list.New(), capacity: capacity}
}

func (g *ghostList) contains(key int64) bool {
	_, ok := g.member[key]

	return ok
}

func (g *ghostList) insert(key int64) {
	if g.contains(key) {
		return
	}

	for len(g.member) >= g.capacity {
		if g.evictOldest() == nil {
			break
		}
	}

	g.member[key] = struct{}{}
	g.queue.PushFront(key)
}

func (g *ghostList) remove(key int64) {
	delete(g.member, key)
}

func (g *ghostList) evictOldest() *int64 {
	for e := g.queue.Back(); e != nil; e = g.queue.Back() {
		g.queue.Remove(e)

		key, _ := e.Value.(int64)
		if _, ok := g.member[key]; ok {
			delete(g.member, key)

			return &key
		}
	}

	return nil
}

type valueEntry struct {
	value util.SizeReadSeekCloser
	freq  uint8
}

// s3FifoCache is an S3-FIFO cache: a small FIFO admits newly seen keys, a
// main FIFO holds keys that proved to be reused, and a ghost list of
// recently evicted keys lets a returning key skip straight into main
// instead of restarting in small.
type s3FifoCache struct {
	values   map[int64]*valueEntry
	queueMap map[int64]queueID

	small *list.List
	main  *list.List
	ghost *ghostList

	smallLen, smallCap int
	mainLen, mainCap   int
	capacity           int

	// evicted accumulates values fully evicted (neither promoted nor
	// re-admitted) during the most recent insert, so the caller can
	// release them; drained by the pool after each Put.
	evicted []util.SizeReadSeekCloser
}

func newS3FifoCache(capacity int) *s3FifoCache {
	smallCap := 0
	if capacity != 1 {
		smallCap = capacity / 10
		if smallCap < 1 {
			smallCap = 1
		}
	}

	mainCap := capacity - smallCap

	return &s3FifoCache{
		values:   make(map[int64]*valueEntry),
		queueMap: make(map[int64]queueID),
		small:    list.New(),
		main:     list.New(),
		ghost:    newGhostList(mainCap),
		smallCap: smallCap,
		mainCap:  mainCap,
		capacity: capacity,
	}
}

func (c *s3FifoCache) len() int { return c.smallLen + c.mainLen }

func (c *s3FifoCache) pop(key int64) (util.SizeReadSeekCloser, bool) {
	entry, ok := c.values[key]
	if !ok {
		return nil, false
	}

	delete(c.values, key)

	if qid, ok := c.queueMap[key]; ok {
		delete(c.queueMap, key)

		switch qid {
		case queueSmall:
			c.smallLen--
		case queueMain:
			c.mainLen--
		}
	}

	return entry.value, true
}

func (c *s3FifoCache) insert(key int64, value util.SizeReadSeekCloser) (replaced util.SizeReadSeekCloser, replacedOK bool) {
	if entry, ok := c.values[key]; ok {
		old := entry.value
		entry.value = value

		return old, true
	}

	insertToMain := c.ghost.contains(key) || c.smallCap == 0

	if insertToMain {
		c.ghost.remove(key)

		for c.mainLen >= c.mainCap {
			if !c.evictMain() {
				break
			}
		}

		c.queueMap[key] = queueMain
		c.main.PushFront(key)
		c.mainLen++
	} else {
		for c.smallLen >= c.smallCap {
			if !c.evictSmall() {
				break
			}
		}

		c.queueMap[key] = queueSmall
		c.small.PushFront(key)
		c.smallLen++
	}

	c.values[key] = &valueEntry{value: value}

	return nil, false
}

func (c *s3FifoCache) get(key int64) (util.SizeReadSeekCloser, bool) {
	entry, ok := c.values[key]
	if !ok {
		return nil, false
	}

	if entry.freq < 3 {
		entry.freq++
	}

	return entry.value, true
}

// evictSmall pops the tail of the small queue. A once-seen item is evicted
// outright to the ghost list; an item accessed more than once is promoted
// into main. Returns false if the small queue held nothing evictable.
func (c *s3FifoCache) evictSmall() bool {
	for e := c.small.Back(); e != nil; e = c.small.Back() {
		c.small.Remove(e)

		key, _ := e.Value.(int64)

		entry, ok := c.values[key]
		if !ok {
			continue
		}

		c.smallLen--

		if entry.freq > 1 {
			for c.mainLen >= c.mainCap {
				if !c.evictMain() {
					break
				}
			}

			c.queueMap[key] = queueMain
			c.main.PushBack(key)
			c.mainLen++

			return true
		}

		delete(c.queueMap, key)
		delete(c.values, key)
		c.ghost.insert(key)
		c.evicted = append(c.evicted, entry.value)

		return true
	}

	return false
}

// evictMain pops the tail of the main queue, giving any item with
// remaining frequency one more lap at the front with its frequency
// decremented, and only evicting (with no ghost admission) items that have
// decayed to zero.
func (c *s3FifoCache) evictMain() bool {
	for e := c.main.Back(); e != nil; e = c.main.Back() {
		c.main.Remove(e)

		key, _ := e.Value.(int64)

		entry, ok := c.values[key]
		if !ok {
			continue
		}

		c.mainLen--

		if entry.freq > 0 {
			entry.freq--
			c.main.PushFront(key)
			c.mainLen++

			continue
		}

		delete(c.queueMap, key)
		delete(c.values, key)
		c.evicted = append(c.evicted, entry.value)

		return true
	}

	return false
}
