package signing

import (
	"container/list"
	"sync"
	"time"
)

// nonceWindow remembers nonces for ttl, evicting the oldest past capacity.
type nonceWindow struct {
	ttl      time.Duration
	capacity int

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List
}

type observed struct {
	key string
	at  time.Time
}

func newNonceWindow(ttl time.Duration, capacity int) *nonceWindow {
	return &nonceWindow{
		ttl:      clampDuration(ttl, maxNonceTTL),
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

func (n *nonceWindow) contains(key string, now time.Time) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.expire(now.Add(-n.ttl))
	_, ok := n.entries[key]
	return ok
}

func (n *nonceWindow) add(key string, now time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.expire(now.Add(-n.ttl))
	if elem, ok := n.entries[key]; ok {
		elem.Value = observed{key: key, at: now}
		n.order.MoveToBack(elem)
		return
	}
	for n.capacity > 0 && n.order.Len() >= n.capacity {
		n.drop(n.order.Front())
	}
	n.entries[key] = n.order.PushBack(observed{key: key, at: now})
}

func (n *nonceWindow) len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.order.Len()
}

func (n *nonceWindow) expire(cutoff time.Time) {
	for front := n.order.Front(); front != nil; front = n.order.Front() {
		if !front.Value.(observed).at.Before(cutoff) {
			return
		}
		n.drop(front)
	}
}

func (n *nonceWindow) drop(elem *list.Element) {
	if elem == nil {
		return
	}
	n.order.Remove(elem)
	delete(n.entries, elem.Value.(observed).key)
}
