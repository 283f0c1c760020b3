package memstore

import (
	"bytes"
	"math/rand"
)

const (
	MaxLevel    = 16
	Probability = 0.5
)

// skipListNode holds one (key, data) pair. prev links level 0 backwards
// so cursors can walk in both directions.
type skipListNode struct {
	key     []byte
	data    []byte
	forward []*skipListNode
	prev    *skipListNode
	removed bool
}

// skipList keeps pairs ordered by key, then data.
type skipList struct {
	head  *skipListNode
	tail  *skipListNode
	level int
	size  int
	rnd   *rand.Rand
}

func newSkipList(seed int64) *skipList {
	return &skipList{
		head: &skipListNode{forward: make([]*skipListNode, MaxLevel)},
		rnd:  rand.New(rand.NewSource(seed)),
	}
}

func comparePair(k1, d1, k2, d2 []byte) int {
	if c := bytes.Compare(k1, k2); c != 0 {
		return c
	}
	return bytes.Compare(d1, d2)
}

// randomLevel generates a random level for a new node
func (sl *skipList) randomLevel() int {
	level := 0
	for sl.rnd.Float64() < Probability && level < MaxLevel-1 {
		level++
	}
	return level
}

// findGE returns the first node >= (key, data) and fills update with the
// rightmost node before it at every level.
func (sl *skipList) findGE(key, data []byte, update []*skipListNode) *skipListNode {
	current := sl.head
	for i := sl.level; i >= 0; i-- {
		for current.forward[i] != nil && comparePair(current.forward[i].key, current.forward[i].data, key, data) < 0 {
			current = current.forward[i]
		}
		if update != nil {
			update[i] = current
		}
	}
	return current.forward[0]
}

// seekKey returns the first node whose key is >= key.
func (sl *skipList) seekKey(key []byte) *skipListNode {
	current := sl.head
	for i := sl.level; i >= 0; i-- {
		for current.forward[i] != nil && bytes.Compare(current.forward[i].key, key) < 0 {
			current = current.forward[i]
		}
	}
	return current.forward[0]
}

// insert adds the pair and reports false if it was already present.
func (sl *skipList) insert(key, data []byte) bool {
	update := make([]*skipListNode, MaxLevel)
	next := sl.findGE(key, data, update)
	if next != nil && comparePair(next.key, next.data, key, data) == 0 {
		return false
	}

	newLevel := sl.randomLevel()
	if newLevel > sl.level {
		for i := sl.level + 1; i <= newLevel; i++ {
			update[i] = sl.head
		}
		sl.level = newLevel
	}

	node := &skipListNode{
		key:     key,
		data:    data,
		forward: make([]*skipListNode, newLevel+1),
	}
	for i := 0; i <= newLevel; i++ {
		node.forward[i] = update[i].forward[i]
		update[i].forward[i] = node
	}

	if update[0] != sl.head {
		node.prev = update[0]
	}
	if node.forward[0] != nil {
		node.forward[0].prev = node
	} else {
		sl.tail = node
	}

	sl.size++
	return true
}

// remove deletes the pair and reports whether it was present.
func (sl *skipList) remove(key, data []byte) bool {
	update := make([]*skipListNode, MaxLevel)
	node := sl.findGE(key, data, update)
	if node == nil || comparePair(node.key, node.data, key, data) != 0 {
		return false
	}

	for i := 0; i <= sl.level; i++ {
		if update[i].forward[i] != node {
			break
		}
		update[i].forward[i] = node.forward[i]
	}
	if node.forward[0] != nil {
		node.forward[0].prev = node.prev
	} else {
		sl.tail = node.prev
	}
	node.removed = true

	for sl.level > 0 && sl.head.forward[sl.level] == nil {
		sl.level--
	}

	sl.size--
	return true
}

func (sl *skipList) first() *skipListNode {
	return sl.head.forward[0]
}

func (sl *skipList) last() *skipListNode {
	return sl.tail
}

// pairsOf returns the data of every pair with key, in order.
func (sl *skipList) pairsOf(key []byte) [][]byte {
	var out [][]byte
	for n := sl.seekKey(key); n != nil && bytes.Equal(n.key, key); n = n.forward[0] {
		out = append(out, n.data)
	}
	return out
}

func (sl *skipList) len() int {
	return sl.size
}
