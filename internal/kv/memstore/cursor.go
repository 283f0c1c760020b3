package memstore

import (
	"bytes"

	"github.com/devrev/entitydb/internal/errors"
	"github.com/devrev/entitydb/internal/kv"
)

// cursor walks a bucket's skip list. Key and Data stay valid until the
// transaction ends and must not be modified.
type cursor struct {
	txn    *txn
	b      *bucket
	node   *skipListNode
	closed bool
}

func (c *cursor) check() error {
	if c.closed || c.txn.done {
		return errors.Closed("cursor")
	}
	return nil
}

func (c *cursor) move(n *skipListNode) (kv.OpStatus, error) {
	if n == nil {
		return kv.NotFound, nil
	}
	c.node = n
	return kv.Success, nil
}

// nextOf and prevOf step from n, re-seeking when n was removed by this
// transaction after the cursor landed on it.
func (c *cursor) nextOf(n *skipListNode) *skipListNode {
	if n.removed {
		return c.b.list.findGE(n.key, n.data, nil)
	}
	return n.forward[0]
}

func (c *cursor) prevOf(n *skipListNode) *skipListNode {
	if n.removed {
		if g := c.b.list.findGE(n.key, n.data, nil); g != nil {
			return g.prev
		}
		return c.b.list.last()
	}
	return n.prev
}

func (c *cursor) SearchKey(key []byte) (kv.OpStatus, error) {
	if err := c.check(); err != nil {
		return kv.NotFound, err
	}
	n := c.b.list.seekKey(key)
	if n == nil || !bytes.Equal(n.key, key) {
		return kv.NotFound, nil
	}
	return c.move(n)
}

func (c *cursor) SearchKeyRange(key []byte) (kv.OpStatus, error) {
	if err := c.check(); err != nil {
		return kv.NotFound, err
	}
	return c.move(c.b.list.seekKey(key))
}

func (c *cursor) SearchBoth(key, data []byte) (kv.OpStatus, error) {
	if err := c.check(); err != nil {
		return kv.NotFound, err
	}
	n := c.b.list.findGE(key, data, nil)
	if n == nil || comparePair(n.key, n.data, key, data) != 0 {
		return kv.NotFound, nil
	}
	return c.move(n)
}

func (c *cursor) SearchBothRange(key, data []byte) (kv.OpStatus, error) {
	if err := c.check(); err != nil {
		return kv.NotFound, err
	}
	return c.move(c.b.list.findGE(key, data, nil))
}

func (c *cursor) First() (kv.OpStatus, error) {
	if err := c.check(); err != nil {
		return kv.NotFound, err
	}
	return c.move(c.b.list.first())
}

func (c *cursor) Last() (kv.OpStatus, error) {
	if err := c.check(); err != nil {
		return kv.NotFound, err
	}
	return c.move(c.b.list.last())
}

func (c *cursor) Next() (kv.OpStatus, error) {
	if c.node == nil {
		return c.First()
	}
	if err := c.check(); err != nil {
		return kv.NotFound, err
	}
	return c.move(c.nextOf(c.node))
}

func (c *cursor) Prev() (kv.OpStatus, error) {
	if c.node == nil {
		return c.Last()
	}
	if err := c.check(); err != nil {
		return kv.NotFound, err
	}
	return c.move(c.prevOf(c.node))
}

func (c *cursor) NextDup() (kv.OpStatus, error) {
	if err := c.check(); err != nil {
		return kv.NotFound, err
	}
	if c.node == nil {
		return kv.NotFound, nil
	}
	n := c.nextOf(c.node)
	if n == nil || !bytes.Equal(n.key, c.node.key) {
		return kv.NotFound, nil
	}
	return c.move(n)
}

func (c *cursor) PrevDup() (kv.OpStatus, error) {
	if err := c.check(); err != nil {
		return kv.NotFound, err
	}
	if c.node == nil {
		return kv.NotFound, nil
	}
	n := c.prevOf(c.node)
	if n == nil || !bytes.Equal(n.key, c.node.key) {
		return kv.NotFound, nil
	}
	return c.move(n)
}

func (c *cursor) NextNoDup() (kv.OpStatus, error) {
	if c.node == nil {
		return c.First()
	}
	if err := c.check(); err != nil {
		return kv.NotFound, err
	}
	n := c.nextOf(c.node)
	for n != nil && bytes.Equal(n.key, c.node.key) {
		n = n.forward[0]
	}
	return c.move(n)
}

func (c *cursor) PrevNoDup() (kv.OpStatus, error) {
	if c.node == nil {
		return c.Last()
	}
	if err := c.check(); err != nil {
		return kv.NotFound, err
	}
	n := c.prevOf(c.node)
	for n != nil && bytes.Equal(n.key, c.node.key) {
		n = n.prev
	}
	return c.move(n)
}

func (c *cursor) Key() []byte {
	if c.node == nil {
		return nil
	}
	return c.node.key
}

func (c *cursor) Data() []byte {
	if c.node == nil {
		return nil
	}
	return c.node.data
}

func (c *cursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if c.txn.cursors != nil {
		delete(c.txn.cursors, c)
	}
	return nil
}
