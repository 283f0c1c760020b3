package keycodec

import "github.com/devrev/entitydb/internal/model"

// Composite builds a composite key part by part. The first error sticks
// and is reported by Bytes.
type Composite struct {
	buf []byte
	err error
}

// NewComposite returns an empty builder.
func NewComposite() *Composite {
	return &Composite{}
}

// Part appends one typed value.
func (c *Composite) Part(t model.FieldType, v interface{}, col *Collator) *Composite {
	if c.err == nil {
		c.buf, c.err = AppendPart(c.buf, t, v, col)
	}
	return c
}

// Prefix appends an unterminated string or blob prefix. Nothing may follow it.
func (c *Composite) Prefix(t model.FieldType, v interface{}) *Composite {
	if c.err == nil {
		c.buf, c.err = AppendPrefix(c.buf, t, v)
	}
	return c
}

func (c *Composite) Min() *Composite {
	c.buf = AppendMin(c.buf)
	return c
}

func (c *Composite) Max() *Composite {
	c.buf = AppendMax(c.buf)
	return c
}

// Len is the number of bytes written so far.
func (c *Composite) Len() int { return len(c.buf) }

// Bytes returns the key, or the first error hit while building it.
func (c *Composite) Bytes() ([]byte, error) {
	if c.err != nil {
		return nil, c.err
	}
	if c.buf == nil {
		return []byte{}, nil
	}
	return c.buf, nil
}

// EncodePrefix encodes a string prefix for STARTS_WITH bounds.
func EncodePrefix(s string) []byte {
	b, _ := AppendPrefix(nil, model.TypeString, s)
	return b
}

// Elements flattens a canonical array value into its elements. Nil
// element pointers become untyped nils.
func Elements(v interface{}) ([]interface{}, error) {
	if v == nil {
		return nil, nil
	}
	return arrayElems(v)
}
