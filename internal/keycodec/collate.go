package keycodec

import (
	"fmt"
	"sync"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/devrev/entitydb/internal/errors"
)

// Collator produces locale-aware sort keys for collated string indexes.
// Collated parts order by the collation but cannot be decoded.
type Collator struct {
	lang string
	mu   sync.Mutex
	c    *collate.Collator
	buf  collate.Buffer
}

// NewCollator builds a collator for a BCP 47 language tag such as "en" or "de-CH".
func NewCollator(lang string) (*Collator, error) {
	tag, err := language.Parse(lang)
	if err != nil {
		return nil, errors.InvalidDefinition(fmt.Sprintf("invalid collation %q: %v", lang, err)).
			WithDetail("collation", lang)
	}
	return &Collator{
		lang: lang,
		c:    collate.New(tag, collate.IgnoreWidth),
	}, nil
}

// Language returns the tag the collator was built with.
func (c *Collator) Language() string {
	return c.lang
}

// Key returns the sort key for s. The result is owned by the caller.
func (c *Collator) Key(s string) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := c.c.KeyFromString(&c.buf, s)
	out := append([]byte(nil), k...)
	c.buf.Reset()
	return out
}

// Compare orders two strings by the collation.
func (c *Collator) Compare(a, b string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.c.CompareString(a, b)
}
