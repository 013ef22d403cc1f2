// Package pipeline defines the stage contract and the keyed Context that is
// handed from stage to stage within a single run.
//
// A Context is owned by exactly one run. The orchestrator passes it to a
// stage, the stage returns it (possibly with new keys), and the stage must
// not keep a reference once Execute returns.
package pipeline

import (
	"fmt"
	"slices"
)

// Key names a value in a Context.
type Key string

// Context is an ordered, keyed bag of values. Keys keep the order in which
// they were first written.
type Context struct {
	order  []Key
	values map[Key]any
}

// NewContext returns an empty Context.
func NewContext() *Context {
	return &Context{values: make(map[Key]any)}
}

// Set writes v under k, overwriting any earlier value.
func (c *Context) Set(k Key, v any) {
	if _, ok := c.values[k]; !ok {
		c.order = append(c.order, k)
	}
	c.values[k] = v
}

// Get returns the value under k.
func (c *Context) Get(k Key) (any, bool) {
	v, ok := c.values[k]
	return v, ok
}

// Has reports whether k has been written.
func (c *Context) Has(k Key) bool {
	_, ok := c.values[k]
	return ok
}

// Keys returns the keys in first-write order.
func (c *Context) Keys() []Key {
	return slices.Clone(c.order)
}

// Len returns the number of keys.
func (c *Context) Len() int {
	return len(c.order)
}

// Value fetches k from c as a T. A missing key yields a MissingInputError
// and a value of the wrong type yields a plain error naming both types.
func Value[T any](c *Context, k Key) (T, error) {
	var zero T
	raw, ok := c.Get(k)
	if !ok {
		return zero, &MissingInputError{Key: k}
	}
	v, ok := raw.(T)
	if !ok {
		return zero, fmt.Errorf("pipeline: key %q holds %T, want %T", k, raw, zero)
	}
	return v, nil
}
