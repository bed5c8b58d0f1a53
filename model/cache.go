// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package model

import (
	"crypto/sha1"
	"encoding/binary"
	"math"
	"slices"

	log "github.com/golang/glog"
)

// DefaultCacheSize is the number of points kept by a Cache when none is given.
const DefaultCacheSize = 64

type pointKey [sha1.Size]byte

func hashPoint(x []float64) pointKey {
	data := make([]byte, len(x)*8)
	for i, v := range x {
		binary.BigEndian.PutUint64(data[i*8:], math.Float64bits(v))
	}
	return sha1.Sum(data)
}

type cached struct {
	known *Request
	resp  *Response
}

// Cache remembers responses per point and only forwards the part of a
// request that has not been computed at that point yet.
// The least recently used point is evicted once the capacity is reached.
type Cache struct {
	model   Evaluator
	dims    Dims
	size    int
	entries map[pointKey]*cached
	order   []pointKey
	miss    *Request

	Hits, Misses int
}

// NewCache wraps m with a cache of the given capacity.
func NewCache(m Evaluator, d Dims, size int) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &Cache{
		model:   m,
		dims:    d,
		size:    size,
		entries: make(map[pointKey]*cached, size),
		miss:    NewRequest(d),
	}
}

// Dims implements Sized.
func (c *Cache) Dims() Dims { return c.dims }

// Len returns the number of cached points.
func (c *Cache) Len() int { return len(c.entries) }

// Evaluate implements Evaluator.
func (c *Cache) Evaluate(x []float64, req *Request, resp *Response) error {

	if err := Check(c.dims, req, resp); err != nil {
		return err
	}

	key := hashPoint(x)
	e, ok := c.entries[key]
	if ok {
		c.touch(key)
	} else {
		e = &cached{known: NewRequest(c.dims), resp: NewResponse(c.dims)}
	}

	c.miss.Clear()
	for k, n := range req.Needs() {
		if missing := n &^ e.known.Get(k); missing != 0 {
			c.miss.Set(k, missing)
		}
	}

	if c.miss.Empty() {
		c.Hits++
		log.V(2).Infof("model cache hit for %v", req)
		resp.Copy(e.resp, req)
		return nil
	}

	c.Misses++
	if err := c.model.Evaluate(x, c.miss, e.resp); err != nil {
		return err
	}
	for k, n := range c.miss.Needs() {
		e.known.Set(k, e.known.Get(k)|n)
	}
	if !ok {
		c.insert(key, e)
	}
	resp.Copy(e.resp, req)
	return nil
}

// touch moves a cached point to the most recently used end.
func (c *Cache) touch(key pointKey) {
	if i := slices.Index(c.order, key); i >= 0 {
		c.order = append(slices.Delete(c.order, i, i+1), key)
	}
}

func (c *Cache) insert(key pointKey, e *cached) {
	if len(c.order) >= c.size {
		delete(c.entries, c.order[0])
		c.order = c.order[1:]
	}
	c.entries[key] = e
	c.order = append(c.order, key)
}
