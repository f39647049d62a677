// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"container/list"
	"sync"
)

// cachedBlock is one block held by blockCache. data is stored in the
// form given by compression; size is the decoded length.
type cachedBlock struct {
	index       int64
	data        []byte
	compression Compression
	size        int
}

// blockCache is a fixed-capacity LRU of fetched blocks keyed by block
// index. A capacity of zero or less disables caching entirely.
type blockCache struct {
	capacity    int
	compression Compression

	mu      sync.Mutex
	order   *list.List // front is most recently used
	entries map[int64]*list.Element

	// storedBytes is the sum of len(data) over all entries, i.e. the
	// memory actually held after compression.
	storedBytes int64
}

func newBlockCache(capacity int, compression Compression) *blockCache {
	return &blockCache{
		capacity:    capacity,
		compression: compression,
		order:       list.New(),
		entries:     make(map[int64]*list.Element),
	}
}

// get returns the decoded block and true on a hit. An entry that fails
// to decode is dropped and reported as a miss.
func (c *blockCache) get(index int64) ([]byte, bool) {
	c.mu.Lock()
	element, ok := c.entries[index]
	if !ok {
		c.mu.Unlock()
		return nil, false
	}
	c.order.MoveToFront(element)
	block := element.Value.(*cachedBlock)
	c.mu.Unlock()

	data, err := decompressBlock(block.data, block.compression, block.size)
	if err != nil {
		c.remove(index)
		return nil, false
	}
	return data, true
}

// put stores a block, evicting the least recently used entry when the
// cache is full. The caller must not modify data afterwards when the
// cache runs uncompressed.
func (c *blockCache) put(index int64, data []byte) {
	if c.capacity <= 0 {
		return
	}

	stored, compression := data, c.compression
	if compression != CompressionNone {
		compressed, err := compressBlock(data, compression)
		if err != nil {
			compression = CompressionNone
		} else {
			stored = compressed
		}
	}
	block := &cachedBlock{
		index:       index,
		data:        stored,
		compression: compression,
		size:        len(data),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if element, ok := c.entries[index]; ok {
		previous := element.Value.(*cachedBlock)
		c.storedBytes += int64(len(block.data) - len(previous.data))
		element.Value = block
		c.order.MoveToFront(element)
		return
	}

	for c.order.Len() >= c.capacity {
		c.evictOldestLocked()
	}
	c.entries[index] = c.order.PushFront(block)
	c.storedBytes += int64(len(block.data))
}

func (c *blockCache) contains(index int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[index]
	return ok
}

func (c *blockCache) remove(index int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if element, ok := c.entries[index]; ok {
		c.removeElementLocked(element)
	}
}

func (c *blockCache) evictOldestLocked() {
	if oldest := c.order.Back(); oldest != nil {
		c.removeElementLocked(oldest)
	}
}

func (c *blockCache) removeElementLocked(element *list.Element) {
	block := c.order.Remove(element).(*cachedBlock)
	delete(c.entries, block.index)
	c.storedBytes -= int64(len(block.data))
}

// usage returns the number of cached blocks and the bytes they hold.
func (c *blockCache) usage() (blocks int, storedBytes int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len(), c.storedBytes
}
