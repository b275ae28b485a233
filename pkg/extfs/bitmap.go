package extfs

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"github.com/bits-and-blooms/bitset"
)

// bitmap wraps a bitset.BitSet sized to exactly one block-group's worth of
// blocks or inodes, and knows how to serialize itself into the byte layout
// the kernel expects: bit i of byte i/8 set means "in use", padded with 1
// bits past the group's real length out to the end of the block (spec.md
// §3, block/inode bitmap blocks).
type bitmap struct {
	bits   *bitset.BitSet
	length uint // number of real (non-padding) bits
}

func newBitmap(length uint) *bitmap {
	return &bitmap{
		bits:   bitset.New(length),
		length: length,
	}
}

func (b *bitmap) markUsed(i uint) {
	b.bits.Set(i)
}

func (b *bitmap) markRange(start, count uint) {
	for i := uint(0); i < count; i++ {
		b.bits.Set(start + i)
	}
}

// markFree undoes a markUsed; used to give back a partial speculative
// allocation (e.g. allocContiguousAcrossGroups trying a group that turns
// out not to have enough room).
func (b *bitmap) markFree(i uint) {
	b.bits.Clear(i)
}

func (b *bitmap) isUsed(i uint) bool {
	return b.bits.Test(i)
}

// freeCount returns the number of bits in [0, length) that are not set.
func (b *bitmap) freeCount() uint {
	return b.length - b.bits.Count()
}

// firstFree returns the lowest-numbered unused bit below length, or -1 if
// the whole range is in use.
func (b *bitmap) firstFree() int64 {
	for i := uint(0); i < b.length; i++ {
		if !b.bits.Test(i) {
			return int64(i)
		}
	}
	return -1
}

// bytes serializes the bitmap into exactly blockSize bytes: real bits
// packed little-bit-first per byte, any bits beyond length within the last
// used byte and every byte beyond it set to 1, matching how e2fsprogs pads
// partial bitmap blocks.
func (b *bitmap) bytes(blockSize int64) []byte {
	out := make([]byte, blockSize)
	for i := range out {
		out[i] = 0xff
	}
	for i := uint(0); i < b.length; i++ {
		byteIdx := i / 8
		bitIdx := i % 8
		if b.bits.Test(i) {
			out[byteIdx] |= 1 << bitIdx
		} else {
			out[byteIdx] &^= 1 << bitIdx
		}
	}
	return out
}
