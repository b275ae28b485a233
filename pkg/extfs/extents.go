package extfs

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"bytes"
	"encoding/binary"
)

// maxInlineExtents is how many leaf Extent records fit in an inode's
// 60-byte Block array alongside one ExtentHeader: (60 - 12) / 12 == 4.
const maxInlineExtents = 4

// contiguousRuns collapses a sorted-by-allocation-order slice of physical
// block numbers into (start, length) runs of consecutive blocks, the way
// the layout planner's block allocator tends to hand out contiguous block
// ranges for freshly formatted, unfragmented space.
func contiguousRuns(blocks []int64) [][2]int64 {
	var runs [][2]int64
	for i := 0; i < len(blocks); {
		start := blocks[i]
		length := int64(1)
		for i+int(length) < len(blocks) && blocks[i+int(length)] == start+length {
			length++
		}
		runs = append(runs, [2]int64{start, length})
		i += int(length)
	}
	return runs
}

// writeBlockMapping populates inode's block-location fields to describe
// physicalBlocks, the file's data blocks in logical order. It picks the
// on-disk format the variant's feature preset actually declares: the
// extent tree (spec.md §3 "ExtentTree") when INCOMPAT_EXTENTS is set
// (ext4), or the classic direct/indirect/double-indirect pointer scheme
// every ext2 and ext3 kernel expects otherwise. Writing an extent tree into
// an inode that doesn't advertise INCOMPAT_EXTENTS would leave Block[0]
// holding an extent header's magic number where an ext2/ext3 kernel reads
// a direct block pointer, corrupting the very first data block reference.
func (e *Engine) writeBlockMapping(inode *Inode, physicalBlocks []int64, preferredGroup int64) error {
	if e.layout.preset.incompat&IncompatExtents != 0 {
		return setInlineExtentTree(inode, physicalBlocks)
	}
	return e.writeClassicBlockMap(inode, physicalBlocks, preferredGroup)
}

// classicMaxDirect is the count of direct block pointers in Inode.Block
// before the single-indirect (index 12) and double-indirect (index 13)
// slots; index 14 (triple-indirect) is never populated since no file this
// core writes needs one (see writeClassicBlockMap).
const classicMaxDirect = 12

// writeClassicBlockMap lays physicalBlocks out across inode.Block's 12
// direct pointers, then a singly-indirect block, then (if more remain) a
// doubly-indirect block of singly-indirect blocks — the pre-extents ext2
// block-mapping scheme. Indirect blocks it allocates along the way are
// added to inode.BlocksLo, the same way a real mkfs counts indirection
// overhead as part of a file's block usage, not just its data.
func (e *Engine) writeClassicBlockMap(inode *Inode, physicalBlocks []int64, preferredGroup int64) error {
	blockSize := e.layout.blockSize
	ptrsPerBlock := blockSize / 4
	n := int64(len(physicalBlocks))
	var idx, extraBlocks int64

	for i := int64(0); i < classicMaxDirect && idx < n; i++ {
		inode.Block[i] = uint32(physicalBlocks[idx])
		idx++
	}
	if idx >= n {
		return nil
	}

	writeTable := func(ptrs []int64) (int64, error) {
		blk, err := e.allocBlock(preferredGroup)
		if err != nil {
			return 0, err
		}
		buf := make([]byte, blockSize)
		for i, p := range ptrs {
			binary.LittleEndian.PutUint32(buf[i*4:], uint32(p))
		}
		if err := e.writeAt(buf, blk*blockSize); err != nil {
			return 0, err
		}
		return blk, nil
	}

	chunk := n - idx
	if chunk > ptrsPerBlock {
		chunk = ptrsPerBlock
	}
	indirectBlock, err := writeTable(physicalBlocks[idx : idx+chunk])
	if err != nil {
		return err
	}
	inode.Block[12] = uint32(indirectBlock)
	idx += chunk
	extraBlocks++

	if idx < n {
		doubleBlock, err := e.allocBlock(preferredGroup)
		if err != nil {
			return err
		}
		extraBlocks++

		var singleTablePtrs []int64
		for idx < n {
			chunk = n - idx
			if chunk > ptrsPerBlock {
				chunk = ptrsPerBlock
			}
			singleBlock, err := writeTable(physicalBlocks[idx : idx+chunk])
			if err != nil {
				return err
			}
			singleTablePtrs = append(singleTablePtrs, singleBlock)
			idx += chunk
			extraBlocks++
			if int64(len(singleTablePtrs)) > ptrsPerBlock {
				return errInternal("file needs a triple-indirect block, which this core does not support")
			}
		}

		doubleBuf := make([]byte, blockSize)
		for i, p := range singleTablePtrs {
			binary.LittleEndian.PutUint32(doubleBuf[i*4:], uint32(p))
		}
		if err := e.writeAt(doubleBuf, doubleBlock*blockSize); err != nil {
			return err
		}
		inode.Block[13] = uint32(doubleBlock)
	}

	inode.BlocksLo += uint32(extraBlocks * (blockSize / 512))
	return nil
}

// setInlineExtentTree writes an extent tree root directly into inode's
// Block array, covering logical file blocks [0, len(physicalBlocks)) with
// up to maxInlineExtents runs (spec.md §3 "ExtentTree", depth-0 case). This
// core never allocates files large enough to need an external extent tree
// block, so depth is always 0 and Max is always maxInlineExtents.
func setInlineExtentTree(inode *Inode, physicalBlocks []int64) error {
	runs := contiguousRuns(physicalBlocks)
	if len(runs) > maxInlineExtents {
		return errInternal("file needs %d extents but only %d fit inline", len(runs), maxInlineExtents)
	}

	buf := new(bytes.Buffer)
	hdr := ExtentHeader{
		Magic:   ExtentMagic,
		Entries: uint16(len(runs)),
		Max:     maxInlineExtents,
		Depth:   0,
	}
	if err := binary.Write(buf, binary.LittleEndian, hdr); err != nil {
		return err
	}

	logical := uint32(0)
	for _, run := range runs {
		start, length := run[0], run[1]
		ex := Extent{
			Block:   logical,
			Len:     uint16(length),
			StartHi: uint16(start >> 32),
			StartLo: uint32(start),
		}
		if err := binary.Write(buf, binary.LittleEndian, ex); err != nil {
			return err
		}
		logical += uint32(length)
	}

	// pad the remainder of the 60-byte Block array with zero so unused
	// extent slots read back as nothing rather than stale bytes.
	for buf.Len() < 60 {
		buf.WriteByte(0)
	}

	return decode(buf.Bytes()[:60], &inode.Block)
}
