package extfs

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"context"
)

// dirEntrySpec is one directory entry awaiting serialization into a linear
// directory block.
type dirEntrySpec struct {
	ino      int64
	name     string
	fileType uint8
}

// dirEntryTail is the fake, zero-inode trailing entry metadata_csum
// directory blocks carry so e2fsck can validate the block wasn't silently
// corrupted. Its checksum is patched in once the block's real entries are
// final (Engine.checksumMetadata).
type dirEntryTail struct {
	ReservedZero1 uint32
	RecLen        uint16
	NameLen       uint8
	FileType      uint8
	Checksum      uint32
}

const dirEntryTailSize = 12
const dirEntryTailFileType = 0xDE

// direntRecLen returns the on-disk record length for a name of the given
// length: header plus name, rounded up to a 4-byte boundary (spec.md §3
// "DirectoryBlock").
func direntRecLen(nameLen int) uint16 {
	return uint16(align(int64(DirEntryHeaderSize+nameLen), 4))
}

// generateLinearDirectoryBlock lays out entries one after another in a
// single block-sized buffer. The final entry's RecLen is stretched to
// consume whatever space remains in the block, exactly how the kernel
// expects an in-use directory block's last entry to behave — this core
// never needs more than one directory block since it only ever writes
// root and lost+found (spec.md's glossary note on HTree: "not emitted for
// small, single-block directories").
func generateLinearDirectoryBlock(blockSize int64, entries []dirEntrySpec, withChecksumTail bool) ([]byte, error) {
	buf := make([]byte, blockSize)
	tailLen := int64(0)
	if withChecksumTail {
		tailLen = dirEntryTailSize
	}
	limit := blockSize - tailLen

	offset := int64(0)
	for i, ent := range entries {
		recLen := int64(direntRecLen(len(ent.name)))
		if i == len(entries)-1 {
			recLen = limit - offset
		}
		if offset+recLen > limit {
			return nil, errInternal("directory entries overflow a single block")
		}
		de := DirEntry{
			Inode:    uint32(ent.ino),
			RecLen:   uint16(recLen),
			NameLen:  uint8(len(ent.name)),
			FileType: ent.fileType,
		}
		header := encode(de)
		copy(buf[offset:], header)
		copy(buf[offset+DirEntryHeaderSize:], ent.name)
		offset += recLen
	}

	if withChecksumTail {
		tail := dirEntryTail{RecLen: dirEntryTailSize, FileType: dirEntryTailFileType}
		copy(buf[limit:], encode(tail))
	}

	return buf, nil
}

// generateEmptyDirectoryBlock builds a directory block holding a single
// "terminator" record: inode 0 (unused), rec_len stretched to consume the
// whole block. This is how e2fsprogs represents a preallocated directory
// block that holds no real entries yet (spec.md §4.5's lost+found
// preallocation tie-break).
func generateEmptyDirectoryBlock(blockSize int64, withChecksumTail bool) []byte {
	buf := make([]byte, blockSize)
	tailLen := int64(0)
	if withChecksumTail {
		tailLen = dirEntryTailSize
	}
	limit := blockSize - tailLen

	de := DirEntry{RecLen: uint16(limit)}
	copy(buf, encode(de))

	if withChecksumTail {
		tail := dirEntryTail{RecLen: dirEntryTailSize, FileType: dirEntryTailFileType}
		copy(buf[limit:], encode(tail))
	}
	return buf
}

// lostFoundPreallocBytes is how much space lost+found is pre-allocated
// with at format time (spec.md §4.5), regardless of block size.
const lostFoundPreallocBytes = 16384

// writeRootAndLostFound allocates and writes inode 2 (the root directory)
// containing "." ".." and "lost+found" in a single data block, and inode 11
// (lost+found), whose first block holds only "." and ".." and whose
// remaining preallocated blocks (lostFoundPreallocBytes in all) each hold a
// single empty terminator record.
func (e *Engine) writeRootAndLostFound(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errCanceled(err)
	}
	l := e.layout

	rootBlocks, err := e.allocBlocks(0, 1)
	if err != nil {
		return err
	}

	lostFoundBlockCount := divide(lostFoundPreallocBytes, l.blockSize)
	if lostFoundBlockCount < 1 {
		lostFoundBlockCount = 1
	}
	lostFoundBlocks, err := e.allocBlocks(0, lostFoundBlockCount)
	if err != nil {
		return err
	}

	rootData, err := generateLinearDirectoryBlock(l.blockSize, []dirEntrySpec{
		{ino: RootDirInode, name: ".", fileType: FTDir},
		{ino: RootDirInode, name: "..", fileType: FTDir},
		{ino: LostAndFoundInode, name: "lost+found", fileType: FTDir},
	}, l.metadataCsum)
	if err != nil {
		return err
	}
	lostFoundData, err := generateLinearDirectoryBlock(l.blockSize, []dirEntrySpec{
		{ino: LostAndFoundInode, name: ".", fileType: FTDir},
		{ino: RootDirInode, name: "..", fileType: FTDir},
	}, l.metadataCsum)
	if err != nil {
		return err
	}

	if err := e.writeAt(rootData, rootBlocks[0]*l.blockSize); err != nil {
		return err
	}
	if err := e.writeAt(lostFoundData, lostFoundBlocks[0]*l.blockSize); err != nil {
		return err
	}
	// the remaining preallocated lost+found blocks each hold a single
	// terminator record, so e2fsck never needs to grow the directory
	// (spec.md §4.5).
	terminator := generateEmptyDirectoryBlock(l.blockSize, l.metadataCsum)
	for _, blk := range lostFoundBlocks[1:] {
		if err := e.writeAt(terminator, blk*l.blockSize); err != nil {
			return err
		}
	}

	rootInode := e.newDirInode(l.blockSize, 3, int64(len(rootBlocks))) // linked from itself, "..", and lost+found's ".."
	if err := e.writeBlockMapping(rootInode, rootBlocks, 0); err != nil {
		return err
	}
	if err := e.writeInode(RootDirInode, rootInode); err != nil {
		return err
	}

	lostFoundInode := e.newDirInode(lostFoundBlockCount*l.blockSize, 2, lostFoundBlockCount) // linked from itself and root's entry
	if err := e.writeBlockMapping(lostFoundInode, lostFoundBlocks, 0); err != nil {
		return err
	}
	if err := e.writeInode(LostAndFoundInode, lostFoundInode); err != nil {
		return err
	}

	e.inodeBitmaps[0].markUsed(uint(RootDirInode - 1))
	e.inodeBitmaps[0].markUsed(uint(LostAndFoundInode - 1))

	if l.metadataCsum {
		e.dirChecksumBlocks = append(e.dirChecksumBlocks, dirBlockRef{block: rootBlocks[0], ino: RootDirInode})
		for _, blk := range lostFoundBlocks {
			e.dirChecksumBlocks = append(e.dirChecksumBlocks, dirBlockRef{block: blk, ino: LostAndFoundInode})
		}
	}

	return nil
}

// dirBlockRef records a directory block that still needs its
// metadata_csum tail checksum patched in once every entry it will ever
// hold has been written.
type dirBlockRef struct {
	block int64
	ino   int64
}
