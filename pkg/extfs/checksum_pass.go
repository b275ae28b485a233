package extfs

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"context"
	"encoding/binary"
)

// checksumMetadata is the final pass the metadata_csum feature needs: the
// directory-block tail checksums, which can only be computed once a
// block's real entries (and the inode generation they're tied to) are
// final. Superblock, group descriptor, bitmap, and inode checksums are all
// computed inline as each structure is built, since nothing later in the
// state machine changes their contents.
func (e *Engine) checksumMetadata(ctx context.Context) error {
	l := e.layout
	for _, ref := range e.dirChecksumBlocks {
		if err := ctx.Err(); err != nil {
			return errCanceled(err)
		}

		block := make([]byte, l.blockSize)
		if err := e.readAt(block, ref.block*l.blockSize); err != nil {
			return err
		}

		tailOff := l.blockSize - dirEntryTailSize
		binary.LittleEndian.PutUint32(block[tailOff+8:], 0)

		// per-inode seed: inode number then its on-disk generation (offset
		// 0x64), both little-endian, the same seed writeInode uses.
		var seedInput [8]byte
		binary.LittleEndian.PutUint32(seedInput[:4], uint32(ref.ino))
		if err := e.readAt(seedInput[4:], l.inodeTableOffset(ref.ino)+0x64); err != nil {
			return err
		}
		dirSeed := crc32c(e.csumSeed, seedInput[:])
		sum := crc32c(dirSeed, block)
		binary.LittleEndian.PutUint32(block[tailOff+8:], sum)

		if err := e.writeAt(block[tailOff:], ref.block*l.blockSize+tailOff); err != nil {
			return err
		}
	}
	return nil
}
