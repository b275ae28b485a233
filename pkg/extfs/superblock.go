package extfs

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"context"
	"encoding/binary"
)

// buildSuperblock assembles the Superblock for a given backup group number
// (0 for the primary). Every copy is identical except BlockGroupNr, which
// records which copy a given block is, and the checksum, which is
// recomputed per copy since that field covers the whole struct.
func (e *Engine) buildSuperblock(group int64) Superblock {
	l := e.layout

	var volName [16]byte
	copy(volName[:], l.label)

	sb := Superblock{
		InodesCount:           uint32(l.inodesPerGroup * l.groupCount),
		BlocksCountLo:         uint32(l.totalBlocks),
		BlocksCountHi:         uint32(l.totalBlocks >> 32),
		ReservedBlocksCountLo: uint32(l.totalBlocks * l.reservedPercent / 100),
		FreeBlocksCountLo:     uint32(e.countFreeBlocks()),
		FreeInodesCount:       uint32(e.countFreeInodes()),
		FirstDataBlock:        uint32(l.firstDataBlock),
		LogBlockSize:          uint32(log2(l.blockSize / 1024)),
		LogClusterSize:        uint32(log2(l.blockSize / 1024)),
		BlocksPerGroup:        uint32(l.blocksPerGroup),
		ClustersPerGroup:      uint32(l.blocksPerGroup),
		InodesPerGroup:        uint32(l.inodesPerGroup),
		Magic:                 Signature,
		State:                 1, // EXT2_VALID_FS: cleanly unmounted
		Errors:                1, // EXT2_ERRORS_CONTINUE
		CreatorOS:             0, // EXT2_OS_LINUX
		RevLevel:              1, // EXT2_DYNAMIC_REV
		FirstIno:              FirstNonReservedInode,
		InodeSize:             l.inodeSize,
		BlockGroupNr:          uint16(group),
		FeatureCompat:         l.preset.compat,
		FeatureIncompat:       l.preset.incompat,
		FeatureROCompat:       l.preset.roCompat,
		UUID:                  l.uuid,
		VolumeName:            volName,
		ReservedGDTBlocks:     uint16(l.reservedGDTBlocks),
		JournalUUID:           l.uuid,
		DefHashVersion:        1, // half_md4, unused since this core never builds htree indexes
		DescSize:              uint16(l.descriptorSize),
		MkfsTime:              0,
		MinExtraIsize:         32,
		WantExtraIsize:        32,
		ChecksumType:          ChecksumTypeCrc32c,
		LpfIno:                LostAndFoundInode,
		ChecksumSeed:          e.csumSeed,
	}

	if l.preset.hasJournal {
		sb.JournalInum = JournalInode
	}

	return sb
}

// log2 returns floor(log2(n)) for n a positive power of two; used for
// s_log_block_size, which the format stores as an offset from 1024 bytes.
func log2(n int64) int64 {
	var l int64
	for n > 1 {
		n >>= 1
		l++
	}
	return l
}

// writeSuperblockAndBackups writes the primary superblock at byte offset
// 1024 and a backup copy (with its own BlockGroupNr and checksum) at every
// group calculateBackupSuperblocks selected.
func (e *Engine) writeSuperblockAndBackups(ctx context.Context) error {
	l := e.layout

	for g := int64(0); g < l.groupCount; g++ {
		if !l.hasBackup(g) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return errCanceled(err)
		}

		sb := e.buildSuperblock(g)
		b := encode(sb)
		if l.metadataCsum {
			binary.LittleEndian.PutUint32(b[0x3FC:], 0)
			sum := crc32c(^uint32(0), b[:0x3FC])
			binary.LittleEndian.PutUint32(b[0x3FC:], sum)
		}

		offset := l.group(g).superblockBlock * l.blockSize
		if g == 0 {
			offset = SuperblockOffset
		}
		if err := e.writeAt(b, offset); err != nil {
			return err
		}
	}
	return nil
}
