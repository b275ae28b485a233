package extfs

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"context"
)

// verify re-reads what was just written and checks it against what the
// engine believes it wrote (spec.md §4.7): the primary superblock's magic
// and free counts, and every backup superblock's magic and UUID. It never
// recomputes the layout from scratch — that would just be re-running the
// planner — it checks that the bytes on the device agree with the plan.
func (e *Engine) verify(ctx context.Context) error {
	l := e.layout

	primary := make([]byte, SuperblockSize)
	if err := e.readAt(primary, SuperblockOffset); err != nil {
		return err
	}
	var sb Superblock
	if err := decode(primary, &sb); err != nil {
		return errVerifyFailed("superblock-decode", "%v", err)
	}
	if sb.Magic != Signature {
		return errVerifyFailed("superblock-magic", "got 0x%04x, want 0x%04x", sb.Magic, Signature)
	}
	if sb.UUID != l.uuid {
		return errVerifyFailed("superblock-uuid", "UUID on disk does not match the UUID the engine generated")
	}
	wantFreeBlocks := uint32(e.countFreeBlocks())
	if sb.FreeBlocksCountLo != wantFreeBlocks {
		return errVerifyFailed("free-block-count", "superblock says %d free blocks, engine computed %d", sb.FreeBlocksCountLo, wantFreeBlocks)
	}
	wantFreeInodes := uint32(e.countFreeInodes())
	if sb.FreeInodesCount != wantFreeInodes {
		return errVerifyFailed("free-inode-count", "superblock says %d free inodes, engine computed %d", sb.FreeInodesCount, wantFreeInodes)
	}

	for g := int64(0); g < l.groupCount; g++ {
		if err := ctx.Err(); err != nil {
			return errCanceled(err)
		}
		if !l.hasBackup(g) || g == 0 {
			continue
		}
		m := l.group(g)
		backup := make([]byte, SuperblockSize)
		if err := e.readAt(backup, m.superblockBlock*l.blockSize); err != nil {
			return err
		}
		var bsb Superblock
		if err := decode(backup, &bsb); err != nil {
			return errVerifyFailed("backup-superblock-decode", "group %d: %v", g, err)
		}
		if bsb.Magic != Signature {
			return errVerifyFailed("backup-superblock-magic", "group %d: got 0x%04x", g, bsb.Magic)
		}
		if bsb.UUID != l.uuid {
			return errVerifyFailed("backup-superblock-uuid", "group %d: UUID mismatch", g)
		}
	}

	return nil
}
