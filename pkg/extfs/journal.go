package extfs

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import "context"

// allocContiguousRun finds up to n contiguous free blocks within a single
// group's free space and marks them used, returning however many it found
// (which may be less than n if the group doesn't have that much
// contiguous room left).
func (e *Engine) allocContiguousRun(group int64, n int64) []int64 {
	b := e.blockBitmaps[group]
	var best []int64
	var run []int64
	for i := uint(0); i < uint(e.layout.groupBlockCount(group)); i++ {
		if !b.isUsed(i) {
			run = append(run, int64(i))
			if int64(len(run)) >= n {
				break
			}
		} else {
			if len(run) > len(best) {
				best = run
			}
			run = nil
		}
	}
	if len(run) > len(best) {
		best = run
	}
	if int64(len(best)) > n {
		best = best[:n]
	}
	out := make([]int64, len(best))
	base := e.layout.firstDataBlock + group*e.layout.blocksPerGroup
	for i, idx := range best {
		b.markUsed(uint(idx))
		out[i] = base + idx
	}
	return out
}

// allocContiguousAcrossGroups collects n blocks as physically contiguous
// runs, one run per group (blocks in different groups are never adjacent
// on disk, since each group's own metadata sits between them), and fails
// rather than spreading across more than maxInlineExtents groups. For ext4
// this bound is load-bearing: the journal inode's extent tree is never
// grown past the inline root (spec.md §3 "ExtentTree" depth-0 case), so it
// cannot describe more runs than that root holds. ext2/ext3 journals use
// the classic indirect-block mapping instead, which has no such limit, but
// the same bound is kept here too so the journal stays reasonably
// unfragmented regardless of variant. A single-group allocation is tried
// first since every group on a freshly planned filesystem has its whole
// data area free, which keeps ordinary-sized journals to one extent.
func (e *Engine) allocContiguousAcrossGroups(n int64) ([]int64, error) {
	for g := int64(0); g < e.layout.groupCount; g++ {
		if run := e.allocContiguousRun(g, n); int64(len(run)) == n {
			return run, nil
		} else if len(run) > 0 {
			// didn't fit whole; give the partial allocation back by
			// clearing the bits we just set so later groups start clean.
			b := e.blockBitmaps[g]
			base := e.layout.firstDataBlock + g*e.layout.blocksPerGroup
			for _, blk := range run {
				b.markFree(uint(blk - base))
			}
		}
	}

	var out []int64
	runs := 0
	for g := int64(0); g < e.layout.groupCount && int64(len(out)) < n && runs < maxInlineExtents; g++ {
		need := n - int64(len(out))
		run := e.allocContiguousRun(g, need)
		if len(run) == 0 {
			continue
		}
		out = append(out, run...)
		runs++
	}
	if int64(len(out)) < n {
		return nil, errInternal("could not allocate %d contiguous-ish blocks across at most %d groups, only found %d", n, maxInlineExtents, len(out))
	}
	return out, nil
}

// writeJournal allocates the journal's blocks, writes a fresh (empty,
// nothing to replay) JBD2 superblock into the first one, and populates
// inode 8 to map those blocks (an extent tree on ext4, the classic
// indirect block map otherwise; see writeBlockMapping).
func (e *Engine) writeJournal(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errCanceled(err)
	}
	l := e.layout

	blocks, err := e.allocContiguousAcrossGroups(l.journalBlocks)
	if err != nil {
		return err
	}
	l.journalStart = blocks[0]

	// Zero every journal block before writing the superblock into the
	// first one. The journal area is freshly allocated data space, not
	// metadata zeroMetadataRegions already cleared, and a previously-used
	// device may hold anything there; an e2fsck or kernel mount would read
	// stale, non-zero bytes past the superblock as queued transactions to
	// replay.
	for _, run := range contiguousRuns(blocks) {
		start, length := run[0], run[1]
		if err := e.zeroRange(start*l.blockSize, length*l.blockSize); err != nil {
			return err
		}
	}

	sb := JournalSuperblock{
		Header: JournalBlockHeader{
			Magic:     JournalMagic,
			BlockType: JournalSuperblockV2,
			Sequence:  1,
		},
		BlockSize:       uint32(l.blockSize),
		MaxLen:          uint32(l.journalBlocks),
		First:           1,
		Sequence:        1,
		Start:           0, // no outstanding transaction; nothing to replay
		FeatureIncompat: JournalFeatureIncompat64Bit,
		UUID:            l.uuid,
		NrUsers:         1,
	}
	sbBytes := encode(sb)
	if int64(len(sbBytes)) > l.blockSize {
		return errInternal("journal superblock (%d bytes) does not fit in one block (%d bytes)", len(sbBytes), l.blockSize)
	}
	if err := e.writeAt(sbBytes, blocks[0]*l.blockSize); err != nil {
		return err
	}
	// the remaining journal blocks stay zeroed: an empty journal has no
	// descriptor or commit blocks to replay.

	journalInode := e.newRegInode(l.journalBlocks*l.blockSize, l.journalBlocks)
	journalInode.LinksCount = 1
	if err := e.writeBlockMapping(journalInode, blocks, l.blockGroup(blocks[0])); err != nil {
		return err
	}
	if err := e.writeInode(JournalInode, journalInode); err != nil {
		return err
	}

	return nil
}
