package extfs

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

// This file implements the layout planner (spec.md §4.3): given a device
// size and a FormatRequest, it computes every fixed quantity the rest of
// the engine needs — block group count, inodes per group, reserved GDT
// blocks, backup superblock placement, journal size — before a single byte
// is written. Everything here is pure arithmetic; no I/O happens in this
// file.

const (
	// defaultBytesPerInode mirrors mke2fs's default inode density: one
	// inode per 16KiB of filesystem space.
	defaultBytesPerInode = 16384

	// resizeGrowthFactor is how far past the current size this core
	// reserves GDT blocks to grow into, matching mke2fs's default of
	// 1024x (see DESIGN.md, Open Question: reserved-GDT sizing).
	resizeGrowthFactor = 1024
)

// layout is the fully resolved plan the engine executes phase by phase.
// Every field except journalStart is computed once in planLayout and never
// recomputed; journalStart is filled in by writeJournal once the journal's
// blocks are allocated.
type layout struct {
	variant Variant

	blockSize  int64
	sectorSize int64

	totalBlocks    int64
	firstDataBlock int64
	blocksPerGroup int64
	groupCount     int64

	inodesPerGroup   int64
	inodeSize        uint16
	inodeTableBlocks int64

	descriptorSize    int
	gdtBlocks         int64
	reservedGDTBlocks int64

	backupGroups map[int64]bool

	reservedPercent int64

	use64Bit     bool
	metadataCsum bool
	preset       featurePreset

	journalBlocks int64
	journalStart  int64 // absolute block number of the journal inode's extent

	label string
	uuid  [16]byte
}

// calculateBackupSuperblocks returns the set of block groups that carry a
// superblock + GDT under the sparse_super layout: group 0 (the primary),
// group 1, and every group number that is itself a power of 3, 5, or 7
// (spec.md §3's {0,1}∪{3^k}∪{5^k}∪{7^k} rule), grounded on the
// trustelem-go-diskfs ext4 superblock parser's calculateBackupSuperblocks.
func calculateBackupSuperblocks(groupCount int64) map[int64]bool {
	groups := map[int64]bool{0: true}
	if groupCount > 1 {
		groups[1] = true
	}
	for _, base := range []int64{3, 5, 7} {
		for p := base; p < groupCount; p *= base {
			groups[p] = true
		}
	}
	return groups
}

func planLayout(req *FormatRequest) (*layout, error) {
	if req.BlockSize == 0 {
		req.BlockSize = 4096
	}
	if req.BlockSize != 1024 && req.BlockSize != 2048 && req.BlockSize != 4096 {
		return nil, errConfigInvalid("block size %d must be one of 1024, 2048, or 4096 (spec.md §6)", req.BlockSize)
	}
	if req.Variant == Ext2 && req.BlockSize > 4096 {
		return nil, errConfigInvalid("ext2 does not support block sizes above 4096")
	}

	reservedPercent := req.ReservedPercent
	if reservedPercent == 0 {
		reservedPercent = 5
	}
	if reservedPercent < 0 || reservedPercent > 50 {
		return nil, errConfigInvalid("reserved_percent %d must be between 0 and 50", reservedPercent)
	}

	sectorSize := req.SectorSize
	if sectorSize == 0 {
		sectorSize = 512
	}

	l := &layout{
		variant:    req.Variant,
		blockSize:  req.BlockSize,
		sectorSize: sectorSize,
		label:      req.Label,
	}

	if req.UUIDOverride != nil {
		l.uuid = *req.UUIDOverride
	} else {
		l.uuid = generateUUID()
	}

	use64Bit := req.Force64Bit
	totalBlocks := req.Size / req.BlockSize
	const maxBlocks32 = (1 << 32) - 1
	if totalBlocks > maxBlocks32 {
		if req.Variant == Ext4 && !req.Disable64Bit {
			use64Bit = true
		} else {
			return nil, errTooLarge("device has %d blocks, which exceeds the 32-bit block count limit and 64-bit addressing is unavailable (variant %v, disabled=%v)", totalBlocks, req.Variant, req.Disable64Bit)
		}
	}
	if use64Bit && req.Variant != Ext4 {
		return nil, errConfigInvalid("64-bit block addressing requires the ext4 variant")
	}

	l.use64Bit = use64Bit
	l.preset = presetFor(req.Variant, use64Bit, req.MetadataChecksums).withOverrides(req.FeatureOverrides)
	l.metadataCsum = l.preset.metadataCsum
	l.reservedPercent = reservedPercent

	l.descriptorSize = GroupDescriptorSize32
	if use64Bit {
		l.descriptorSize = GroupDescriptorSize64
	}

	l.firstDataBlock = 0
	if req.BlockSize == 1024 {
		l.firstDataBlock = 1
	}

	l.blocksPerGroup = req.BlockSize * 8
	l.totalBlocks = totalBlocks

	usableBlocks := totalBlocks - l.firstDataBlock
	if usableBlocks <= 0 {
		return nil, errTooSmall("device is too small to hold a single block group")
	}
	l.groupCount = divide(usableBlocks, l.blocksPerGroup)

	bytesPerInode := req.BytesPerInode
	if bytesPerInode == 0 {
		bytesPerInode = defaultBytesPerInode
	}
	l.inodeSize = inodeSizeFor(req.Variant)

	totalInodes := divide(totalBlocks*req.BlockSize, bytesPerInode)
	inodesPerGroup := divide(totalInodes, l.groupCount)
	// round up so the inode table occupies a whole number of blocks
	inodesPerBlock := req.BlockSize / int64(l.inodeSize)
	inodesPerGroup = align(inodesPerGroup, inodesPerBlock)
	if inodesPerGroup > l.blocksPerGroup {
		inodesPerGroup = l.blocksPerGroup
	}
	if inodesPerGroup < inodesPerBlock {
		inodesPerGroup = inodesPerBlock
	}
	l.inodesPerGroup = inodesPerGroup
	l.inodeTableBlocks = divide(inodesPerGroup*int64(l.inodeSize), req.BlockSize)

	l.gdtBlocks = divide(l.groupCount*int64(l.descriptorSize), req.BlockSize)

	maxBlocksForGrowth := totalBlocks * resizeGrowthFactor
	if !use64Bit && maxBlocksForGrowth > (1<<32)-1 {
		maxBlocksForGrowth = (1 << 32) - 1
	}
	maxGroups := divide(maxBlocksForGrowth, l.blocksPerGroup)
	maxGdtBlocks := divide(maxGroups*int64(l.descriptorSize), req.BlockSize)
	reserved := maxGdtBlocks - l.gdtBlocks
	addressLimit := req.BlockSize / 4 // one block of 32-bit indirect pointers
	if reserved < 0 {
		reserved = 0
	}
	if reserved > addressLimit {
		reserved = addressLimit
	}
	l.reservedGDTBlocks = reserved

	l.backupGroups = calculateBackupSuperblocks(l.groupCount)

	if l.preset.hasJournal {
		journalBlocks := journalSizeBlocks(totalBlocks*req.BlockSize, req.BlockSize)
		// a journal larger than the whole device makes no sense; this is
		// caught for real by the minimum-size check once group layout is
		// known, but clamp here too so later arithmetic can't go negative.
		if journalBlocks > totalBlocks/4 {
			journalBlocks = totalBlocks / 4
		}
		if journalBlocks < 1 {
			journalBlocks = 1
		}
		l.journalBlocks = journalBlocks
	}

	if err := l.validateGroupsFit(); err != nil {
		return nil, err
	}

	return l, nil
}

// journalSizeBlocks resolves spec.md §9's open question on journal
// scaling: a tiered table keyed on total filesystem size, fixed at 32 MiB
// for the 1-4 GiB range spec.md §8 scenario 2 pins exactly, scaling down
// for small volumes (so a freshly-formatted small device isn't mostly
// journal) and up for large ones, capped at MaxJournalBlocks worth of
// bytes.
func journalSizeBlocks(totalBytes, blockSize int64) int64 {
	const (
		mib = 1 << 20
		gib = 1 << 30
	)
	var sizeBytes int64
	switch {
	case totalBytes < 128*mib:
		sizeBytes = 4 * mib
	case totalBytes < gib:
		sizeBytes = 8 * mib
	case totalBytes < 4*gib:
		sizeBytes = 32 * mib
	case totalBytes < 16*gib:
		sizeBytes = 64 * mib
	default:
		sizeBytes = 128 * mib
	}
	blocks := sizeBytes / blockSize
	if blocks < MinJournalBlocks {
		blocks = MinJournalBlocks
	}
	if blocks > MaxJournalBlocks {
		blocks = MaxJournalBlocks
	}
	return blocks
}

// groupOverheadBlocks returns the number of blocks group i spends on its
// own metadata (superblock + GDT + reserved GDT, when it carries a backup;
// block bitmap; inode bitmap; inode table) before any data block.
func (l *layout) groupOverheadBlocks(group int64) int64 {
	overhead := int64(2) + l.inodeTableBlocks // block bitmap + inode bitmap + inode table
	if l.hasBackup(group) {
		overhead += 1 + l.gdtBlocks + l.reservedGDTBlocks // superblock + GDT + reserved
	}
	return overhead
}

func (l *layout) hasBackup(group int64) bool {
	return l.backupGroups[group]
}

// blockGroup returns which group absolute block number b falls in; used to
// pick a preferredGroup for indirect-block allocation so metadata stays
// near the data it describes.
func (l *layout) blockGroup(b int64) int64 {
	return (b - l.firstDataBlock) / l.blocksPerGroup
}

// groupBlockCount returns how many blocks belong to group i, which is
// blocksPerGroup for every group except possibly the last.
func (l *layout) groupBlockCount(group int64) int64 {
	start := l.firstDataBlock + group*l.blocksPerGroup
	remaining := l.totalBlocks - start
	if remaining > l.blocksPerGroup {
		return l.blocksPerGroup
	}
	return remaining
}

func (l *layout) validateGroupsFit() error {
	for g := int64(0); g < l.groupCount; g++ {
		if l.groupOverheadBlocks(g) >= l.groupBlockCount(g) {
			return errTooSmall("block group %d has no room for data blocks after metadata overhead; device or block size too small", g)
		}
	}
	return nil
}

// groupMetadata describes the absolute block numbers of every metadata
// region in group i, in the order they're laid out on disk.
type groupMetadata struct {
	groupStart       int64
	hasSuper         bool
	superblockBlock  int64
	gdtStart         int64
	gdtBlocks        int64
	blockBitmapBlock int64
	inodeBitmapBlock int64
	inodeTableStart  int64
	inodeTableBlocks int64
	dataStart        int64
	dataBlocks       int64
}

func (l *layout) group(i int64) groupMetadata {
	start := l.firstDataBlock + i*l.blocksPerGroup
	m := groupMetadata{groupStart: start}
	cur := start

	if l.hasBackup(i) {
		m.hasSuper = true
		m.superblockBlock = cur
		cur++
		m.gdtStart = cur
		m.gdtBlocks = l.gdtBlocks
		cur += l.gdtBlocks + l.reservedGDTBlocks
	}

	m.blockBitmapBlock = cur
	cur++
	m.inodeBitmapBlock = cur
	cur++
	m.inodeTableStart = cur
	m.inodeTableBlocks = l.inodeTableBlocks
	cur += l.inodeTableBlocks

	m.dataStart = cur
	m.dataBlocks = l.groupBlockCount(i) - (cur - start)

	return m
}

// inodeLocation translates a 1-based inode number into its
// (group, index-within-table) coordinates.
func (l *layout) inodeLocation(ino int64) (group, index int64) {
	group = (ino - 1) / l.inodesPerGroup
	index = (ino - 1) % l.inodesPerGroup
	return
}

func (l *layout) inodeTableOffset(ino int64) int64 {
	group, index := l.inodeLocation(ino)
	g := l.group(group)
	return g.inodeTableStart*l.blockSize + index*int64(l.inodeSize)
}
