package extfs

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"errors"
	"testing"
)

func testUUID(b byte) *[16]byte {
	var u [16]byte
	for i := range u {
		u[i] = b
	}
	return &u
}

func TestCalculateBackupSuperblocks(t *testing.T) {
	groups := calculateBackupSuperblocks(20)
	want := map[int64]bool{0: true, 1: true, 3: true, 5: true, 7: true, 9: true}
	for g := range want {
		if !groups[g] {
			t.Errorf("group %d should carry a backup superblock", g)
		}
	}
	for _, g := range []int64{2, 4, 6, 8, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19} {
		if groups[g] {
			t.Errorf("group %d should not carry a backup superblock", g)
		}
	}
}

func TestCalculateBackupSuperblocksSingleGroup(t *testing.T) {
	groups := calculateBackupSuperblocks(1)
	if !groups[0] || len(groups) != 1 {
		t.Errorf("a single-group filesystem should only back up group 0, got %v", groups)
	}
}

func TestPlanLayoutRejectsBadBlockSize(t *testing.T) {
	req := &FormatRequest{Size: 64 << 20, BlockSize: 3000, Variant: Ext4}
	if _, err := planLayout(req); err == nil {
		t.Fatal("expected an error for a non-power-of-two block size")
	}
}

func TestPlanLayoutRejectsTinyDevice(t *testing.T) {
	req := &FormatRequest{Size: 16 << 10, BlockSize: 4096, Variant: Ext4}
	if _, err := planLayout(req); err == nil {
		t.Fatal("expected an error for a device too small to hold one group's metadata")
	}
}

func TestPlanLayoutExt2Small(t *testing.T) {
	req := &FormatRequest{
		Size:         64 << 20,
		BlockSize:    1024,
		Variant:      Ext2,
		UUIDOverride: testUUID(0x11),
	}
	l, err := planLayout(req)
	if err != nil {
		t.Fatalf("planLayout: %v", err)
	}
	if l.firstDataBlock != 1 {
		t.Errorf("firstDataBlock = %d, want 1 for a 1024-byte block size", l.firstDataBlock)
	}
	if l.groupCount < 1 {
		t.Errorf("groupCount = %d, want at least 1", l.groupCount)
	}
	if l.inodeSize != InodeSizeSmall {
		t.Errorf("ext2 inode size = %d, want %d", l.inodeSize, InodeSizeSmall)
	}
	if l.preset.hasJournal {
		t.Errorf("ext2 should not have a journal")
	}
	if err := l.validateGroupsFit(); err != nil {
		t.Errorf("validateGroupsFit: %v", err)
	}
}

func TestPlanLayoutExt4LargeUses64Bit(t *testing.T) {
	req := &FormatRequest{
		Size:         5 << 40, // 5 TiB at 1KiB blocks is just over 2^32 blocks
		BlockSize:    1024,
		Variant:      Ext4,
		UUIDOverride: testUUID(0x22),
	}
	l, err := planLayout(req)
	if err != nil {
		t.Fatalf("planLayout: %v", err)
	}
	if !l.use64Bit {
		t.Errorf("a filesystem with more than 2^32 blocks should force 64-bit addressing")
	}
	if l.descriptorSize != GroupDescriptorSize64 {
		t.Errorf("descriptorSize = %d, want %d when 64-bit", l.descriptorSize, GroupDescriptorSize64)
	}
}

func TestPlanLayoutRejectsNonCanonicalBlockSize(t *testing.T) {
	// 512 and 8192 are powers of two but not one of the three sizes this
	// core supports; only {1024, 2048, 4096} are valid (spec.md §6).
	for _, bs := range []int64{512, 8192, 65536} {
		req := &FormatRequest{Size: 64 << 20, BlockSize: bs, Variant: Ext4}
		if _, err := planLayout(req); err == nil {
			t.Errorf("block size %d should be rejected", bs)
		}
	}
}

func TestPlanLayoutReservedPercentDefault(t *testing.T) {
	req := &FormatRequest{Size: 64 << 20, BlockSize: 4096, Variant: Ext4, UUIDOverride: testUUID(0x44)}
	l, err := planLayout(req)
	if err != nil {
		t.Fatalf("planLayout: %v", err)
	}
	if l.reservedPercent != 5 {
		t.Errorf("reservedPercent = %d, want default of 5", l.reservedPercent)
	}
}

func TestPlanLayoutReservedPercentExplicit(t *testing.T) {
	req := &FormatRequest{Size: 64 << 20, BlockSize: 4096, Variant: Ext4, ReservedPercent: 10, UUIDOverride: testUUID(0x45)}
	l, err := planLayout(req)
	if err != nil {
		t.Fatalf("planLayout: %v", err)
	}
	if l.reservedPercent != 10 {
		t.Errorf("reservedPercent = %d, want 10", l.reservedPercent)
	}
}

func TestPlanLayoutRejectsOutOfRangeReservedPercent(t *testing.T) {
	for _, pct := range []int64{-1, 51, 100} {
		req := &FormatRequest{Size: 64 << 20, BlockSize: 4096, Variant: Ext4, ReservedPercent: pct}
		if _, err := planLayout(req); err == nil {
			t.Errorf("reserved_percent %d should be rejected", pct)
		}
	}
}

func TestPlanLayoutDisable64BitFailsTooLarge(t *testing.T) {
	req := &FormatRequest{
		Size:         5 << 40, // needs more than 2^32 blocks at 1KiB block size
		BlockSize:    1024,
		Variant:      Ext4,
		Disable64Bit: true,
		UUIDOverride: testUUID(0x46),
	}
	_, err := planLayout(req)
	if err == nil {
		t.Fatal("expected TooLarge when 64-bit addressing is disabled but required")
	}
	var fsErr *Error
	if !errors.As(err, &fsErr) || fsErr.Kind != TooLarge {
		t.Errorf("expected a TooLarge error, got %v", err)
	}
}

func TestPlanLayoutNon4LargeSizeIsTooLarge(t *testing.T) {
	req := &FormatRequest{
		Size:         5 << 40,
		BlockSize:    1024,
		Variant:      Ext2, // ext2 never supports 64-bit addressing
		UUIDOverride: testUUID(0x47),
	}
	if _, err := planLayout(req); err == nil {
		t.Fatal("expected ext2 to reject a filesystem too large for 32-bit block counts")
	}
}

func TestPlanLayoutForce64BitRequiresExt4(t *testing.T) {
	req := &FormatRequest{
		Size:         64 << 20,
		BlockSize:    4096,
		Variant:      Ext3,
		Force64Bit:   true,
		UUIDOverride: testUUID(0x48),
	}
	if _, err := planLayout(req); err == nil {
		t.Fatal("expected an error forcing 64-bit addressing on a non-ext4 variant")
	}
}

func TestJournalSizeBlocksTiers(t *testing.T) {
	const mib = 1 << 20
	const gib = 1 << 30
	cases := []struct {
		totalBytes int64
		wantBytes  int64
	}{
		{64 * mib, 4 * mib},
		{2 * gib, 32 * mib},
		{8 * gib, 64 * mib},
		{32 * gib, 128 * mib},
	}
	for _, c := range cases {
		got := journalSizeBlocks(c.totalBytes, 4096) * 4096
		if got != c.wantBytes {
			t.Errorf("journalSizeBlocks(%d) = %d bytes, want %d", c.totalBytes, got, c.wantBytes)
		}
	}
}

func TestPlanLayoutExt3TwoGibJournalIs32Mib(t *testing.T) {
	req := &FormatRequest{
		Size:         2 << 30,
		BlockSize:    4096,
		Variant:      Ext3,
		UUIDOverride: testUUID(0x49),
	}
	l, err := planLayout(req)
	if err != nil {
		t.Fatalf("planLayout: %v", err)
	}
	if got := l.journalBlocks * l.blockSize; got != 32<<20 {
		t.Errorf("journal size = %d bytes, want exactly 32 MiB", got)
	}
}

func TestGroupMetadataLayoutIsContiguousAndOrdered(t *testing.T) {
	req := &FormatRequest{
		Size:         256 << 20,
		BlockSize:    4096,
		Variant:      Ext4,
		UUIDOverride: testUUID(0x33),
	}
	l, err := planLayout(req)
	if err != nil {
		t.Fatalf("planLayout: %v", err)
	}
	m := l.group(0)
	if !m.hasSuper {
		t.Fatal("group 0 must always carry a superblock")
	}
	if m.gdtStart != m.superblockBlock+1 {
		t.Errorf("GDT should start immediately after the superblock block")
	}
	if m.blockBitmapBlock != m.gdtStart+m.gdtBlocks+l.reservedGDTBlocks {
		t.Errorf("block bitmap should start immediately after the (reserved) GDT")
	}
	if m.inodeBitmapBlock != m.blockBitmapBlock+1 {
		t.Errorf("inode bitmap should immediately follow the block bitmap")
	}
	if m.inodeTableStart != m.inodeBitmapBlock+1 {
		t.Errorf("inode table should immediately follow the inode bitmap")
	}
	if m.dataStart != m.inodeTableStart+m.inodeTableBlocks {
		t.Errorf("data region should immediately follow the inode table")
	}
	if m.dataBlocks <= 0 {
		t.Errorf("group 0 should have room for data blocks")
	}
}
