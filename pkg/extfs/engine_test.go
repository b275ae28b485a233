package extfs

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
)

// memDevice is an in-memory Device backed by a plain byte slice, used so
// these tests never touch the filesystem.
type memDevice struct {
	buf []byte
}

func newMemDevice(size int64) *memDevice {
	return &memDevice{buf: make([]byte, size)}
}

func (d *memDevice) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(len(d.buf)) {
		return 0, errors.New("read out of range")
	}
	return copy(p, d.buf[off:]), nil
}

func (d *memDevice) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(len(d.buf)) {
		return 0, errors.New("write out of range")
	}
	return copy(d.buf[off:], p), nil
}

func (d *memDevice) Sync() error { return nil }

func (d *memDevice) Size() (int64, error) { return int64(len(d.buf)), nil }

func formatInMem(t *testing.T, req *FormatRequest) (*memDevice, *FormatReport) {
	t.Helper()
	dev := newMemDevice(req.Size)
	req.Device = dev
	e, err := NewEngine(req)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	report, err := e.Format(context.Background())
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	return dev, report
}

// --- Scenario: small ext2 image, no journal, no metadata_csum ---

func TestFormatExt2Small(t *testing.T) {
	dev, report := formatInMem(t, &FormatRequest{
		Size:         32 << 20,
		BlockSize:    1024,
		Variant:      Ext2,
		Label:        "TESTVOL",
		UUIDOverride: testUUID(0xAA),
	})

	if report.Variant != Ext2 {
		t.Errorf("Variant = %v, want Ext2", report.Variant)
	}
	if report.JournalBlocks != 0 {
		t.Errorf("ext2 report should show 0 journal blocks, got %d", report.JournalBlocks)
	}

	var sb Superblock
	if err := decode(dev.buf[SuperblockOffset:SuperblockOffset+SuperblockSize], &sb); err != nil {
		t.Fatalf("decode superblock: %v", err)
	}
	if sb.Magic != Signature {
		t.Errorf("superblock magic = 0x%04X, want 0x%04X", sb.Magic, Signature)
	}
	if sb.InodeSize != InodeSizeSmall {
		t.Errorf("ext2 inode size = %d, want %d", sb.InodeSize, InodeSizeSmall)
	}
	if sb.FeatureCompat&CompatHasJournal != 0 {
		t.Errorf("ext2 should not set CompatHasJournal")
	}
}

// --- Scenario: ext3 image gets a populated journal inode ---

func TestFormatExt3HasJournal(t *testing.T) {
	_, report := formatInMem(t, &FormatRequest{
		Size:         64 << 20,
		BlockSize:    1024,
		Variant:      Ext3,
		UUIDOverride: testUUID(0xBB),
	})
	if report.JournalBlocks < MinJournalBlocks {
		t.Errorf("JournalBlocks = %d, want at least %d", report.JournalBlocks, MinJournalBlocks)
	}
}

// --- Scenario: ext4 image with metadata_csum round-trips its checksums ---

func TestFormatExt4MetadataCsum(t *testing.T) {
	dev, report := formatInMem(t, &FormatRequest{
		Size:              128 << 20,
		BlockSize:         4096,
		Variant:           Ext4,
		MetadataChecksums: true,
		UUIDOverride:      testUUID(0xCC),
	})
	if !report.MetadataChecksums {
		t.Fatal("report should reflect metadata_csum being enabled")
	}

	var sb Superblock
	if err := decode(dev.buf[SuperblockOffset:SuperblockOffset+SuperblockSize], &sb); err != nil {
		t.Fatalf("decode superblock: %v", err)
	}
	if sb.FeatureROCompat&ROCompatMetadataCsum == 0 {
		t.Error("superblock should have ROCompatMetadataCsum set")
	}
	if sb.FeatureROCompat&ROCompatGdtCsum != 0 {
		t.Error("metadata_csum and legacy gdt_csum should not both be set")
	}
	if sb.Checksum == 0 {
		t.Error("superblock checksum should be non-zero once computed")
	}
}

// --- Scenario: device too small is rejected before any write happens ---

func TestFormatTooSmallDeviceRejected(t *testing.T) {
	dev := newMemDevice(8 << 10)
	e, err := NewEngine(&FormatRequest{Device: dev, Size: 8 << 10, BlockSize: 4096, Variant: Ext4})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	_, err = e.Format(context.Background())
	if err == nil {
		t.Fatal("expected a TooSmall error")
	}
	var extErr *Error
	if !errors.As(err, &extErr) || extErr.Kind != TooSmall {
		t.Errorf("error = %v, want Kind == TooSmall", err)
	}
}

// --- Scenario: canceling the context before Format starts aborts cleanly ---

func TestFormatCanceledContext(t *testing.T) {
	dev := newMemDevice(32 << 20)
	e, err := NewEngine(&FormatRequest{Device: dev, Size: 32 << 20, BlockSize: 1024, Variant: Ext2, UUIDOverride: testUUID(0xDD)})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Format(ctx)
	if err == nil {
		t.Fatal("expected a Canceled error")
	}
	var extErr *Error
	if !errors.As(err, &extErr) || extErr.Kind != Canceled {
		t.Errorf("error = %v, want Kind == Canceled", err)
	}
}

// --- Scenario: lost+found is preallocated to 16 KiB regardless of block size ---

func TestFormatLostAndFoundPreallocatedTo16KiB(t *testing.T) {
	for _, blockSize := range []int64{1024, 4096} {
		dev := newMemDevice(32 << 20)
		req := &FormatRequest{
			Device:       dev,
			Size:         32 << 20,
			BlockSize:    blockSize,
			Variant:      Ext2,
			UUIDOverride: testUUID(0xFA + byte(blockSize%8)),
		}
		e, err := NewEngine(req)
		if err != nil {
			t.Fatalf("NewEngine: %v", err)
		}
		if _, err := e.Format(context.Background()); err != nil {
			t.Fatalf("Format: %v", err)
		}

		off := e.layout.inodeTableOffset(LostAndFoundInode)
		sizeLo := binary.LittleEndian.Uint32(dev.buf[off+0x04:])
		if sizeLo != lostFoundPreallocBytes {
			t.Errorf("block size %d: lost+found SizeLo = %d, want %d", blockSize, sizeLo, lostFoundPreallocBytes)
		}
	}
}

// --- Scenario: root directory's data block decodes as a valid linear
// directory with "." pointing back at the root inode ---

func TestFormatRootDirectoryContents(t *testing.T) {
	dev, _ := formatInMem(t, &FormatRequest{
		Size:         32 << 20,
		BlockSize:    1024,
		Variant:      Ext2,
		UUIDOverride: testUUID(0xEE),
	})

	found := false
	for blk := int64(0); blk < int64(len(dev.buf))/1024; blk++ {
		data := dev.buf[blk*1024 : blk*1024+1024]
		var first DirEntry
		if decode(data[:DirEntryHeaderSize], &first) != nil {
			continue
		}
		if first.Inode == RootDirInode && first.NameLen == 1 && data[DirEntryHeaderSize] == '.' {
			found = true
			break
		}
	}
	if !found {
		t.Error("could not locate the root directory's \".\" entry on the device")
	}
}
