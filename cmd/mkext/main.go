package main

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

// mkext is a thin driver that exercises pkg/extfs against a real file or
// block device. It is not the Moses shell (argument parsing, progress
// bars, device enumeration, and drive-safety checks all live there); it
// exists so the formatter core can be run end to end without that shell.
import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/onuse/moses/pkg/elog"
	"github.com/onuse/moses/pkg/extfs"
)

func main() {
	variant := flag.String("variant", "ext4", "ext2, ext3, or ext4")
	label := flag.String("label", "", "volume label (max 16 bytes)")
	blockSize := flag.Int64("block-size", 4096, "block size in bytes")
	size := flag.Int64("size", 0, "filesystem size in bytes (0 = size of an existing file)")
	metadataCsum := flag.Bool("metadata-csum", true, "enable the ext4 metadata_csum feature")
	reservedPercent := flag.Int64("reserved-percent", 0, "percent of blocks reserved for the superuser (0 = default, 5%)")
	disable64Bit := flag.Bool("disable-64bit", false, "fail instead of auto-enabling 64-bit addressing on large ext4 volumes")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Parse()

	if flag.NArg() != 1 {
		log.Fatalf("usage: mkext [flags] <path>")
	}
	path := flag.Arg(0)

	v, err := extfs.ParseVariant(*variant)
	if err != nil {
		log.Fatalf("mkext: %v", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		log.Fatalf("mkext: %v", err)
	}
	defer f.Close()

	fsSize := *size
	if fsSize == 0 {
		info, err := f.Stat()
		if err != nil {
			log.Fatalf("mkext: %v", err)
		}
		fsSize = info.Size()
		if fsSize == 0 {
			log.Fatalf("mkext: %s is empty; pass -size for a new file", path)
		}
	} else if err := f.Truncate(fsSize); err != nil {
		log.Fatalf("mkext: %v", err)
	}

	device := extfs.NewFileDevice(f, fsSize)
	logger := &elog.CLI{IsVerbose: *verbose, IsDebug: *verbose}

	engine, err := extfs.NewEngine(&extfs.FormatRequest{
		Device:            device,
		Size:              fsSize,
		Variant:           v,
		BlockSize:         *blockSize,
		Label:             *label,
		MetadataChecksums: *metadataCsum,
		ReservedPercent:   *reservedPercent,
		Disable64Bit:      *disable64Bit,
		Logger:            logger,
	})
	if err != nil {
		log.Fatalf("mkext: %v", err)
	}

	report, err := engine.Format(context.Background())
	if err != nil {
		log.Fatalf("mkext: %v", err)
	}

	log.Printf("wrote %s filesystem: %d blocks, %d groups, %d free blocks, %d free inodes",
		report.Variant, report.TotalBlocks, report.GroupCount, report.FreeBlocks, report.FreeInodes)
}
