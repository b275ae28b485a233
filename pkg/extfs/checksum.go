package extfs

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"encoding/binary"
	"hash/crc32"
)

// crc32cTable is the Castagnoli CRC32 table the metadata_csum feature uses
// for superblock, group descriptor, inode, and directory-block checksums.
// crc32.MakeTable builds the standard byte-at-a-time reflected table, which
// is what crc32c's own stepping loop below expects.
var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// crc32c is a raw CRC32C continuation function: given a running register
// value crc and more data, it returns the updated register value with no
// implicit pre- or post-complement. This mirrors the Linux kernel's
// crc32c()/ext4_chksum() primitive exactly, which is why ext4's own
// metadata_csum chain (seed = crc32c(~0, uuid), then checksum =
// crc32c(seed, buf), stored as-is) can be reproduced call-for-call rather
// than translated through encoding/binary.Write's or hash/crc32.Update's
// own (different) complement conventions.
func crc32c(crc uint32, b []byte) uint32 {
	for _, v := range b {
		crc = crc32cTable[byte(crc)^v] ^ (crc >> 8)
	}
	return crc
}

// uuidChecksumSeed computes the initial CRC32c seed derived from the
// filesystem UUID, cached once per Engine and reused for every checksum the
// metadata_csum feature requires (spec.md §4.1, §9 "checksum-seed caching").
func uuidChecksumSeed(fsUUID [16]byte) uint32 {
	return crc32c(0xFFFFFFFF, fsUUID[:])
}

// crc16Table is the standard CRC-16 (polynomial 0xA001, reflected form of
// 0x8005) table used by ext2/3/4 group descriptor checksums when
// metadata_csum is not enabled. No third-party implementation of this
// variant exists in the reference pack used to build this package; see
// DESIGN.md for why it is hand-rolled rather than imported.
var crc16Table = func() [256]uint16 {
	var t [256]uint16
	for i := 0; i < 256; i++ {
		c := uint16(i)
		for j := 0; j < 8; j++ {
			if c&1 != 0 {
				c = (c >> 1) ^ 0xA001
			} else {
				c >>= 1
			}
		}
		t[i] = c
	}
	return t
}()

// crc16 computes the CRC-16 checksum the legacy (pre-metadata_csum) group
// descriptor checksum field uses, seeded from the filesystem UUID and the
// group number the same way e2fsprogs' ext2fs_group_desc_csum does.
func crc16(seed uint16, b []byte) uint16 {
	crc := seed
	for _, v := range b {
		crc = (crc >> 8) ^ crc16Table[(crc^uint16(v))&0xff]
	}
	return crc
}

// groupDescChecksumLegacy reproduces e2fsprogs' ext2fs_group_desc_csum:
// CRC16(uuid) continued over the group number (as a little-endian 16-bit
// value) and then over desc with its own bg_checksum field at offset 0x1E
// excluded entirely, not zeroed-and-included — the kernel/e2fsprogs checksum
// domain skips those two bytes rather than feeding zeroes through them. For
// a 64-bit (size > 32) descriptor, the CRC continues over the remainder
// starting right after the field, at offset 0x20.
func groupDescChecksumLegacy(fsUUID [16]byte, group uint32, desc []byte) uint16 {
	var groupLE [4]byte
	binary.LittleEndian.PutUint32(groupLE[:], group)
	crc := crc16(0xffff, fsUUID[:])
	crc = crc16(crc, groupLE[:2])
	crc = crc16(crc, desc[:0x1E])
	if len(desc) > 0x20 {
		crc = crc16(crc, desc[0x20:])
	}
	return crc
}

// groupDescChecksumMetadata reproduces the CRC32c(uuid_seed ++ group_le32 ++
// desc) checksum used when metadata_csum is set. desc must have its own
// checksum field zeroed before this is called.
func groupDescChecksumMetadata(seed uint32, group uint32, desc []byte) uint32 {
	var groupLE [4]byte
	binary.LittleEndian.PutUint32(groupLE[:], group)
	crc := crc32c(seed, groupLE[:])
	crc = crc32c(crc, desc)
	return crc
}
