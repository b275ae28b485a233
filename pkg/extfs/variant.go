package extfs

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

// Variant selects which of the three formats to write (spec.md §4.6).
type Variant int

const (
	Ext2 Variant = iota
	Ext3
	Ext4
)

func (v Variant) String() string {
	switch v {
	case Ext2:
		return "ext2"
	case Ext3:
		return "ext3"
	case Ext4:
		return "ext4"
	default:
		return "unknown"
	}
}

// ParseVariant maps a lowercase variant name to a Variant, for callers that
// take the variant as a string (e.g. a CLI flag).
func ParseVariant(s string) (Variant, error) {
	switch s {
	case "ext2":
		return Ext2, nil
	case "ext3":
		return Ext3, nil
	case "ext4":
		return Ext4, nil
	default:
		return 0, errConfigInvalid("unknown variant %q", s)
	}
}

// featurePreset is the fixed {compat, incompat, ro_compat} feature-flag
// triple this core writes for a given variant. spec.md §4.6 lists
// INCOMPAT_FLEX_BG among ext4's flags; this core deliberately omits it
// because it writes a classic, non-flex per-group layout (see DESIGN.md) —
// setting the flag without actually consolidating group metadata would
// describe a layout the bytes don't have.
type featurePreset struct {
	compat   uint32
	incompat uint32
	roCompat uint32
	// hasJournal, when true, makes the engine allocate and populate a
	// journal inode and include CompatHasJournal in compat.
	hasJournal bool
	// metadataCsum selects the metadata_csum (crc32c, covers superblock,
	// GDT, inode table, directory blocks) checksum scheme over the legacy
	// gdt_csum (crc16, group descriptors only) scheme.
	metadataCsum bool
}

func presetFor(v Variant, use64Bit, useMetadataCsum bool) featurePreset {
	var p featurePreset

	// Base ext2 flags (spec.md §4.6); ext3 and ext4 both inherit this set
	// and add to it rather than replace it.
	p.compat |= CompatDirPrealloc | CompatImagicInodes
	p.incompat |= IncompatFiletype
	p.roCompat |= ROCompatSparseSuper | ROCompatLargeFile

	switch v {
	case Ext2:
		// no journal
	case Ext3:
		p.compat |= CompatHasJournal
		p.hasJournal = true
	case Ext4:
		p.compat |= CompatHasJournal
		p.incompat |= IncompatExtents
		p.roCompat |= ROCompatHugeFile | ROCompatExtraIsize | ROCompatDirNlink
		p.hasJournal = true
	}

	if use64Bit && v == Ext4 {
		p.incompat |= Incompat64Bit
	}

	if useMetadataCsum && v == Ext4 {
		p.roCompat |= ROCompatMetadataCsum
		p.metadataCsum = true
	} else if v != Ext2 {
		p.roCompat |= ROCompatGdtCsum
	}

	return p
}

// FeatureOverrides ORs additional feature bits into a variant's preset
// (spec.md §6's feature_overrides). It is purely additive: it cannot turn
// off a bit the preset itself sets, since the engine's write path is fixed
// per spec.md §4.5 and silently dropping a feature the engine still
// behaves as if present would produce an inconsistent image.
type FeatureOverrides struct {
	Compat   uint32
	Incompat uint32
	ROCompat uint32
}

func (p featurePreset) withOverrides(o *FeatureOverrides) featurePreset {
	if o == nil {
		return p
	}
	p.compat |= o.Compat
	p.incompat |= o.Incompat
	p.roCompat |= o.ROCompat
	return p
}

// inodeSizeFor returns the on-disk inode record size for a variant. ext2
// and ext3 use the classic 128-byte inode; ext4 uses 256 bytes so it has
// room for nanosecond timestamps, creation time, and the inode checksum.
func inodeSizeFor(v Variant) uint16 {
	if v == Ext4 {
		return InodeSizeLarge
	}
	return InodeSizeSmall
}
