package extfs

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import "testing"

func TestParseVariant(t *testing.T) {
	cases := map[string]Variant{"ext2": Ext2, "ext3": Ext3, "ext4": Ext4}
	for s, want := range cases {
		got, err := ParseVariant(s)
		if err != nil {
			t.Errorf("ParseVariant(%q): %v", s, err)
		}
		if got != want {
			t.Errorf("ParseVariant(%q) = %v, want %v", s, got, want)
		}
	}
	if _, err := ParseVariant("btrfs"); err == nil {
		t.Error("ParseVariant(\"btrfs\") should fail")
	}
}

func TestPresetForFlexBgNeverSet(t *testing.T) {
	// This core writes a classic, non-flex per-group layout; setting
	// INCOMPAT_FLEX_BG without real flex consolidation would describe a
	// layout the bytes don't have (see DESIGN.md).
	p := presetFor(Ext4, false, true)
	if p.incompat&IncompatFlexBg != 0 {
		t.Error("ext4 preset should never set INCOMPAT_FLEX_BG")
	}
}

func TestPresetForJournalVariants(t *testing.T) {
	if presetFor(Ext2, false, false).hasJournal {
		t.Error("ext2 should not carry a journal")
	}
	if !presetFor(Ext3, false, false).hasJournal {
		t.Error("ext3 should carry a journal")
	}
	if !presetFor(Ext4, false, false).hasJournal {
		t.Error("ext4 should carry a journal")
	}
}

func TestPresetForMetadataCsumOnlyOnExt4(t *testing.T) {
	p2 := presetFor(Ext2, false, true)
	if p2.metadataCsum {
		t.Error("ext2 never gets metadata_csum")
	}
	p4 := presetFor(Ext4, false, true)
	if !p4.metadataCsum {
		t.Error("ext4 with MetadataChecksums requested should get metadata_csum")
	}
	if p4.roCompat&ROCompatGdtCsum != 0 {
		t.Error("metadata_csum and the legacy gdt_csum scheme are mutually exclusive")
	}
}

func TestPresetBaseFlagsSetForEveryVariant(t *testing.T) {
	for _, v := range []Variant{Ext2, Ext3, Ext4} {
		p := presetFor(v, false, false)
		if p.compat&CompatDirPrealloc == 0 || p.compat&CompatImagicInodes == 0 {
			t.Errorf("%v preset missing base compat flags", v)
		}
		if p.incompat&IncompatFiletype == 0 {
			t.Errorf("%v preset missing INCOMPAT_FILETYPE", v)
		}
		if p.roCompat&ROCompatSparseSuper == 0 || p.roCompat&ROCompatLargeFile == 0 {
			t.Errorf("%v preset missing base ro_compat flags", v)
		}
	}
}

func TestWithOverridesIsAdditiveOnly(t *testing.T) {
	base := presetFor(Ext4, false, false)
	overridden := base.withOverrides(&FeatureOverrides{Incompat: IncompatFlexBg})

	if overridden.incompat&IncompatFlexBg == 0 {
		t.Error("withOverrides should OR in the requested bit")
	}
	if overridden.compat != base.compat || overridden.roCompat != base.roCompat {
		t.Error("withOverrides should leave untouched bit groups alone")
	}
	if overridden.incompat&^IncompatFlexBg != base.incompat {
		t.Error("withOverrides should not remove any bit the preset already set")
	}
}

func TestWithOverridesNilIsNoOp(t *testing.T) {
	base := presetFor(Ext2, false, false)
	if got := base.withOverrides(nil); got != base {
		t.Error("withOverrides(nil) should return the preset unchanged")
	}
}

func TestInodeSizeForVariant(t *testing.T) {
	if inodeSizeFor(Ext2) != InodeSizeSmall {
		t.Error("ext2 should use the small inode")
	}
	if inodeSizeFor(Ext4) != InodeSizeLarge {
		t.Error("ext4 should use the large inode")
	}
}
