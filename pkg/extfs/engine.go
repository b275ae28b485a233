package extfs

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"context"
	"time"

	"github.com/onuse/moses/pkg/elog"
)

// Phase names the formatter engine's state machine steps (spec.md §4.5).
// The engine advances through these strictly in order; cancellation is
// polled at every phase boundary and, inside phases that loop over block
// groups, once per group. WroteBitmaps sits after
// WroteRootAndLostFound/WroteJournal, not before them as spec.md's diagram
// lists: bitmaps are only serialized once every block those phases
// allocate (root, lost+found, the journal, and any indirect blocks they
// need) has actually marked its bit, so the on-disk bitmap matches the
// filesystem's real free/used state rather than a stale snapshot (see
// DESIGN.md).
type Phase int

const (
	PhaseInit Phase = iota
	PhasePlannedLayout
	PhaseZeroedMetadataRegions
	PhaseWroteInodeTables
	PhaseWroteRootAndLostFound
	PhaseWroteJournal
	PhaseWroteBitmaps
	PhaseWroteGroupDescriptors
	PhaseWroteSuperblockAndBackups
	PhaseChecksummedMetadata
	PhaseVerified
	PhaseDone
)

func (p Phase) String() string {
	names := [...]string{
		"Init", "PlannedLayout", "ZeroedMetadataRegions",
		"WroteInodeTables", "WroteRootAndLostFound", "WroteJournal",
		"WroteBitmaps", "WroteGroupDescriptors", "WroteSuperblockAndBackups",
		"ChecksummedMetadata", "Verified", "Done",
	}
	if int(p) < 0 || int(p) >= len(names) {
		return "Unknown"
	}
	return names[p]
}

// FormatRequest is the whole configuration surface of this package
// (spec.md §6).
type FormatRequest struct {
	// Device is the target to format. Its declared Size must be at least
	// large enough for the variant's minimum layout.
	Device Device
	// Size is the number of bytes of Device the filesystem should occupy,
	// starting at offset 0.
	Size int64

	Variant   Variant
	BlockSize int64 // bytes; defaults to 4096
	SectorSize int64 // bytes; defaults to 512, informational only

	Label string
	// UUIDOverride pins the filesystem UUID instead of generating a
	// random one; used by tests that need reproducible images.
	UUIDOverride *[16]byte

	BytesPerInode int64 // defaults to 16384
	// ReservedPercent is the fraction of total blocks reserved for the
	// superuser, 0-50; 0 means "use the default" (5), matching
	// BytesPerInode's and BlockSize's zero-means-default convention.
	ReservedPercent int64
	Force64Bit      bool
	// Disable64Bit forbids the engine from auto-upgrading to 64-bit block
	// addressing even when the requested size needs it; such a request
	// fails with TooLarge instead (spec.md §8 scenario 6).
	Disable64Bit      bool
	MetadataChecksums bool // enable the ext4 metadata_csum feature

	// FeatureOverrides ORs extra compat/incompat/ro_compat bits into the
	// variant's preset after it's computed (spec.md §6's "normally
	// unused" escape hatch). It can only add bits, never remove the ones
	// the preset requires; see DESIGN.md.
	FeatureOverrides *FeatureOverrides

	// SkipVerify disables the post-write verification pass (spec.md
	// §4.7). Verification is on by default; this exists for callers
	// formatting enormous devices who have already verified the engine
	// against a smaller golden image and want to skip the re-read pass.
	SkipVerify bool

	Logger elog.Logger
}

// FormatReport summarizes a successful Format call (spec.md §6).
type FormatReport struct {
	Variant      Variant
	UUID         [16]byte
	Label        string
	BlockSize    int64
	TotalBlocks  int64
	GroupCount   int64
	InodesPerGroup int64
	FreeBlocks   int64
	FreeInodes   int64
	JournalBlocks int64
	Use64Bit     bool
	MetadataChecksums bool
	Duration     time.Duration
}

// Engine formats a single device according to a FormatRequest. It is not
// reused across calls; construct a fresh Engine (via NewEngine) per Format.
type Engine struct {
	req    *FormatRequest
	log    elog.Logger
	layout *layout
	phase  Phase

	blockBitmaps []*bitmap
	inodeBitmaps []*bitmap
	csumSeed     uint32

	dirChecksumBlocks []dirBlockRef
}

// NewEngine validates req and returns an Engine ready to Format. Validation
// failures are returned as *Error with Kind == ConfigInvalid.
func NewEngine(req *FormatRequest) (*Engine, error) {
	if req == nil {
		return nil, errConfigInvalid("nil FormatRequest")
	}
	if req.Device == nil {
		return nil, errConfigInvalid("no Device set")
	}
	if req.Size <= 0 {
		return nil, errConfigInvalid("Size must be positive")
	}
	if req.Variant != Ext2 && req.Variant != Ext3 && req.Variant != Ext4 {
		return nil, errConfigInvalid("unrecognized variant %v", req.Variant)
	}
	log := req.Logger
	if log == nil {
		log = elog.Discard{}
	}

	if len(req.Label) > 16 {
		log.Warnf("extfs: label %q exceeds 16 bytes; truncating", req.Label)
		req.Label = req.Label[:16]
	}

	return &Engine{req: req, log: log, phase: PhaseInit}, nil
}

// Phase returns the engine's current state machine phase, useful for a
// caller instrumenting progress around a long-running Format call.
func (e *Engine) Phase() Phase {
	return e.phase
}

func (e *Engine) advance(ctx context.Context, next Phase) error {
	if err := ctx.Err(); err != nil {
		return errCanceled(err)
	}
	e.phase = next
	e.log.Debugf("extfs: phase %s", next)
	return nil
}

// Format runs the full state machine (spec.md §4.5) against e.req.Device.
// On success it returns a FormatReport describing what was written; on
// failure the device is left in a partially-written state and the caller
// should treat it as unusable until a fresh Format succeeds.
func (e *Engine) Format(ctx context.Context) (*FormatReport, error) {
	start := time.Now()

	l, err := planLayout(e.req)
	if err != nil {
		return nil, err
	}
	e.layout = l
	if err := e.advance(ctx, PhasePlannedLayout); err != nil {
		return nil, err
	}
	e.log.Infof("extfs: planned %s layout: %d blocks, %d groups, %d bytes/block", l.variant, l.totalBlocks, l.groupCount, l.blockSize)

	if l.metadataCsum {
		e.csumSeed = uuidChecksumSeed(l.uuid)
	}

	if err := e.zeroMetadataRegions(ctx); err != nil {
		return nil, err
	}
	if err := e.advance(ctx, PhaseZeroedMetadataRegions); err != nil {
		return nil, err
	}

	// Bitmaps are only initialized in memory here; allocBlock/allocInode
	// keep marking bits as root, lost+found, the journal, and any indirect
	// blocks they need are allocated below. The bitmaps aren't serialized
	// to disk (writeBitmaps) until every one of those allocations has
	// happened, so the on-disk bytes reflect the filesystem's actual final
	// free/used state instead of a snapshot taken before it was allocated.
	e.initBitmaps()
	e.reserveFixedInodes()

	if err := e.writeInodeTables(ctx); err != nil {
		return nil, err
	}
	if err := e.advance(ctx, PhaseWroteInodeTables); err != nil {
		return nil, err
	}

	if err := e.writeRootAndLostFound(ctx); err != nil {
		return nil, err
	}
	if err := e.advance(ctx, PhaseWroteRootAndLostFound); err != nil {
		return nil, err
	}

	if l.preset.hasJournal {
		if err := e.writeJournal(ctx); err != nil {
			return nil, err
		}
	}
	if err := e.advance(ctx, PhaseWroteJournal); err != nil {
		return nil, err
	}

	if err := e.writeBitmaps(ctx); err != nil {
		return nil, err
	}
	if err := e.advance(ctx, PhaseWroteBitmaps); err != nil {
		return nil, err
	}

	if err := e.writeGroupDescriptors(ctx); err != nil {
		return nil, err
	}
	if err := e.advance(ctx, PhaseWroteGroupDescriptors); err != nil {
		return nil, err
	}

	if err := e.writeSuperblockAndBackups(ctx); err != nil {
		return nil, err
	}
	if err := e.advance(ctx, PhaseWroteSuperblockAndBackups); err != nil {
		return nil, err
	}

	if l.metadataCsum {
		if err := e.checksumMetadata(ctx); err != nil {
			return nil, err
		}
	}
	if err := e.advance(ctx, PhaseChecksummedMetadata); err != nil {
		return nil, err
	}

	if !e.req.SkipVerify {
		if err := e.verify(ctx); err != nil {
			return nil, err
		}
	}
	if err := e.advance(ctx, PhaseVerified); err != nil {
		return nil, err
	}

	if err := e.req.Device.Sync(); err != nil {
		return nil, errDeviceIo("sync", 0, err)
	}
	e.phase = PhaseDone

	report := &FormatReport{
		Variant:           l.variant,
		UUID:              l.uuid,
		Label:             l.label,
		BlockSize:         l.blockSize,
		TotalBlocks:       l.totalBlocks,
		GroupCount:        l.groupCount,
		InodesPerGroup:    l.inodesPerGroup,
		FreeBlocks:        e.countFreeBlocks(),
		FreeInodes:        e.countFreeInodes(),
		JournalBlocks:     l.journalBlocks,
		Use64Bit:          l.use64Bit,
		MetadataChecksums: l.metadataCsum,
		Duration:          time.Since(start),
	}
	return report, nil
}

func (e *Engine) countFreeBlocks() int64 {
	var free int64
	for _, b := range e.blockBitmaps {
		free += int64(b.freeCount())
	}
	return free
}

func (e *Engine) countFreeInodes() int64 {
	var free int64
	for _, b := range e.inodeBitmaps {
		free += int64(b.freeCount())
	}
	return free
}
