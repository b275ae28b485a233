package extfs

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"bytes"
	"context"
	"encoding/binary"
)

// writeAt writes buf to the device at the given byte offset, wrapping any
// failure as a DeviceIo error (spec.md §7).
func (e *Engine) writeAt(buf []byte, offset int64) error {
	if _, err := e.req.Device.WriteAt(buf, offset); err != nil {
		return errDeviceIo("write", offset, err)
	}
	return nil
}

// readAt reads exactly len(buf) bytes from the device at offset, wrapping
// any failure as a DeviceIo error.
func (e *Engine) readAt(buf []byte, offset int64) error {
	if _, err := e.req.Device.ReadAt(buf, offset); err != nil {
		return errDeviceIo("read", offset, err)
	}
	return nil
}

// zeroRange writes n bytes of zero starting at offset, a block at a time
// so arbitrarily large ranges don't need an n-byte allocation.
func (e *Engine) zeroRange(offset, n int64) error {
	buf := zeroBlock(e.layout.blockSize)
	for n > 0 {
		chunk := int64(len(buf))
		if chunk > n {
			chunk = n
		}
		if err := e.writeAt(buf[:chunk], offset); err != nil {
			return err
		}
		offset += chunk
		n -= chunk
	}
	return nil
}

// encode serializes v (a fixed-layout struct of this package's on-disk
// types) into bytes, little-endian, the way every real ext* implementation
// in the reference pack does it.
func encode(v interface{}) []byte {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// decode deserializes b into v, the inverse of encode.
func decode(b []byte, v interface{}) error {
	return binary.Read(bytes.NewReader(b), binary.LittleEndian, v)
}

// zeroMetadataRegions pre-zeroes every block this engine will later write a
// bitmap, inode table, group descriptor table, or superblock into, so that
// any slack (e.g. unused inode table slots, reserved GDT blocks) reads back
// as zero rather than whatever garbage the device held. Bitmap padding past
// the real bitmap length is later overwritten with 1 bits by writeBitmaps.
func (e *Engine) zeroMetadataRegions(ctx context.Context) error {
	l := e.layout
	for g := int64(0); g < l.groupCount; g++ {
		if err := ctx.Err(); err != nil {
			return errCanceled(err)
		}
		m := l.group(g)
		if m.hasSuper {
			if err := e.zeroRange(m.superblockBlock*l.blockSize, (1+m.gdtBlocks+l.reservedGDTBlocks)*l.blockSize); err != nil {
				return err
			}
		}
		if err := e.zeroRange(m.blockBitmapBlock*l.blockSize, 2*l.blockSize); err != nil {
			return err
		}
		if err := e.zeroRange(m.inodeTableStart*l.blockSize, m.inodeTableBlocks*l.blockSize); err != nil {
			return err
		}
	}
	return nil
}
