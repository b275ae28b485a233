package extfs

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"io"
)

// Device is the narrow capability surface the engine needs from whatever
// it is formatting (spec.md §9's cross-platform device abstraction). A
// plain *os.File, or any other ReaderAt/WriterAt/Seeker with a Sync,
// satisfies it through FileDevice; platform-specific raw-disk handles are
// an external collaborator this package never imports.
type Device interface {
	io.ReaderAt
	io.WriterAt
	Sync() error
	Size() (int64, error)
}

// FileDevice adapts any ReaderAt+WriterAt+Sync-capable handle (chiefly
// *os.File, but also an in-memory stand-in for tests) into a Device.
type FileDevice struct {
	f interface {
		io.ReaderAt
		io.WriterAt
		Sync() error
	}
	size int64
}

// NewFileDevice wraps f, whose current size is size, as a Device. Callers
// writing to a regular file that must grow to fit the image (rather than a
// fixed-size block device) should pre-size the file themselves, e.g. with
// os.File.Truncate, before calling this.
func NewFileDevice(f interface {
	io.ReaderAt
	io.WriterAt
	Sync() error
}, size int64) *FileDevice {
	return &FileDevice{f: f, size: size}
}

func (d *FileDevice) ReadAt(p []byte, off int64) (int, error) {
	return d.f.ReadAt(p, off)
}

func (d *FileDevice) WriteAt(p []byte, off int64) (int, error) {
	return d.f.WriteAt(p, off)
}

func (d *FileDevice) Sync() error {
	return d.f.Sync()
}

func (d *FileDevice) Size() (int64, error) {
	return d.size, nil
}
