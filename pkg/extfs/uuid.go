package extfs

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"github.com/google/uuid"
)

// generateUUID produces a fresh random filesystem UUID the way the teacher
// generates VM image identifiers: google/uuid's random (v4) generator.
// FormatRequest.UUIDOverride lets a caller pin a deterministic UUID instead,
// which the test suite uses to make golden-image comparisons reproducible.
func generateUUID() [16]byte {
	var out [16]byte
	id := uuid.New()
	copy(out[:], id[:])
	return out
}
