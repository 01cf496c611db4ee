// SPDX-License-Identifier: Apache-2.0

package chunked

import "errors"

var (
	// ErrSealed names the "container already sealed" condition. Writer
	// never returns it: sealing drops the container, so the next write
	// allocates a fresh one.
	ErrSealed = errors.New("chunked: container is sealed")
	// ErrCorruptRow is returned by Read when a row's stored checksum does
	// not match its decompressed bytes.
	ErrCorruptRow = errors.New("chunked: row checksum mismatch")
	// ErrRowNotFound is returned by Read when a Location has no matching
	// index entry in its container's sidecar.
	ErrRowNotFound = errors.New("chunked: row not found in container index")
)
