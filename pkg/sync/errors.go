// SPDX-License-Identifier: Apache-2.0

package sync

import (
	"fmt"

	"github.com/arrayvc/arrayvc/pkg/store"
)

// newErr and wrapErr build structured errors carrying the same Kind
// vocabulary pkg/store uses (spec.md §7's error kinds apply uniformly
// across the core and the sync protocol), so a CLI caller branches on one
// Kind type regardless of which package raised the error.
func newErr(kind store.Kind, format string, args ...any) error {
	return &store.Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrapErr(kind store.Kind, err error, format string, args ...any) error {
	return &store.Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}
