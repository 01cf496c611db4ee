// SPDX-License-Identifier: Apache-2.0

package kvstore

import "errors"

// ErrKeyNotFound is returned by Get when the key does not exist.
var ErrKeyNotFound = errors.New("kvstore: key not found")

// ErrEnvOpen names the "env already open" condition. Registry.Open does
// not return it: opening a name twice hands back the already-open *Env.
var ErrEnvOpen = errors.New("kvstore: env already open under this name")

// ErrClosed is returned by operations on a closed env.
var ErrClosed = errors.New("kvstore: env is closed")
