// Package cache provides Storage backends for cached graph nodes: an
// in-process map and a shared on-disk store guarded by a Locker.
package cache

import "errors"

// ErrNotFound is returned by Get when the digest has no stored value.
var ErrNotFound = errors.New("cache: entry not found")
