//go:build !dev

package pairing

import "github.com/pkg/errors"

// ErrDevBypassUnavailable is returned by release builds; the bypass only
// exists under the dev build tag.
var ErrDevBypassUnavailable = errors.New("dev bypass not compiled in")

// DevBypass is a no-op in release builds.
func (f *LinkFlow) DevBypass() error {
	return ErrDevBypassUnavailable
}
