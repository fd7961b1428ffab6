// Package logging plumbs a zerolog.Logger through a context.Context, the
// same way github.com/cs3org/reva/pkg/appctx does for the gateway runtime
// this driver plugs into.
package logging

import (
	"context"

	"github.com/rs/zerolog"
)

// WithLogger returns a context carrying l.
func WithLogger(ctx context.Context, l zerolog.Logger) context.Context {
	return l.WithContext(ctx)
}

// FromContext returns the logger stored in ctx, or a disabled logger if
// none was attached.
func FromContext(ctx context.Context) *zerolog.Logger {
	return zerolog.Ctx(ctx)
}
