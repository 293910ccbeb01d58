package logging

import (
	"context"

	"go.viam.com/utils"
)

type debugKeyType int

const debugKeyID = debugKeyType(iota)

// debugKeyField names the field carrying the key of a debug context.
const debugKeyField = "debug_key"

// EnableDebugMode returns a context that turns on CDebugw output for everything run under it,
// e.g. one frame traced through the pipeline. An empty key is replaced by a random one.
func EnableDebugMode(ctx context.Context, key string) context.Context {
	if key == "" {
		key = utils.RandomAlphaString(6)
	}
	return context.WithValue(ctx, debugKeyID, key)
}

// IsDebugMode reports whether ctx was marked with EnableDebugMode.
func IsDebugMode(ctx context.Context) bool {
	return DebugKey(ctx) != ""
}

// DebugKey returns the key ctx was marked with, or "".
func DebugKey(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	key, _ := ctx.Value(debugKeyID).(string)
	return key
}
