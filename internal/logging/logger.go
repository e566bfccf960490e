// Package logging is the structured logger used across notesync: a small
// context-aware interface and its log/slog implementation.
package logging

import "context"

// Logger takes key-value pairs after the message:
//
//	log.Info(ctx, "sync pass finished", "synced", n, "conflicts", c)
//
// Attributes stored in ctx with ContextWith are added to every record.
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger that always includes args.
	With(args ...any) Logger
}

type ctxKey struct{}

// ContextWith returns a copy of ctx carrying args as extra log attributes.
// Attributes already in ctx are kept.
func ContextWith(ctx context.Context, args ...any) context.Context {
	prev, _ := ctx.Value(ctxKey{}).([]any)
	merged := make([]any, 0, len(prev)+len(args))
	merged = append(merged, prev...)
	merged = append(merged, args...)
	return context.WithValue(ctx, ctxKey{}, merged)
}

func fromContext(ctx context.Context) []any {
	if ctx == nil {
		return nil
	}
	args, _ := ctx.Value(ctxKey{}).([]any)
	return args
}
