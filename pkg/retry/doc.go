// Package retry provides a small exponential backoff helper for transient
// failures such as storage IO. It is intentionally not wired into the
// transaction layer: failed transactions are never retried automatically.
//
// Usage:
//
//	err := retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context) error {
//		return storage.Store(ctx, name, data)
//	})
package retry
