// Package pipeline pulls a time range of station history and merges it with
// records that are already persisted.
//
// Example usage:
//
//	p := pipeline.New(apiClient, session, pipeline.DefaultConfig())
//	result, err := p.Run(ctx, existing, time.Now().Add(-72*time.Hour), time.Now())
//
// Run:
//   - Moves the start past the newest existing record
//   - Splits the range into 24h windows and fetches them one at a time
//   - Refreshes the bearer token once per window on 401
//   - Retries transient failures with exponential backoff, then skips the window
//   - Flattens each page and merges everything by timestamp
//
// Windows that fail are reported in Result.Skipped; only a run where every
// window fails returns an error. Nothing is written to disk here.
package pipeline
