// Package retry repeats fallible calls with capped exponential backoff.
//
// Only errors accepted by Config.RetryIf are retried; by default that is
// errors.IsTransient, so timeouts, connection failures, 429 and 5xx are
// repeated while other 4xx responses and cancellation return immediately.
package retry
