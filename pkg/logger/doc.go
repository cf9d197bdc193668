// Package logger wraps zerolog behind a small structured logging interface.
//
// Components receive a Logger at construction time; the global instance set
// by Initialize is only a fallback for the command layer. Scrape runs attach
// their run id through ContextWithRunID so every line of a run can be
// correlated:
//
//	ctx = logger.ContextWithRunID(ctx, runID)
//	log := logger.GetLogger().WithContext(ctx)
//	log.InfoWithFields("Page fetched", map[string]interface{}{"items": 50})
package logger
