// Package logging is the bridge's structured logger.
//
// It wraps zap with:
//   - a Trace level below Debug
//   - stdout output, optionally teed into an OpenTelemetry log provider
//   - context correlation fields (trace, routing identity, request id)
//   - key and pattern based secret redaction on the stdout encoder
//   - per-level sampling; Error and above are never sampled
//
// Build one from config and hand the underlying *zap.Logger to components:
//
//	logger, err := logging.NewLogger(cfg, nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithRouting(ctx, "U024BE7LH", "C02T4")
//	logger.Info(ctx, "policy refreshed", zap.Int("operations", n))
//
// Resulting entry:
//
//	{"ts":"2026-03-01T08:30:00.000Z","level":"info","msg":"policy refreshed",
//	 "service":"bridge","routing.caller":"U024BE7LH","routing.channel":"C02T4","operations":6}
//
// Tests use NewTestLogger, which records every entry through zaptest/observer.
package logging
