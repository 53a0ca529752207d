// Package maintenance bounds the length of log-store streams.
//
// # Policy
//
// Every configured stream has an effective maximum length: its entry in
// Config.PerStreamLimits, or Config.DefaultMaxLength. Any stream longer than
// that is trimmed. Trims run in approximate mode when Config.ApproximateTrim
// is set; the backend may then stop up to ApproximateTolerance above the
// limit.
//
// # Scheduling
//
// A [Scheduler] wakes every IntervalSeconds and visits Config.Streams in
// order. Streams over their limit are trimmed until MaxOperationsPerCycle
// trims have been attempted; the rest wait for the next tick. A failure on
// one stream is recorded in [Stats] and the cycle moves on.
//
// # Usage
//
//	sched, err := maintenance.NewScheduler(store, maintenance.DefaultConfig(),
//	    maintenance.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	sched.Start()
//	defer sched.Stop()
//
// Statistics and configuration are held in memory only and are lost when
// the process exits.
package maintenance
