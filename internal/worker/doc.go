// Package worker runs consumer-group loops over request streams.
//
// Each Loop joins the kind's consumer group under its own consumer name and
// competes with sibling loops for new entries. The broker hands every entry to
// exactly one live member; the loop invokes the handler and acknowledges the
// entry only when the handler succeeds.
//
// Example usage:
//
//	rdb := broker.NewClient(cfg.Redis)
//	b := broker.NewRedisBroker(rdb)
//	h := processor.NewHandler(envelope.KindSummarize, gateway, publisher)
//
//	loop := worker.NewLoop(b, envelope.KindSummarize, worker.DefaultConsumerName(envelope.KindSummarize), h)
//	if err := loop.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// The loop handles:
//   - idempotent consumer group creation at the start of history
//   - redelivery of this consumer's own unacknowledged entries after a restart
//   - handler failures and panics (logged, entry left pending)
//   - entries that do not decode as a request (logged and acknowledged, so
//     a malformed entry is never retried)
//   - transient broker outages (logged, fixed delay, retried)
//   - optional reclaiming of entries stuck on dead consumers (WithReclaim)
//
// Run returns when ctx is cancelled.
package worker
