// Package audit records authentication and authorization decisions.
//
// A Trail writes every Decision to a Sink and broadcasts the ones of
// administrative interest to Publishers as MonitorEvents. Authorization
// decisions are always broadcast; authentication decisions only in
// production and only when flagged.
//
//	sink := audit.NewMultiSink(audit.NewLogSink(logger), dbSink)
//	trail := audit.NewTrail(ctx, sink, audit.TrailConfig{Production: true}, logger, metrics,
//	    audit.NewRedisPublisher(redisClient, audit.MonitorChannel, logger, metrics))
//	trail.Record(ctx, audit.Decision{ConnectionID: id, Kind: audit.KindAuthzDeny, Stage: "role"})
//
// Record never returns an error. Sinks: LogSink, FileSink, DBSink,
// MemorySink, MultiSink. DBSink and MemorySink also implement Store and back
// the admin HTTP API in Handlers.
package audit
