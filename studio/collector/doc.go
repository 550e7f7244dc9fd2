// Package collector ingests span batches reported by remote agents.
//
// A batch names a trace id and carries raw spans. When the trace is unknown
// the collector synthesizes it from the batch (earliest start, latest end,
// longest span duration). Later batches only push the trace's end_time
// forward. Spans with an unknown kind are stored as custom; spans that cannot
// be decoded are logged and skipped without failing the batch. Re-sending a
// span overwrites it and never double counts it.
package collector
