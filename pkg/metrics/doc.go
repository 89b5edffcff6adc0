// Package metrics records transaction and operation outcomes.
//
// Components receive a Recorder and default to NoopRecorder. When a textfile
// path is configured the apply driver swaps in a PrometheusRecorder backed by
// a private registry and flushes it with WriteTextfile after each run, in the
// format node_exporter's textfile collector reads.
package metrics
