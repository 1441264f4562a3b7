// Package audit records administrative and credential events in the
// audit_logs table and lists them for the admin API.
//
// Writes go through a Recorder, which queues entries on a bounded channel and
// persists them from a single goroutine. A full queue drops the entry with a
// warning rather than slowing the request that produced it.
package audit
