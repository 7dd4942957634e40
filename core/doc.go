// Package core implements the addressable task framework of wtask.
//
// A Task is one schedulable unit of execution. An Actor adds an identity
// (type + id), an entry in the process-wide Directory and a bounded mailbox
// of fixed-size Notifications. A DataActor adds a byte ring buffer for bulk
// payloads, and a WorkQueue is a DataActor whose body executes submitted
// jobs one at a time.
//
// Data is always enqueued before the notification that announces it, so a
// receiver woken by a notification finds the payload already available.
package core
