package core

import (
	"fmt"
	"time"
)

// Reserved actor types.
const (
	// TypeISR marks notifications sent from interrupt context
	TypeISR uint8 = 0xff

	// TypeWorkQueue is the type of every WorkQueue
	TypeWorkQueue uint8 = 0xfe
)

// Identifier range. Id 0 is never allocated; IDUnavailable is returned when
// every id of a type is taken.
const (
	IDMin         uint8 = 0x01
	IDUnavailable uint8 = 0xff
)

// Timeouts accepted by every blocking operation.
const (
	// NoWait polls and returns immediately
	NoWait time.Duration = 0

	// WaitForever blocks until the operation completes or the actor stops
	WaitForever time.Duration = -1
)

// NoAffinity lets a task run on any core.
const NoAffinity = -1

// Identifier is the address of an actor. ID is unique within a Type.
type Identifier struct {
	Type uint8
	ID   uint8
}

// ISRIdentifier is the sender of every notification sent from interrupt context.
var ISRIdentifier = Identifier{Type: TypeISR, ID: 0}

// IdentifierFromKey rebuilds an Identifier from its 16-bit key.
func IdentifierFromKey(key uint16) Identifier {
	return Identifier{Type: uint8(key), ID: uint8(key >> 8)}
}

// Key returns the identifier as a single 16-bit value.
func (i Identifier) Key() uint16 {
	return uint16(i.Type) | uint16(i.ID)<<8
}

// String returns the identifier as type:id.
func (i Identifier) String() string {
	return fmt.Sprintf("%02X:%02X", i.Type, i.ID)
}

// Notification is a fixed-size control message: the sender's address and a
// 16-bit value.
type Notification struct {
	Sender Identifier
	Value  uint16
}

// NotificationFromRaw rebuilds a Notification from its 32-bit form.
func NotificationFromRaw(raw uint32) Notification {
	return Notification{
		Sender: IdentifierFromKey(uint16(raw)),
		Value:  uint16(raw >> 16),
	}
}

// Raw returns the notification as a single 32-bit word.
func (n Notification) Raw() uint32 {
	return uint32(n.Sender.Key()) | uint32(n.Value)<<16
}

// IsZero reports whether n is the zero Notification returned on timeout.
func (n Notification) IsZero() bool {
	return n.Raw() == 0
}

// String returns a readable form of the notification.
func (n Notification) String() string {
	return fmt.Sprintf("%s=%#04x", n.Sender, n.Value)
}

// Position selects where a notification is inserted in a mailbox.
type Position uint8

const (
	// Back appends the notification
	Back Position = iota

	// Front puts the notification ahead of every queued one
	Front
)

// String returns the string representation of Position.
func (p Position) String() string {
	switch p {
	case Back:
		return "back"
	case Front:
		return "front"
	default:
		return "unknown"
	}
}

// TaskState represents the current state of a Task.
type TaskState int32

const (
	// TaskStateIdle means the task was created but not started
	TaskStateIdle TaskState = iota

	// TaskStateRunning means the task body is executing
	TaskStateRunning

	// TaskStateSuspended means the task parks at its next suspension point
	TaskStateSuspended

	// TaskStateStopped means the task body returned or the task was stopped
	TaskStateStopped
)

// String returns the string representation of TaskState.
func (s TaskState) String() string {
	switch s {
	case TaskStateIdle:
		return "idle"
	case TaskStateRunning:
		return "running"
	case TaskStateSuspended:
		return "suspended"
	case TaskStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// TaskOptions describes a schedulable unit.
type TaskOptions struct {
	// Name is a human-readable name for the task
	Name string

	// StackSize is the stack budget in bytes
	StackSize int

	// Priority of the task, lowest is 0
	Priority int

	// Core pins the task to a processor, NoAffinity lets it float
	Core int
}

// ActorOptions contains configuration options for creating an Actor.
type ActorOptions struct {
	TaskOptions

	// MailboxSize is the number of notifications the mailbox holds
	MailboxSize int

	// Directory the actor registers in, nil means DefaultDirectory()
	Directory *Directory
}

// DefaultActorOptions returns the options used when none are given.
func DefaultActorOptions() ActorOptions {
	return ActorOptions{
		TaskOptions: TaskOptions{
			Name:      "Task",
			StackSize: 10000,
			Priority:  2,
			Core:      0,
		},
		MailboxSize: 8,
	}
}

// DataActorOptions contains configuration options for creating a DataActor.
type DataActorOptions struct {
	ActorOptions

	// RingBufferSize is the largest payload, in bytes, the ring buffer accepts
	RingBufferSize int
}

// DefaultDataActorOptions returns the options used when none are given.
func DefaultDataActorOptions() DataActorOptions {
	return DataActorOptions{
		ActorOptions:   DefaultActorOptions(),
		RingBufferSize: 128,
	}
}

// ActorInfo is one row of the directory dump.
type ActorInfo struct {
	Type      uint8     `json:"type"`
	ID        uint8     `json:"id"`
	Name      string    `json:"name"`
	Core      int       `json:"core"`
	Priority  int       `json:"priority"`
	StackSize int       `json:"stack_size"`
	State     string    `json:"state"`
	Running   bool      `json:"running"`
	Mailbox   int       `json:"mailbox"`
	CreatedAt time.Time `json:"created_at"`
}
