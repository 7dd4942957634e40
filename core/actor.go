package core

import (
	"fmt"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/najoast/wtask/logger"
)

// Addressable is anything a notification can be delivered to: an Actor, a
// DataActor or a WorkQueue.
type Addressable interface {
	Identifier() Identifier
	base() *Actor
}

// Actor is a Task with an address and a mailbox of notifications.
//
// Only the owning task receives from the mailbox; any task may send to it.
type Actor struct {
	*Task

	id      Identifier
	mailbox *mailbox
	dir     *Directory

	// set when the actor is the base of a DataActor
	data *DataActor

	destroyed atomic.Bool
	log       *zap.Logger
}

// NewActor creates an actor of typ, registers it in its directory and
// returns it idle. Use Start to run its body.
func NewActor(typ uint8, opts ActorOptions) (*Actor, error) {
	return newActor(typ, opts, nil)
}

// newActor builds the actor and calls wrap before registration, so the
// directory never exposes a half-built actor.
func newActor(typ uint8, opts ActorOptions, wrap func(*Actor)) (*Actor, error) {
	if opts.MailboxSize <= 0 {
		opts.MailboxSize = DefaultActorOptions().MailboxSize
	}
	dir := opts.Directory
	if dir == nil {
		dir = defaultDirectory
	}

	a := &Actor{
		Task:    NewTask(opts.TaskOptions),
		mailbox: newMailbox(opts.MailboxSize),
		dir:     dir,
	}
	if wrap != nil {
		wrap(a)
	}

	if err := dir.register(a, typ); err != nil {
		a.cancel()
		return nil, err
	}
	a.log = logger.Named("actor").With(zap.Stringer("actor", a.id), zap.String("name", a.Name()))
	return a, nil
}

// Destroy removes the actor from its directory and stops its task. Pending
// waits on the actor return ErrActorStopped. Destroy is idempotent.
func (a *Actor) Destroy() {
	if !a.destroyed.CompareAndSwap(false, true) {
		return
	}
	a.dir.unregister(a)
	a.Task.Stop()
	a.log.Debug("actor destroyed", zap.Int("dropped", a.mailbox.len()))
}

// Destroyed reports whether Destroy was called.
func (a *Actor) Destroyed() bool {
	return a.destroyed.Load()
}

// Identifier returns the actor's address.
func (a *Actor) Identifier() Identifier {
	return a.id
}

// Type returns the actor type.
func (a *Actor) Type() uint8 {
	return a.id.Type
}

// ID returns the per-type id.
func (a *Actor) ID() uint8 {
	return a.id.ID
}

// Directory returns the directory the actor is registered in.
func (a *Actor) Directory() *Directory {
	return a.dir
}

// DataActor returns the DataActor built on a, or nil.
func (a *Actor) DataActor() *DataActor {
	return a.data
}

func (a *Actor) base() *Actor {
	return a
}

// MailboxLen returns the number of queued notifications.
func (a *Actor) MailboxLen() int {
	return a.mailbox.len()
}

// MailboxCapacity returns the mailbox size.
func (a *Actor) MailboxCapacity() int {
	return a.mailbox.capacity()
}

// Info describes the actor for the directory dump.
func (a *Actor) Info() ActorInfo {
	return ActorInfo{
		Type:      a.id.Type,
		ID:        a.id.ID,
		Name:      a.Name(),
		Core:      a.Core(),
		Priority:  a.Priority(),
		StackSize: a.StackSize(),
		State:     a.State().String(),
		Running:   a.Running(),
		Mailbox:   a.mailbox.len(),
		CreatedAt: a.CreatedAt(),
	}
}

func (a *Actor) notification(value uint16) Notification {
	return Notification{Sender: a.id, Value: value}
}

// SendNotification appends value, signed with a's address, to dest's mailbox.
func (a *Actor) SendNotification(dest Addressable, value uint16, timeout time.Duration) error {
	return SendNotification(dest, a.notification(value), timeout, Back)
}

// SendNotificationToFront puts value ahead of every notification queued at dest.
func (a *Actor) SendNotificationToFront(dest Addressable, value uint16, timeout time.Duration) error {
	return SendNotification(dest, a.notification(value), timeout, Front)
}

// SendNotificationToID resolves id in a's directory and sends value to it.
func (a *Actor) SendNotificationToID(id Identifier, value uint16, timeout time.Duration) error {
	dest, err := a.resolve(id)
	if err != nil {
		return err
	}
	return SendNotification(dest, a.notification(value), timeout, Back)
}

// SendNotificationToFrontID resolves id in a's directory and sends value to
// the front of its mailbox.
func (a *Actor) SendNotificationToFrontID(id Identifier, value uint16, timeout time.Duration) error {
	dest, err := a.resolve(id)
	if err != nil {
		return err
	}
	return SendNotification(dest, a.notification(value), timeout, Front)
}

func (a *Actor) resolve(id Identifier) (*Actor, error) {
	dest, ok := a.dir.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrActorNotFound)
	}
	return dest, nil
}

// ReceiveNotification takes the oldest notification from the mailbox,
// waiting up to timeout. It must only be called by the actor's own task.
// On timeout the zero Notification and ErrTimeout are returned.
func (a *Actor) ReceiveNotification(timeout time.Duration) (Notification, error) {
	if err := a.checkpoint(); err != nil {
		return Notification{}, err
	}
	return a.mailbox.pop(a.ctx, timeout)
}

// SendNotification delivers n to dest at pos, waiting up to timeout for
// room. A full mailbox after the timeout yields ErrMailboxFull.
func SendNotification(dest Addressable, n Notification, timeout time.Duration, pos Position) error {
	if dest == nil {
		return ErrNilDestination
	}
	d := dest.base()
	if d == nil {
		return ErrNilDestination
	}

	err := d.mailbox.push(d.ctx, n, timeout, pos)
	metrics.notifications.WithLabelValues(pathTask, resultLabel(err)).Inc()
	if err != nil {
		return fmt.Errorf("notify %s: %w", d.id, err)
	}
	return nil
}
