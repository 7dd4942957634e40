package core

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// DataActor is an Actor that also owns a ring buffer for variable-length
// payloads. Senders push a payload, then optionally a notification; the
// payload is always in the ring buffer before the notification is queued.
type DataActor struct {
	*Actor

	ring *RingBuffer

	// serializes payload+notification pairs from concurrent senders
	sendLock *semaphore.Weighted
}

// NewDataActor creates a DataActor of typ and registers it.
func NewDataActor(typ uint8, opts DataActorOptions) (*DataActor, error) {
	return newDataActor(typ, opts)
}

func newDataActor(typ uint8, opts DataActorOptions) (*DataActor, error) {
	if opts.RingBufferSize <= 0 {
		return nil, fmt.Errorf("ring buffer size must be positive, got %d", opts.RingBufferSize)
	}

	d := &DataActor{
		ring:     NewRingBuffer(opts.RingBufferSize),
		sendLock: semaphore.NewWeighted(1),
	}
	if _, err := newActor(typ, opts.ActorOptions, func(a *Actor) {
		d.Actor = a
		a.data = d
	}); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *DataActor) base() *Actor {
	if d == nil {
		return nil
	}
	return d.Actor
}

// RingBuffer returns the actor's ring buffer.
func (d *DataActor) RingBuffer() *RingBuffer {
	return d.ring
}

// ReceiveData takes the oldest payload, waiting up to timeout. It must only
// be called by the actor's own task, and the Borrow must be returned with
// ReturnData.
func (d *DataActor) ReceiveData(timeout time.Duration) (*Borrow, error) {
	if err := d.checkpoint(); err != nil {
		return nil, err
	}
	return d.ring.Receive(d.ctx, timeout)
}

// TryReceiveData is ReceiveData without waiting.
func (d *DataActor) TryReceiveData() (*Borrow, error) {
	return d.ReceiveData(NoWait)
}

// ReturnData releases a payload obtained from ReceiveData.
func (d *DataActor) ReturnData(b *Borrow) {
	b.Release()
}

// SendData pushes data into dest's ring buffer and, when notify is set,
// queues n once the payload is in place.
//
// timeout bounds both the wait for the sender lock and the wait for ring
// buffer room. The notification leg waits without a bound.
func SendData(dest Addressable, data []byte, timeout time.Duration, notify bool, n Notification) error {
	if dest == nil {
		return ErrNilDestination
	}
	a := dest.base()
	if a == nil {
		return ErrNilDestination
	}
	if a.data == nil {
		return fmt.Errorf("%s: %w", a.id, ErrNotDataActor)
	}
	if len(data) == 0 {
		return ErrNilPayload
	}

	err := a.data.sendData(data, timeout, notify, n)
	metrics.dataSends.WithLabelValues(resultLabel(err)).Inc()
	return err
}

func (d *DataActor) sendData(data []byte, timeout time.Duration, notify bool, n Notification) error {
	if err := acquire(d.ctx, d.sendLock, timeout); err != nil {
		if errors.Is(err, ErrTimeout) {
			d.log.Error("unable to take ring buffer lock", zap.Stringer("from", n.Sender))
			return fmt.Errorf("send data to %s: %w", d.id, ErrLockTimeout)
		}
		return fmt.Errorf("send data to %s: %w", d.id, err)
	}
	defer d.sendLock.Release(1)

	if err := d.ring.Send(d.ctx, data, timeout); err != nil {
		return fmt.Errorf("send data to %s: %w", d.id, err)
	}
	metrics.dataBytes.Add(float64(len(data)))

	if !notify {
		return nil
	}
	err := d.mailbox.push(d.ctx, n, WaitForever, Back)
	metrics.notifications.WithLabelValues(pathTask, resultLabel(err)).Inc()
	if err != nil {
		return fmt.Errorf("notify %s: %w", d.id, err)
	}
	return nil
}

// SendDataTo pushes data to dest and notifies it with value.
func (a *Actor) SendDataTo(dest Addressable, data []byte, timeout time.Duration, value uint16) error {
	return SendData(dest, data, timeout, true, a.notification(value))
}

// SendDataToID resolves id in a's directory and sends data with value.
func (a *Actor) SendDataToID(id Identifier, data []byte, timeout time.Duration, value uint16) error {
	dest, err := a.resolve(id)
	if err != nil {
		return err
	}
	return SendData(dest, data, timeout, true, a.notification(value))
}

// SendRawDataTo pushes data to dest without a notification.
func (a *Actor) SendRawDataTo(dest Addressable, data []byte, timeout time.Duration) error {
	return SendData(dest, data, timeout, false, Notification{})
}

// SendRawDataToID resolves id in a's directory and pushes data without a
// notification.
func (a *Actor) SendRawDataToID(id Identifier, data []byte, timeout time.Duration) error {
	dest, err := a.resolve(id)
	if err != nil {
		return err
	}
	return SendData(dest, data, timeout, false, Notification{})
}
