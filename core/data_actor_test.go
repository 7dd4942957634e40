package core

import (
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestDataActor(t *testing.T, dir *Directory, typ uint8, name string, ring int) *DataActor {
	t.Helper()
	d, err := NewDataActor(typ, DataActorOptions{
		ActorOptions:   testActorOptions(dir, name),
		RingBufferSize: ring,
	})
	if err != nil {
		t.Fatalf("Failed to create data actor %s: %v", name, err)
	}
	t.Cleanup(d.Destroy)
	return d
}

func TestNewDataActor(t *testing.T) {
	dir := NewDirectory()
	d := newTestDataActor(t, dir, 0x90, "data", 64)

	found, ok := dir.Lookup(d.Identifier())
	if !ok || found.DataActor() != d {
		t.Fatal("Expected the directory to resolve to the data actor")
	}
	if d.RingBuffer().Capacity() != 64 {
		t.Errorf("Expected capacity 64, got %d", d.RingBuffer().Capacity())
	}

	_, err := NewDataActor(0x90, DataActorOptions{ActorOptions: testActorOptions(dir, "bad")})
	if err == nil {
		t.Error("Expected an error for a zero ring buffer size")
	}
	if dir.Len() != 1 {
		t.Errorf("A rejected data actor should not be registered, got %d actors", dir.Len())
	}
}

func TestSendDataTo(t *testing.T) {
	dir := NewDirectory()
	a := newTestActor(t, dir, 0x91, "sender")
	d := newTestDataActor(t, dir, 0x92, "receiver", 64)

	if err := a.SendDataTo(d, []byte("payload"), NoWait, 0x10); err != nil {
		t.Fatalf("Failed to send data: %v", err)
	}

	n, err := d.ReceiveNotification(NoWait)
	if err != nil {
		t.Fatalf("Failed to receive notification: %v", err)
	}
	if n.Sender != a.Identifier() || n.Value != 0x10 {
		t.Errorf("Unexpected notification %s", n)
	}

	b, err := d.TryReceiveData()
	if err != nil {
		t.Fatalf("Failed to receive data: %v", err)
	}
	if string(b.Data) != "payload" {
		t.Errorf("Expected 'payload', got %q", b.Data)
	}
	d.ReturnData(b)
}

func TestSendRawData(t *testing.T) {
	dir := NewDirectory()
	a := newTestActor(t, dir, 0x91, "sender")
	d := newTestDataActor(t, dir, 0x92, "receiver", 64)

	if err := a.SendRawDataToID(d.Identifier(), []byte("raw"), NoWait); err != nil {
		t.Fatalf("Failed to send raw data: %v", err)
	}
	if d.MailboxLen() != 0 {
		t.Errorf("Raw data should not queue a notification, got %d", d.MailboxLen())
	}
	b, err := d.ReceiveData(NoWait)
	if err != nil {
		t.Fatalf("Failed to receive data: %v", err)
	}
	if string(b.Data) != "raw" {
		t.Errorf("Expected 'raw', got %q", b.Data)
	}
	d.ReturnData(b)

	if err := a.SendDataToID(d.Identifier(), []byte("id"), NoWait, 1); err != nil {
		t.Fatalf("Failed to send data by id: %v", err)
	}
	if d.MailboxLen() != 1 {
		t.Errorf("Expected 1 notification, got %d", d.MailboxLen())
	}
}

func TestSendDataRejects(t *testing.T) {
	dir := NewDirectory()
	a := newTestActor(t, dir, 0x91, "plain")
	d := newTestDataActor(t, dir, 0x92, "receiver", 8)

	if err := a.SendDataTo(a, []byte("x"), NoWait, 1); !errors.Is(err, ErrNotDataActor) {
		t.Errorf("Expected ErrNotDataActor, got %v", err)
	}
	if err := a.SendDataTo(d, nil, NoWait, 1); !errors.Is(err, ErrNilPayload) {
		t.Errorf("Expected ErrNilPayload, got %v", err)
	}
	if err := a.SendDataTo(d, make([]byte, 9), NoWait, 1); !errors.Is(err, ErrItemTooLarge) {
		t.Errorf("Expected ErrItemTooLarge, got %v", err)
	}
	if err := a.SendDataTo(nil, []byte("x"), NoWait, 1); !errors.Is(err, ErrNilDestination) {
		t.Errorf("Expected ErrNilDestination, got %v", err)
	}
	if err := a.SendDataToID(Identifier{Type: 0x92, ID: 42}, []byte("x"), NoWait, 1); !errors.Is(err, ErrActorNotFound) {
		t.Errorf("Expected ErrActorNotFound, got %v", err)
	}
}

func TestSendDataBufferFullSkipsNotification(t *testing.T) {
	dir := NewDirectory()
	a := newTestActor(t, dir, 0x91, "sender")
	d := newTestDataActor(t, dir, 0x92, "receiver", 8)

	if err := a.SendDataTo(d, []byte("12345678"), NoWait, 1); err != nil {
		t.Fatalf("Failed to fill the buffer: %v", err)
	}
	err := a.SendDataTo(d, []byte("x"), 10*time.Millisecond, 2)
	if !errors.Is(err, ErrBufferFull) {
		t.Fatalf("Expected ErrBufferFull, got %v", err)
	}
	if d.MailboxLen() != 1 {
		t.Errorf("A failed payload must not be announced, got %d notifications", d.MailboxLen())
	}
}

func TestSendDataLockTimeout(t *testing.T) {
	dir := NewDirectory()
	a := newTestActor(t, dir, 0x91, "sender")
	d := newTestDataActor(t, dir, 0x92, "receiver", 64)

	// another sender holds the lock
	if !d.sendLock.TryAcquire(1) {
		t.Fatal("Failed to take the send lock")
	}

	err := a.SendDataTo(d, []byte("late"), 10*time.Millisecond, 1)
	if !errors.Is(err, ErrLockTimeout) {
		t.Errorf("Expected ErrLockTimeout, got %v", err)
	}
	if d.RingBuffer().Len() != 0 || d.MailboxLen() != 0 {
		t.Error("Nothing should be delivered when the lock is not taken")
	}

	d.sendLock.Release(1)
	if err := a.SendDataTo(d, []byte("late"), 10*time.Millisecond, 1); err != nil {
		t.Errorf("Send after the lock is released failed: %v", err)
	}
}

func TestSendDataNotificationLegIsUnbounded(t *testing.T) {
	dir := NewDirectory()
	a := newTestActor(t, dir, 0x91, "sender")
	opts := testActorOptions(dir, "receiver")
	opts.MailboxSize = 1
	d, err := NewDataActor(0x92, DataActorOptions{ActorOptions: opts, RingBufferSize: 64})
	if err != nil {
		t.Fatalf("Failed to create data actor: %v", err)
	}
	defer d.Destroy()

	a.SendNotification(d, 0xff, NoWait)

	done := make(chan error, 1)
	go func() {
		done <- a.SendDataTo(d, []byte("payload"), 10*time.Millisecond, 1)
	}()

	// the payload lands, then the sender waits for a mailbox slot past its timeout
	select {
	case err := <-done:
		t.Fatalf("Send returned while the mailbox was full: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	if d.RingBuffer().Len() != 1 {
		t.Errorf("Expected the payload in the ring buffer, got %d items", d.RingBuffer().Len())
	}

	if _, err := d.ReceiveNotification(NoWait); err != nil {
		t.Fatalf("Failed to drain the mailbox: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Send failed once the mailbox drained: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Send did not complete")
	}
}

func TestDataBeforeNotification(t *testing.T) {
	const (
		senders = 4
		perSend = 50
	)

	dir := NewDirectory()
	d := newTestDataActor(t, dir, 0xa0, "sink", 64)

	var wg sync.WaitGroup
	for s := 0; s < senders; s++ {
		sender := newTestActor(t, dir, 0xa1, "source")
		wg.Add(1)
		go func(s int, sender *Actor) {
			defer wg.Done()
			for i := 0; i < perSend; i++ {
				tag := uint16(s<<8 | i)
				var payload [2]byte
				binary.LittleEndian.PutUint16(payload[:], tag)
				if err := sender.SendDataTo(d, payload[:], WaitForever, tag); err != nil {
					t.Errorf("Sender %d failed: %v", s, err)
					return
				}
			}
		}(s, sender)
	}

	for i := 0; i < senders*perSend; i++ {
		n, err := d.ReceiveNotification(time.Second)
		if err != nil {
			t.Fatalf("Failed to receive notification %d: %v", i, err)
		}
		b, err := d.TryReceiveData()
		if err != nil {
			t.Fatalf("Notification %s arrived before its payload", n)
		}
		if got := binary.LittleEndian.Uint16(b.Data); got != n.Value {
			t.Errorf("Payload %#04x does not match notification %#04x", got, n.Value)
		}
		d.ReturnData(b)
	}
	wg.Wait()
}
