package core

// InterruptTarget is the view of an actor handed to interrupt handlers.
// Sends through it never block and are always signed with ISRIdentifier.
type InterruptTarget interface {
	Identifier() Identifier
	isrMailbox() *mailbox
}

type isrTarget struct {
	a *Actor
}

func (t isrTarget) Identifier() Identifier {
	if t.a == nil {
		return Identifier{}
	}
	return t.a.id
}

func (t isrTarget) isrMailbox() *mailbox {
	if t.a == nil {
		return nil
	}
	return t.a.mailbox
}

// InterruptTarget returns the interrupt-safe view of a.
func (a *Actor) InterruptTarget() InterruptTarget {
	return isrTarget{a: a}
}

// SendNotificationFromISR appends value to dest's mailbox without waiting.
// woken reports that the destination was blocked receiving and should be
// scheduled. A full mailbox returns ErrMailboxFull.
func SendNotificationFromISR(dest InterruptTarget, value uint16) (woken bool, err error) {
	return sendFromISR(dest, value, Back)
}

// SendNotificationToFrontFromISR is SendNotificationFromISR inserting at the
// front of the mailbox.
func SendNotificationToFrontFromISR(dest InterruptTarget, value uint16) (woken bool, err error) {
	return sendFromISR(dest, value, Front)
}

func sendFromISR(dest InterruptTarget, value uint16, pos Position) (bool, error) {
	if dest == nil {
		return false, ErrNilDestination
	}
	mb := dest.isrMailbox()
	if mb == nil {
		return false, ErrNilDestination
	}

	woken, ok := mb.tryPush(Notification{Sender: ISRIdentifier, Value: value}, pos)
	if !ok {
		metrics.notifications.WithLabelValues(pathISR, resultFailed).Inc()
		return false, ErrMailboxFull
	}
	metrics.notifications.WithLabelValues(pathISR, resultOK).Inc()
	return woken, nil
}
