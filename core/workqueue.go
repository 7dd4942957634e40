package core

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const (
	// NotifyWorkAvailable is the notification value announcing a queued job
	NotifyWorkAvailable uint16 = 0x01

	// DescriptorSize is the size of a job descriptor in the ring buffer
	DescriptorSize = 16
)

// JobFunc runs on the work queue task. A non-empty result is delivered to
// the job's reply target as a payload.
type JobFunc func(args any) []byte

// Job is a unit of deferred work.
type Job struct {
	Args any
	Fn   JobFunc

	// Reply receives the completion notification, nil for fire-and-forget
	Reply      Addressable
	ReplyValue uint16
}

// WorkQueueOptions configures a WorkQueue.
type WorkQueueOptions struct {
	TaskOptions

	// Length is the number of jobs that can be queued at once
	Length int

	// Directory the queue registers in, nil means DefaultDirectory()
	Directory *Directory
}

// DefaultWorkQueueOptions returns the options used when none are given.
func DefaultWorkQueueOptions() WorkQueueOptions {
	return WorkQueueOptions{
		TaskOptions: TaskOptions{
			Name:      "workQueue",
			StackSize: 5000,
			Priority:  3,
			Core:      0,
		},
		Length: 3,
	}
}

// WorkQueue is a DataActor that runs jobs submitted by other actors, one at
// a time, in submission order.
//
// A job travels as a fixed-size descriptor through the queue's own ring
// buffer; the job itself is parked until the descriptor is consumed.
type WorkQueue struct {
	*DataActor

	seq     atomic.Uint64
	jobs    sync.Map // uint64 -> Job
	pending atomic.Int64
}

// NewWorkQueue creates a work queue. It is registered with TypeWorkQueue but
// does not run until Start.
func NewWorkQueue(opts WorkQueueOptions) (*WorkQueue, error) {
	if opts.Length <= 0 {
		opts.Length = DefaultWorkQueueOptions().Length
	}
	if opts.Name == "" {
		opts.Name = DefaultWorkQueueOptions().Name
	}

	d, err := newDataActor(TypeWorkQueue, DataActorOptions{
		ActorOptions: ActorOptions{
			TaskOptions: opts.TaskOptions,
			MailboxSize: opts.Length,
			Directory:   opts.Directory,
		},
		// storage holds exactly Length descriptors
		RingBufferSize: (DescriptorSize+itemHeaderSize)*opts.Length - itemHeaderSize,
	})
	if err != nil {
		return nil, err
	}
	return &WorkQueue{DataActor: d}, nil
}

func (q *WorkQueue) base() *Actor {
	if q == nil {
		return nil
	}
	return q.DataActor.base()
}

// Start runs the queue loop on the queue's task.
func (q *WorkQueue) Start() error {
	return q.Task.Start(q.loop)
}

// Pending returns the number of submitted jobs not picked up yet.
func (q *WorkQueue) Pending() int {
	return int(q.pending.Load())
}

// SendWork submits job, waiting as long as the queue is full. Jobs run in
// submission order.
func (q *WorkQueue) SendWork(job Job) error {
	return q.SendWorkTimeout(job, WaitForever)
}

// SendWorkTimeout submits job, waiting up to timeout for room in the queue.
// A requester that also drains the job's replies should use a bounded
// timeout: the queue blocks on a full reply target.
func (q *WorkQueue) SendWorkTimeout(job Job, timeout time.Duration) error {
	if job.Fn == nil {
		return ErrNilJob
	}

	seq := q.seq.Inc()
	q.jobs.Store(seq, job)
	q.pending.Inc()

	var desc [DescriptorSize]byte
	binary.LittleEndian.PutUint64(desc[0:], seq)
	if job.Reply != nil {
		if r := job.Reply.base(); r != nil {
			binary.LittleEndian.PutUint16(desc[8:], r.id.Key())
		}
	}
	binary.LittleEndian.PutUint16(desc[10:], job.ReplyValue)

	if err := SendData(q, desc[:], timeout, true, q.notification(NotifyWorkAvailable)); err != nil {
		if _, ok := q.jobs.LoadAndDelete(seq); ok {
			q.pending.Dec()
		}
		return err
	}
	return nil
}

func (q *WorkQueue) loop(ctx context.Context) {
	for {
		n, err := q.ReceiveNotification(WaitForever)
		if err != nil {
			if ctx.Err() != nil {
				if left := q.Pending(); left > 0 {
					q.log.Warn("work queue stopped with pending jobs", zap.Int("pending", left))
				}
				return
			}
			continue
		}
		if err := q.serve(n); err != nil {
			metrics.jobs.WithLabelValues(jobRejected).Inc()
			q.log.Error("job rejected", zap.Stringer("from", n.Sender), zap.Error(err))
		}
	}
}

// serve handles one work-available notification.
func (q *WorkQueue) serve(n Notification) error {
	if n.Value != NotifyWorkAvailable {
		return fmt.Errorf("%w: value %#04x", ErrUnexpectedNotification, n.Value)
	}

	b, err := q.ReceiveData(WaitForever)
	if err != nil {
		return err
	}
	if b.Len() != DescriptorSize {
		size := b.Len()
		b.Release()
		return fmt.Errorf("%w: got %d, expected %d", ErrJobSize, size, DescriptorSize)
	}
	seq := binary.LittleEndian.Uint64(b.Data[0:])
	b.Release()

	v, ok := q.jobs.LoadAndDelete(seq)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownJob, seq)
	}
	q.pending.Dec()

	job := v.(Job)
	result, err := q.execute(job)
	if err != nil {
		metrics.jobs.WithLabelValues(jobPanicked).Inc()
		q.log.Error("job panicked", zap.Uint64("seq", seq), zap.Error(err))
	} else {
		metrics.jobs.WithLabelValues(jobDone).Inc()
	}
	q.reply(job, result)
	return nil
}

func (q *WorkQueue) execute(job Job) (result []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("%v", r)
		}
	}()
	return job.Fn(job.Args), nil
}

// reply delivers result to the job's reply target. A result that cannot be
// delivered as a payload degrades to a bare notification so the requester
// is still woken.
func (q *WorkQueue) reply(job Job, result []byte) {
	if job.Reply == nil {
		return
	}
	dest := job.Reply.base()
	if dest == nil {
		return
	}
	n := q.notification(job.ReplyValue)

	if len(result) > 0 {
		if dest.data != nil {
			err := SendData(dest, result, WaitForever, true, n)
			if err == nil {
				return
			}
			q.log.Error("unable to deliver job result", zap.Stringer("to", dest.id), zap.Error(err))
		} else {
			q.log.Error("job result dropped, reply target has no ring buffer",
				zap.Stringer("to", dest.id), zap.Int("size", len(result)))
		}
	}

	if err := SendNotification(dest, n, WaitForever, Back); err != nil {
		q.log.Error("unable to notify job completion", zap.Stringer("to", dest.id), zap.Error(err))
	}
}
