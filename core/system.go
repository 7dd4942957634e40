package core

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// SystemStats summarizes the actors of a directory.
type SystemStats struct {
	Actors    int            `json:"actors"`
	Running   int            `json:"running"`
	Suspended int            `json:"suspended"`
	Queued    int            `json:"queued_notifications"`
	Buffered  int            `json:"buffered_items"`
	ByType    map[string]int `json:"by_type"`
}

// Stats returns statistics for every actor in dir, nil meaning the default
// directory.
func Stats(dir *Directory) SystemStats {
	if dir == nil {
		dir = defaultDirectory
	}

	stats := SystemStats{ByType: make(map[string]int)}
	for _, a := range dir.Actors() {
		stats.Actors++
		switch a.State() {
		case TaskStateRunning:
			stats.Running++
		case TaskStateSuspended:
			stats.Suspended++
		}
		stats.Queued += a.MailboxLen()
		if a.data != nil {
			stats.Buffered += a.data.ring.Len()
		}
		stats.ByType[typeLabel(a.id.Type)]++
	}
	return stats
}

// StopAll destroys every actor in dir, nil meaning the default directory.
// Tasks are stopped concurrently, then the actors are removed one by one.
// StopAll returns ctx.Err() if the tasks have not all returned when ctx is
// done; the directory is left untouched in that case.
func StopAll(ctx context.Context, dir *Directory) error {
	if dir == nil {
		dir = defaultDirectory
	}

	actors := dir.Actors()
	done := make(chan struct{})
	go func() {
		defer close(done)
		var g errgroup.Group
		for _, a := range actors {
			g.Go(a.Task.Stop)
		}
		g.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	for _, a := range actors {
		a.Destroy()
	}
	return nil
}
