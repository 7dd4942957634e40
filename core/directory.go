package core

import (
	"fmt"
	"io"
	"sync"

	"github.com/sugawarayuuta/sonnet"
	"go.uber.org/zap"

	"github.com/najoast/wtask/logger"
)

// Directory is the table of live actors. Entries are kept in registration
// order and indexed by the 16-bit identifier key.
//
// Registration and removal are expected to happen during a serialized
// startup or shutdown phase; lookups may run concurrently with each other.
type Directory struct {
	mu     sync.RWMutex
	actors []*Actor
	index  map[uint16]*Actor
}

var defaultDirectory = NewDirectory()

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		index: make(map[uint16]*Actor),
	}
}

// DefaultDirectory returns the process-wide directory.
func DefaultDirectory() *Directory {
	return defaultDirectory
}

// register assigns the first free id of typ to a and appends it.
func (d *Directory) register(a *Actor, typ uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := Identifier{Type: typ}
	for candidate := IDMin; candidate < IDUnavailable; candidate++ {
		id.ID = candidate
		if _, taken := d.index[id.Key()]; !taken {
			a.id = id
			d.actors = append(d.actors, a)
			d.index[id.Key()] = a
			metrics.actorsLive.WithLabelValues(typeLabel(typ)).Inc()
			return nil
		}
	}

	logger.Named("directory").Error("can't assign another id because all ids are taken",
		zap.Uint8("type", typ), zap.String("name", a.Name()))
	return fmt.Errorf("type %#02x: %w", typ, ErrNoIDAvailable)
}

// unregister removes a. An actor that is not present was already removed.
func (d *Directory) unregister(a *Actor) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := a.id.Key()
	if d.index[key] != a {
		return
	}
	delete(d.index, key)

	for i, candidate := range d.actors {
		if candidate == a {
			d.actors = append(d.actors[:i], d.actors[i+1:]...)
			break
		}
	}
	metrics.actorsLive.WithLabelValues(typeLabel(a.id.Type)).Dec()
}

// Lookup finds an actor by its identifier.
func (d *Directory) Lookup(id Identifier) (*Actor, bool) {
	d.mu.RLock()
	a, ok := d.index[id.Key()]
	d.mu.RUnlock()

	if !ok {
		logger.Named("directory").Error("can't find actor",
			zap.Uint8("type", id.Type), zap.Uint8("id", id.ID))
		return nil, false
	}
	return a, true
}

// LookupByType returns every live actor of typ in registration order.
func (d *Directory) LookupByType(typ uint8) []*Actor {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var actors []*Actor
	for _, a := range d.actors {
		if a.id.Type == typ {
			actors = append(actors, a)
		}
	}
	return actors
}

// Len returns the number of live actors.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.actors)
}

// Actors returns the live actors in registration order.
func (d *Directory) Actors() []*Actor {
	d.mu.RLock()
	defer d.mu.RUnlock()

	actors := make([]*Actor, len(d.actors))
	copy(actors, d.actors)
	return actors
}

// Snapshot returns a description of every live actor.
func (d *Directory) Snapshot() []ActorInfo {
	actors := d.Actors()
	infos := make([]ActorInfo, 0, len(actors))
	for _, a := range actors {
		infos = append(infos, a.Info())
	}
	return infos
}

// Dump writes the directory as a table.
func (d *Directory) Dump(w io.Writer) {
	infos := d.Snapshot()
	if len(infos) == 0 {
		fmt.Fprintln(w, "There is no actor currently registered")
		return
	}

	fmt.Fprintln(w, "Actor registered list")
	fmt.Fprintln(w, " Type |  ID | Actor name | Core | State")
	fmt.Fprintln(w, "------|-----|------------|------|------")
	for _, info := range infos {
		name := info.Name
		if len(name) > 10 {
			name = name[:10]
		}
		fmt.Fprintf(w, " %4d | %3d | %10s | %4d | %5t\n", info.Type, info.ID, name, info.Core, info.Running)
	}
}

// MarshalJSON encodes the directory snapshot.
func (d *Directory) MarshalJSON() ([]byte, error) {
	return sonnet.Marshal(d.Snapshot())
}

// LookupByIdentifier finds an actor in the default directory.
func LookupByIdentifier(id Identifier) (*Actor, bool) {
	return defaultDirectory.Lookup(id)
}

// LookupByType returns every actor of typ in the default directory.
func LookupByType(typ uint8) []*Actor {
	return defaultDirectory.LookupByType(typ)
}

// Dump writes the default directory as a table.
func Dump(w io.Writer) {
	defaultDirectory.Dump(w)
}

func typeLabel(typ uint8) string {
	return fmt.Sprintf("%#02x", typ)
}
