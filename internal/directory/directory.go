// Package directory maps sessions to the entity they control.
package directory

import (
	"context"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/luciancaetano/actornet"
)

// Directory is a session ID to entity ID lookup table. Entries optionally expire
// after a TTL; by default they live until detached.
type Directory struct {
	entries *gocache.Cache
}

// New returns a Directory. A ttl <= 0 disables expiry; cleanup is the interval
// at which expired entries are purged.
func New(ttl, cleanup time.Duration) *Directory {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	if cleanup <= 0 {
		cleanup = 10 * time.Second
	}
	return &Directory{entries: gocache.New(ttl, cleanup)}
}

func key(sessionID int64) string {
	return strconv.FormatInt(sessionID, 10)
}

// Attach records that sessionID controls entityID, replacing any previous entry.
func (d *Directory) Attach(sessionID, entityID int64) error {
	if entityID <= 0 {
		return actornet.ErrInvalidEntityID
	}
	if sessionID <= 0 {
		return actornet.ErrSessionNotFound
	}
	d.entries.SetDefault(key(sessionID), entityID)
	return nil
}

func (d *Directory) Detach(sessionID int64) {
	d.entries.Delete(key(sessionID))
}

// EntityFor returns the entity attached to sessionID, or 0.
func (d *Directory) EntityFor(ctx context.Context, sessionID int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if sessionID <= 0 {
		return 0, nil
	}
	v, ok := d.entries.Get(key(sessionID))
	if !ok {
		return 0, nil
	}
	return v.(int64), nil
}

// Resolve looks up the entity of the call's session. It has the shape of
// actornet.EntityHandlerFunc.Resolve.
func (d *Directory) Resolve(ctx context.Context, call *actornet.Call) (int64, error) {
	return d.EntityFor(ctx, call.SessionID)
}

// OnSessionRemoved detaches the session named by an EventSessionRemoved event.
func (d *Directory) OnSessionRemoved(e actornet.Event) {
	if e.Kind == actornet.EventSessionRemoved {
		d.Detach(e.SessionID)
	}
}

func (d *Directory) Len() int {
	return d.entries.ItemCount()
}
