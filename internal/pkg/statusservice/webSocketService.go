package statusservice

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
)

// WsConn is interface for websocket handling in status service
type WsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
	WriteJSON(v interface{}) error
}

// Snapshot returns current job status for a fresh subscriber, false if the job is not visible to the owner
type Snapshot func(ctx context.Context, owner, id string) (interface{}, bool)

const maxIDLen = 100

// WSConnKeeper keeps subscribed websocket connections by owner and job ID.
// One connection follows one job, a new ID message moves the subscription
type WSConnKeeper struct {
	subs     map[string]map[WsConn]struct{}
	conns    map[WsConn]string
	lock     sync.Mutex
	idle     time.Duration
	snapshot Snapshot
}

// NewWSConnKeeper creates keeper, snapshot may be nil
func NewWSConnKeeper(snapshot Snapshot) *WSConnKeeper {
	return &WSConnKeeper{subs: map[string]map[WsConn]struct{}{}, conns: map[WsConn]string{},
		idle: time.Minute * 30, snapshot: snapshot}
}

// HandleConnection reads job IDs from the connection until it is closed or idle.
// Each ID subscribes the connection to the owner's job
func (kp *WSConnKeeper) HandleConnection(conn WsConn, owner string) error {
	defer kp.remove(conn)
	defer conn.Close()
	readCh := make(chan string)
	go func() {
		defer close(readCh)
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				goapp.Log.Debug().Err(err).Msg("ws read")
				return
			}
			id := strings.TrimSpace(string(message))
			if id == "" || len(id) > maxIDLen {
				goapp.Log.Warn().Str("msg", goapp.Sanitize(id)).Msg("skip ws msg")
				time.Sleep(20 * time.Millisecond)
				continue
			}
			readCh <- id
		}
	}()

	ta := time.After(kp.idle)
	for {
		select {
		case <-ta:
			goapp.Log.Debug().Str("owner", owner).Msg("ws conn idle, close")
			return nil
		case id, ok := <-readCh:
			if !ok {
				return nil
			}
			kp.subscribe(conn, key(owner, id))
			kp.sendSnapshot(conn, owner, id)
			ta = time.After(kp.idle)
		}
	}
}

func (kp *WSConnKeeper) sendSnapshot(conn WsConn, owner, id string) {
	if kp.snapshot == nil {
		return
	}
	ctx, cf := context.WithTimeout(context.Background(), 10*time.Second)
	defer cf()
	st, ok := kp.snapshot(ctx, owner, id)
	if !ok {
		return
	}
	if err := conn.WriteJSON(st); err != nil {
		goapp.Log.Warn().Err(err).Str("ID", id).Msg("can't write snapshot")
	}
}

func key(owner, id string) string {
	return owner + "/" + id
}

func (kp *WSConnKeeper) subscribe(conn WsConn, k string) {
	kp.lock.Lock()
	defer kp.lock.Unlock()
	kp.removeNoSync(conn)
	kp.conns[conn] = k
	set, found := kp.subs[k]
	if !found {
		set = map[WsConn]struct{}{}
		kp.subs[k] = set
	}
	set[conn] = struct{}{}
	goapp.Log.Debug().Str("key", k).Int("active", len(kp.conns)).Msg("ws subscribed")
}

func (kp *WSConnKeeper) remove(conn WsConn) {
	kp.lock.Lock()
	defer kp.lock.Unlock()
	kp.removeNoSync(conn)
	goapp.Log.Debug().Int("active", len(kp.conns)).Msg("ws removed")
}

func (kp *WSConnKeeper) removeNoSync(conn WsConn) {
	if k, found := kp.conns[conn]; found {
		if set, found := kp.subs[k]; found {
			delete(set, conn)
			if len(set) == 0 {
				delete(kp.subs, k)
			}
		}
	}
	delete(kp.conns, conn)
}

// GetConnections returns connections of the owner subscribed to job id
func (kp *WSConnKeeper) GetConnections(owner, id string) ([]WsConn, bool) {
	kp.lock.Lock()
	defer kp.lock.Unlock()
	set, found := kp.subs[key(owner, id)]
	if !found {
		return nil, false
	}
	res := make([]WsConn, 0, len(set))
	for c := range set {
		res = append(res, c)
	}
	return res, true
}

// Count returns number of subscribed connections
func (kp *WSConnKeeper) Count() int {
	kp.lock.Lock()
	defer kp.lock.Unlock()
	return len(kp.conns)
}
