package server

import (
	"net/http"
	"time"

	"github.com/cyclopcam/labeler/pkg/event"
	"github.com/cyclopcam/labeler/pkg/gen"
	"github.com/cyclopcam/labeler/pkg/session"
	"github.com/julienschmidt/httprouter"
)

// Number of events that may queue up for a slow websocket client before we start dropping them
const eventQueueSize = 100

const eventWriteTimeout = 10 * time.Second

// httpDocEvents streams the events of a document to a websocket, as JSON.
// The first message is a snapshot of the current state, so the client does not need a separate GET.
func (s *Server) httpDocEvents(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	doc := s.getDocumentOrPanic(p)

	c, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Errorf("httpDocEvents websocket upgrade failed: %v", err)
		return
	}
	defer c.Close()

	queue := event.NewChannel(eventQueueSize)
	doc.AddListener(queue)
	defer doc.RemoveListener(queue)

	// We don't expect any messages from the client, but we must read in order to notice a close
	clientClosed := make(chan struct{})
	go func() {
		defer close(clientClosed)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(msg any) bool {
		c.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
		if err := c.WriteJSON(msg); err != nil {
			s.Log.Infof("httpDocEvents write failed: %v", err)
			return false
		}
		return true
	}

	if !send(&initialEventJSON{Kind: "snapshot", Snapshot: doc.Snapshot()}) {
		return
	}

	dropped := 0
	for {
		select {
		case <-clientClosed:
			return
		case <-s.closing:
			return
		case ev := <-queue.C:
			batch := gen.DrainChannel(queue.C, []any{ev}, eventQueueSize)
			for _, e := range batch {
				if !send(e) {
					return
				}
			}
			if n := queue.Dropped(); n != dropped {
				s.Log.Warnf("httpDocEvents: client is slow, %v events dropped so far", n)
				dropped = n
			}
		}
	}
}

type initialEventJSON struct {
	Kind     string            `json:"kind"`
	Snapshot *session.Snapshot `json:"snapshot"`
}
