// Package notifier fans match events out to subscribers over an embedded
// NATS server. The server runs in-process and does not listen on a socket;
// the websocket hub and tests subscribe through in-process connections.
package notifier

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/matchdeck/matchdeck/internal/domain"
)

const readyTimeout = 5 * time.Second

// subjectPrefix namespaces all match event subjects
const subjectPrefix = "match."

// Notifier publishes match events on an embedded NATS server
type Notifier struct {
	srv *server.Server
	nc  *nats.Conn
}

// New starts the embedded server and connects a publishing client
func New() (*Notifier, error) {
	srv, err := server.NewServer(&server.Options{
		ServerName: "matchdeck",
		DontListen: true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating nats server: %w", err)
	}
	go srv.Start()
	if !srv.ReadyForConnections(readyTimeout) {
		srv.Shutdown()
		return nil, fmt.Errorf("nats server not ready after %s", readyTimeout)
	}

	nc, err := nats.Connect("", nats.InProcessServer(srv))
	if err != nil {
		srv.Shutdown()
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}

	return &Notifier{srv: srv, nc: nc}, nil
}

// Close drains the client and shuts the server down
func (n *Notifier) Close() {
	n.nc.Drain()
	n.srv.Shutdown()
	n.srv.WaitForShutdown()
}

// Publish sends one event on the match's subject. Publishing never blocks
// the caller; slow subscribers fall behind on their own connections.
func (n *Notifier) Publish(ev domain.Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	return n.nc.Publish(subjectPrefix+ev.MatchID, data)
}

// Subscribe delivers events for one match to fn on a NATS delivery goroutine
func (n *Notifier) Subscribe(matchID string, fn func(domain.Event)) (*nats.Subscription, error) {
	return n.subscribe(subjectPrefix+matchID, fn)
}

// SubscribeAll delivers every match's events to fn
func (n *Notifier) SubscribeAll(fn func(domain.Event)) (*nats.Subscription, error) {
	return n.subscribe(subjectPrefix+">", fn)
}

func (n *Notifier) subscribe(subject string, fn func(domain.Event)) (*nats.Subscription, error) {
	return n.nc.Subscribe(subject, func(msg *nats.Msg) {
		var ev domain.Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return
		}
		fn(ev)
	})
}
