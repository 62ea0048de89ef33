// Package relay mirrors the machine onto NATS: snapshots out, commands in.
package relay

import (
	"encoding/json"
	"fmt"
	log "log/slog"
	"strings"

	"github.com/nats-io/nats.go"

	"alfred/internal/session"
)

type Commands interface {
	Hear(text string)
	Stop()
	Greet()
}

type Relay struct {
	nc     *nats.Conn
	owned  bool
	prefix string
	cmds   Commands
	subs   []*nats.Subscription
}

// Connect dials url and returns a relay that owns the connection.
func Connect(url, prefix string, cmds Commands) (*Relay, error) {
	nc, err := nats.Connect(url,
		nats.Name("alfred"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("NATS disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", url, err)
	}

	r, err := New(nc, prefix, cmds)
	if err != nil {
		nc.Close()
		return nil, err
	}
	r.owned = true
	return r, nil
}

func New(nc *nats.Conn, prefix string, cmds Commands) (*Relay, error) {
	r := &Relay{nc: nc, prefix: prefix, cmds: cmds}

	handlers := map[string]nats.MsgHandler{
		"cmd.stop":  func(*nats.Msg) { cmds.Stop() },
		"cmd.greet": func(*nats.Msg) { cmds.Greet() },
		"cmd.hear": func(m *nats.Msg) {
			if text := strings.TrimSpace(string(m.Data)); text != "" {
				cmds.Hear(text)
			}
		},
	}
	for suffix, h := range handlers {
		sub, err := nc.Subscribe(r.Subject(suffix), h)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("subscribe %s: %w", r.Subject(suffix), err)
		}
		r.subs = append(r.subs, sub)
	}

	log.Info("Relay ready", "prefix", prefix)
	return r, nil
}

func (r *Relay) Subject(suffix string) string {
	return r.prefix + "." + suffix
}

// Publish sends s on {prefix}.state. The client buffers, so it does not block.
func (r *Relay) Publish(s session.State) {
	data, err := json.Marshal(s)
	if err != nil {
		log.Error("Failed to encode state", "err", err)
		return
	}
	if err := r.nc.Publish(r.Subject("state"), data); err != nil {
		log.Warn("Failed to publish state", "err", err)
	}
}

func (r *Relay) Close() {
	for _, sub := range r.subs {
		if err := sub.Unsubscribe(); err != nil {
			log.Debug("Unsubscribe failed", "subject", sub.Subject, "err", err)
		}
	}
	r.subs = nil

	if r.owned {
		r.nc.Close()
	}
}
