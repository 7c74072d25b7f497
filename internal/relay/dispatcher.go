// ABOUTME: Event dispatch: fans a published event out to every client hosting a matching agent type.
// ABOUTME: Deduplicates so a client receives one copy no matter how many of its types match.

package relay

import (
	"github.com/2389/agent-relay/internal/wire"
)

// Publish broadcasts an event to every client hosting an agent type whose
// subscription matches the event's topic type. Delivery is best effort:
// matched types with no current owner are skipped, and a full queue under
// the reject policy drops the event for that client with a warning. The
// publishing client receives the event like any other subscriber.
func (x *Exchange) Publish(originClientID string, ev *wire.Event) {
	x.mu.Lock()
	matched := x.subs.resolveTopic(ev.TopicType)

	// Dedupe by owning client: several matched agent types may live on one
	// connection.
	targets := make(map[string]*Connection)
	for agentType := range matched {
		owner, found := x.types.resolve(agentType)
		if !found {
			continue
		}
		if conn, connected := x.conns[owner]; connected {
			targets[owner] = conn
		}
	}
	x.mu.Unlock()

	for clientID, conn := range targets {
		if err := conn.Enqueue(&wire.Envelope{Event: ev}); err != nil {
			x.logger.Warn("failed to deliver event",
				"topic_type", ev.TopicType,
				"client_id", clientID,
				"error", err,
			)
		}
	}

	x.logger.Debug("event published",
		"topic_type", ev.TopicType,
		"topic_source", ev.TopicSource,
		"origin", originClientID,
		"matched_types", len(matched),
		"target_clients", len(targets),
	)
}
