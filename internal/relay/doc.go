// Package relay implements the broker core: attached client connections,
// the agent type registry, topic subscriptions, request routing, and event
// dispatch.
//
// # Exchange
//
// The Exchange is the single owner of all routing state:
//
//	x := relay.NewExchange(relay.Options{}, logger)
//
// Key operations:
//
//   - Open(clientID, sender): attach a client and start its send loop
//   - Close(clientID): detach a client and purge everything it owned
//   - RegisterAgentType(clientID, name): claim an agent type
//   - AddSubscription / RemoveSubscription / ListSubscriptions
//   - Route(origin, request): forward a request to the hosting client
//   - Respond(target, response): correlate an answer back to its caller
//   - Publish(origin, event): broadcast to matching subscribers
//
// All tables live behind one mutex, so multi-table operations, disconnect
// cleanup above all, are atomic: there is no window where a half-removed
// client can still be routed to.
//
// # Connections
//
// Each attached client has a Connection with a bounded FIFO outbound queue
// drained by a dedicated send loop. Queue capacity and overflow policy
// (block, drop_oldest, reject) come from Options. A send failure surfaces on
// Connection.Err so the supervising stream handler can shut the channel down
// deterministically.
//
// # Request correlation
//
// Routing a request records a pending entry keyed by (target client id,
// request id). The entry resolves exactly once: with the target's response,
// with Cancelled when the target disconnects first, or with TimedOut when
// the configured request timeout elapses. The originator therefore always
// observes an outcome and never blocks forever.
package relay
