// ABOUTME: Request routing: forwards requests to the hosting client and correlates responses.
// ABOUTME: Pending requests are keyed by (target client id, request id) and resolve exactly once.

package relay

import (
	"errors"
	"time"

	"github.com/2389/agent-relay/internal/wire"
)

// Route forwards a request from origin to the client hosting the target
// agent type. Every failure mode resolves back to the originator as an error
// response on its own queue; the caller never hangs on a silently dropped
// request.
func (x *Exchange) Route(originClientID string, req *wire.Request) {
	x.mu.Lock()
	origin, originConnected := x.conns[originClientID]
	if !originConnected {
		x.mu.Unlock()
		x.logger.Warn("request from unknown client", "client_id", originClientID, "request_id", req.RequestID)
		return
	}

	owner, found := x.types.resolve(req.Target)
	if !found {
		x.mu.Unlock()
		x.logger.Warn("request target not registered",
			"target", req.Target,
			"request_id", req.RequestID,
			"client_id", originClientID,
		)
		x.deliverError(origin, req.RequestID, wire.ErrorCodeNoTarget, "no client hosts agent type "+req.Target)
		return
	}

	target, targetConnected := x.conns[owner]
	if !targetConnected {
		// Registration implies a connection, so this window only opens
		// between a disconnect and the registry purge completing.
		x.mu.Unlock()
		x.deliverError(origin, req.RequestID, wire.ErrorCodeNoTarget, "no client hosts agent type "+req.Target)
		return
	}

	key := pendingKey{targetClientID: owner, requestID: req.RequestID}
	if _, dup := x.pending[key]; dup {
		x.mu.Unlock()
		x.deliverError(origin, req.RequestID, wire.ErrorCodeUnavailable, "request id already pending for this target")
		return
	}

	p := &pendingRequest{originClientID: originClientID}
	if x.opts.RequestTimeout > 0 {
		p.timer = time.AfterFunc(x.opts.RequestTimeout, func() {
			x.expireRequest(key)
		})
	}
	x.pending[key] = p
	x.mu.Unlock()

	if err := target.Enqueue(&wire.Envelope{Request: req}); err != nil {
		// If the target's disconnect cleanup already consumed the pending
		// entry it also delivered the Cancelled outcome; a second error
		// here would hand the originator two answers for one request.
		if !x.abortPending(key) {
			return
		}
		code := wire.ErrorCodeCancelled
		msg := "target client disconnected before delivery"
		if errors.Is(err, ErrQueueFull) {
			code = wire.ErrorCodeUnavailable
			msg = "target client queue is full"
		}
		x.deliverError(origin, req.RequestID, code, msg)
		return
	}

	x.logger.Debug("request routed",
		"request_id", req.RequestID,
		"target", req.Target,
		"origin", originClientID,
		"target_client", owner,
	)
}

// Respond resolves the pending request matching (target client id, request
// id) and delivers the response to the originator. A response with no
// pending entry is a late or duplicate answer and is dropped with a warning.
func (x *Exchange) Respond(targetClientID string, resp *wire.Response) {
	key := pendingKey{targetClientID: targetClientID, requestID: resp.RequestID}

	x.mu.Lock()
	p, found := x.pending[key]
	if !found {
		x.mu.Unlock()
		x.logger.Warn("response for unknown request",
			"request_id", resp.RequestID,
			"client_id", targetClientID,
		)
		return
	}
	delete(x.pending, key)
	if p.timer != nil {
		p.timer.Stop()
	}
	origin, originConnected := x.conns[p.originClientID]
	x.mu.Unlock()

	if !originConnected {
		x.logger.Warn("response originator no longer connected",
			"request_id", resp.RequestID,
			"origin", p.originClientID,
		)
		return
	}

	if err := origin.Enqueue(&wire.Envelope{Response: resp}); err != nil {
		x.logger.Warn("failed to deliver response",
			"request_id", resp.RequestID,
			"origin", p.originClientID,
			"error", err,
		)
		return
	}

	x.logger.Debug("response delivered", "request_id", resp.RequestID, "origin", p.originClientID)
}

// abortPending removes a pending entry that was never delivered and reports
// whether it was still present. A missing entry means someone else resolved
// the request already.
func (x *Exchange) abortPending(key pendingKey) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	p, found := x.pending[key]
	if !found {
		return false
	}
	delete(x.pending, key)
	if p.timer != nil {
		p.timer.Stop()
	}
	return true
}

// expireRequest resolves a pending request with a TimedOut outcome. Racing
// against Respond is safe: whichever consumes the pending entry first wins
// and the other becomes a no-op.
func (x *Exchange) expireRequest(key pendingKey) {
	x.mu.Lock()
	p, found := x.pending[key]
	if !found {
		x.mu.Unlock()
		return
	}
	delete(x.pending, key)
	origin, originConnected := x.conns[p.originClientID]
	x.mu.Unlock()

	x.logger.Warn("request timed out",
		"request_id", key.requestID,
		"target_client", key.targetClientID,
		"origin", p.originClientID,
		"timeout", x.opts.RequestTimeout,
	)
	if originConnected {
		x.deliverError(origin, key.requestID, wire.ErrorCodeTimedOut, "request timed out")
	}
}
