// ABOUTME: Wire-level message types exchanged between the relay host and workers.
// ABOUTME: Defines the Envelope union plus the unary control request/response types.

package wire

import (
	json "github.com/goccy/go-json"
)

// ClientIDHeader is the metadata key carrying the trusted client identifier.
// It must be present on every channel open and control call.
const ClientIDHeader = "client-id"

// Error codes carried inside an error Response so workers can tell a
// broker-generated failure apart from an application error string.
const (
	ErrorCodeNoTarget    = "no_target"    // target agent type is not registered
	ErrorCodeCancelled   = "cancelled"    // target disconnected before answering
	ErrorCodeTimedOut    = "timed_out"    // request timeout elapsed
	ErrorCodeUnavailable = "unavailable"  // target queue rejected the request
)

// Request asks the agent type named by Target to handle Payload.
// RequestID correlates the eventual Response back to the sender.
type Request struct {
	RequestID string            `json:"request_id"`
	Target    string            `json:"target"`
	Payload   json.RawMessage   `json:"payload,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Response answers a Request. Exactly one of Payload or Error is meaningful;
// ErrorCode is set only on broker-generated error responses.
type Response struct {
	RequestID string          `json:"request_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorCode string          `json:"error_code,omitempty"`
}

// IsError reports whether the response carries an error outcome.
func (r *Response) IsError() bool {
	return r.Error != "" || r.ErrorCode != ""
}

// Event is a published pub/sub message. TopicType drives subscription
// matching; TopicSource is routing metadata carried through untouched.
type Event struct {
	TopicType   string            `json:"topic_type"`
	TopicSource string            `json:"topic_source,omitempty"`
	Payload     json.RawMessage   `json:"payload,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Envelope is the unit sent over a channel in either direction. Exactly one
// field is set.
type Envelope struct {
	Request  *Request  `json:"request,omitempty"`
	Response *Response `json:"response,omitempty"`
	Event    *Event    `json:"event,omitempty"`
}

// Kind identifies which variant an Envelope carries.
type Kind int

const (
	KindInvalid Kind = iota
	KindRequest
	KindResponse
	KindEvent
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindEvent:
		return "event"
	default:
		return "invalid"
	}
}

// Kind returns the variant carried by the envelope, or KindInvalid when the
// envelope is empty or ambiguous.
func (e *Envelope) Kind() Kind {
	var (
		k Kind
		n int
	)
	if e.Request != nil {
		k, n = KindRequest, n+1
	}
	if e.Response != nil {
		k, n = KindResponse, n+1
	}
	if e.Event != nil {
		k, n = KindEvent, n+1
	}
	if n != 1 {
		return KindInvalid
	}
	return k
}

// SubscriptionKind selects the topic matching rule for a subscription.
type SubscriptionKind string

const (
	// SubscriptionExact matches events whose topic type equals TopicType.
	SubscriptionExact SubscriptionKind = "exact"
	// SubscriptionPrefix matches events whose topic type starts with
	// TopicTypePrefix as a raw string prefix.
	SubscriptionPrefix SubscriptionKind = "prefix"
)

// Subscription maps a topic pattern onto an agent type. ID is globally unique
// and caller-supplied.
type Subscription struct {
	ID              string           `json:"id"`
	Kind            SubscriptionKind `json:"kind"`
	TopicType       string           `json:"topic_type,omitempty"`
	TopicTypePrefix string           `json:"topic_type_prefix,omitempty"`
	AgentType       string           `json:"agent_type"`
}

// RegisterAgentTypeRequest claims ownership of an agent type for the calling
// client.
type RegisterAgentTypeRequest struct {
	AgentType string `json:"agent_type"`
}

// RegisterAgentTypeResponse acknowledges a successful registration.
type RegisterAgentTypeResponse struct{}

// AddSubscriptionRequest installs a subscription owned by the calling client.
type AddSubscriptionRequest struct {
	Subscription Subscription `json:"subscription"`
}

// AddSubscriptionResponse acknowledges a successful add.
type AddSubscriptionResponse struct{}

// RemoveSubscriptionRequest removes a subscription by id.
type RemoveSubscriptionRequest struct {
	ID string `json:"id"`
}

// RemoveSubscriptionResponse acknowledges a successful removal.
type RemoveSubscriptionResponse struct{}

// GetSubscriptionsRequest lists all installed subscriptions.
type GetSubscriptionsRequest struct{}

// GetSubscriptionsResponse carries a snapshot of installed subscriptions.
type GetSubscriptionsResponse struct {
	Subscriptions []Subscription `json:"subscriptions"`
}

// GetStateRequest fetches the persisted state blob for an agent id.
type GetStateRequest struct {
	AgentID string `json:"agent_id"`
}

// GetStateResponse carries the persisted state blob, if any.
type GetStateResponse struct {
	State json.RawMessage `json:"state,omitempty"`
}

// SaveStateRequest persists a state blob for an agent id.
type SaveStateRequest struct {
	AgentID string          `json:"agent_id"`
	State   json.RawMessage `json:"state,omitempty"`
}

// SaveStateResponse acknowledges a successful save.
type SaveStateResponse struct{}
