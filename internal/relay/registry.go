// ABOUTME: Agent type registry mapping each agent type name to its owning client.
// ABOUTME: Enforces at most one owner per agent type; serialization comes from the Exchange lock.

package relay

import (
	"errors"
	"fmt"
)

// ErrInvalidAgentType indicates a missing agent type name.
var ErrInvalidAgentType = errors.New("agent type is required")

// AlreadyRegisteredError indicates the agent type is owned by another client.
type AlreadyRegisteredError struct {
	AgentType string
	Owner     string
}

func (e *AlreadyRegisteredError) Error() string {
	return fmt.Sprintf("agent type %q already registered by client %q", e.AgentType, e.Owner)
}

// registry holds agent type ownership. Not safe for concurrent use on its
// own; all access happens under the Exchange mutex.
type registry struct {
	owners map[string]string // agent type -> client id
}

func newRegistry() *registry {
	return &registry{owners: make(map[string]string)}
}

// register records clientID as the owner of agentType. Registration is
// all-or-nothing: an existing owner is never displaced.
func (r *registry) register(clientID, agentType string) error {
	if agentType == "" {
		return ErrInvalidAgentType
	}
	if owner, exists := r.owners[agentType]; exists {
		return &AlreadyRegisteredError{AgentType: agentType, Owner: owner}
	}
	r.owners[agentType] = clientID
	return nil
}

// resolve returns the owning client id for agentType.
func (r *registry) resolve(agentType string) (string, bool) {
	owner, ok := r.owners[agentType]
	return owner, ok
}

// removeOwner deletes every agent type owned by clientID and returns the
// removed names.
func (r *registry) removeOwner(clientID string) []string {
	var removed []string
	for agentType, owner := range r.owners {
		if owner == clientID {
			delete(r.owners, agentType)
			removed = append(removed, agentType)
		}
	}
	return removed
}
