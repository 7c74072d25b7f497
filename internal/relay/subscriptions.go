// ABOUTME: Subscription table resolving a published topic to the agent types that want it.
// ABOUTME: Supports exact topic-type matches and raw string prefix matches.

package relay

import (
	"errors"
	"fmt"
	"strings"

	"github.com/2389/agent-relay/internal/wire"
)

// ErrSubscriptionNotFound indicates no subscription exists with the given id.
var ErrSubscriptionNotFound = errors.New("subscription not found")

// ErrDuplicateSubscription indicates a subscription id is already in use.
var ErrDuplicateSubscription = errors.New("subscription id already exists")

// validateSubscription checks a subscription for structural problems. It does
// not consult table state, so it can run before taking any lock.
func validateSubscription(sub wire.Subscription) error {
	if sub.ID == "" {
		return errors.New("subscription id is required")
	}
	if sub.AgentType == "" {
		return errors.New("subscription agent type is required")
	}
	switch sub.Kind {
	case wire.SubscriptionExact:
		if sub.TopicType == "" {
			return errors.New("exact subscription requires a topic type")
		}
	case wire.SubscriptionPrefix:
		// An empty prefix is a legal match-all subscription.
	default:
		return fmt.Errorf("unknown subscription kind %q", sub.Kind)
	}
	return nil
}

type subscriptionEntry struct {
	sub   wire.Subscription
	owner string // client id that installed it
}

// subscriptionTable holds all installed subscriptions. Not safe for
// concurrent use on its own; all access happens under the Exchange mutex.
type subscriptionTable struct {
	entries map[string]subscriptionEntry // subscription id -> entry
}

func newSubscriptionTable() *subscriptionTable {
	return &subscriptionTable{entries: make(map[string]subscriptionEntry)}
}

// add installs a validated subscription owned by clientID.
func (t *subscriptionTable) add(clientID string, sub wire.Subscription) error {
	if err := validateSubscription(sub); err != nil {
		return err
	}
	if _, exists := t.entries[sub.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateSubscription, sub.ID)
	}
	t.entries[sub.ID] = subscriptionEntry{sub: sub, owner: clientID}
	return nil
}

// remove deletes a subscription by id.
func (t *subscriptionTable) remove(id string) error {
	if _, exists := t.entries[id]; !exists {
		return fmt.Errorf("%w: %s", ErrSubscriptionNotFound, id)
	}
	delete(t.entries, id)
	return nil
}

// removeOwner deletes every subscription installed by clientID.
func (t *subscriptionTable) removeOwner(clientID string) {
	for id, entry := range t.entries {
		if entry.owner == clientID {
			delete(t.entries, id)
		}
	}
}

// list returns a snapshot of all installed subscriptions.
func (t *subscriptionTable) list() []wire.Subscription {
	subs := make([]wire.Subscription, 0, len(t.entries))
	for _, entry := range t.entries {
		subs = append(subs, entry.sub)
	}
	return subs
}

// resolveTopic returns the set of agent types whose subscriptions match the
// topic type. Exact subscriptions match on equality; prefix subscriptions
// match when topicType starts with the literal prefix string. The topic
// source plays no part in matching.
func (t *subscriptionTable) resolveTopic(topicType string) map[string]struct{} {
	matched := make(map[string]struct{})
	for _, entry := range t.entries {
		switch entry.sub.Kind {
		case wire.SubscriptionExact:
			if entry.sub.TopicType == topicType {
				matched[entry.sub.AgentType] = struct{}{}
			}
		case wire.SubscriptionPrefix:
			if strings.HasPrefix(topicType, entry.sub.TopicTypePrefix) {
				matched[entry.sub.AgentType] = struct{}{}
			}
		}
	}
	return matched
}
