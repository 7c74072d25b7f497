// ABOUTME: Tests for the subscription table: validation, removal, and topic resolution.
// ABOUTME: Pins down the raw-string prefix semantics with no word-boundary behavior.

package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/agent-relay/internal/wire"
)

func TestValidateSubscription(t *testing.T) {
	cases := []struct {
		name    string
		sub     wire.Subscription
		wantErr bool
	}{
		{
			name: "valid exact",
			sub:  wire.Subscription{ID: "s1", Kind: wire.SubscriptionExact, TopicType: "audit", AgentType: "A"},
		},
		{
			name: "valid prefix",
			sub:  wire.Subscription{ID: "s1", Kind: wire.SubscriptionPrefix, TopicTypePrefix: "m.", AgentType: "A"},
		},
		{
			name: "empty prefix is a match-all",
			sub:  wire.Subscription{ID: "s1", Kind: wire.SubscriptionPrefix, AgentType: "A"},
		},
		{
			name:    "missing id",
			sub:     wire.Subscription{Kind: wire.SubscriptionExact, TopicType: "audit", AgentType: "A"},
			wantErr: true,
		},
		{
			name:    "missing agent type",
			sub:     wire.Subscription{ID: "s1", Kind: wire.SubscriptionExact, TopicType: "audit"},
			wantErr: true,
		},
		{
			name:    "exact without topic type",
			sub:     wire.Subscription{ID: "s1", Kind: wire.SubscriptionExact, AgentType: "A"},
			wantErr: true,
		},
		{
			name:    "unknown kind",
			sub:     wire.Subscription{ID: "s1", Kind: "glob", TopicType: "audit", AgentType: "A"},
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateSubscription(tc.sub)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSubscriptionTableResolveTopic(t *testing.T) {
	table := newSubscriptionTable()
	require.NoError(t, table.add("c1", wire.Subscription{
		ID: "exact-audit", Kind: wire.SubscriptionExact, TopicType: "audit", AgentType: "Auditor",
	}))
	require.NoError(t, table.add("c1", wire.Subscription{
		ID: "prefix-foo", Kind: wire.SubscriptionPrefix, TopicTypePrefix: "foo.", AgentType: "FooHandler",
	}))
	require.NoError(t, table.add("c2", wire.Subscription{
		ID: "prefix-all", Kind: wire.SubscriptionPrefix, TopicTypePrefix: "", AgentType: "Firehose",
	}))

	t.Run("exact matches only on equality", func(t *testing.T) {
		matched := table.resolveTopic("audit")
		assert.Contains(t, matched, "Auditor")

		matched = table.resolveTopic("audit2")
		assert.NotContains(t, matched, "Auditor")
	})

	t.Run("prefix is a raw string prefix", func(t *testing.T) {
		matched := table.resolveTopic("foo.bar")
		assert.Contains(t, matched, "FooHandler")

		// "food.bar" does not start with the literal "foo."
		matched = table.resolveTopic("food.bar")
		assert.NotContains(t, matched, "FooHandler")
	})

	t.Run("empty prefix matches every topic", func(t *testing.T) {
		assert.Contains(t, table.resolveTopic("anything"), "Firehose")
		assert.Contains(t, table.resolveTopic("audit"), "Firehose")
	})

	t.Run("union of exact and prefix matches", func(t *testing.T) {
		matched := table.resolveTopic("audit")
		assert.Len(t, matched, 2) // Auditor + Firehose
	})
}

func TestSubscriptionTableRemoveOwner(t *testing.T) {
	table := newSubscriptionTable()
	require.NoError(t, table.add("c1", wire.Subscription{
		ID: "s1", Kind: wire.SubscriptionExact, TopicType: "a", AgentType: "A",
	}))
	require.NoError(t, table.add("c2", wire.Subscription{
		ID: "s2", Kind: wire.SubscriptionExact, TopicType: "b", AgentType: "B",
	}))

	table.removeOwner("c1")

	subs := table.list()
	require.Len(t, subs, 1)
	assert.Equal(t, "s2", subs[0].ID)
}

func TestRegistryRemoveOwner(t *testing.T) {
	r := newRegistry()
	require.NoError(t, r.register("c1", "A"))
	require.NoError(t, r.register("c1", "B"))
	require.NoError(t, r.register("c2", "C"))

	removed := r.removeOwner("c1")
	assert.ElementsMatch(t, []string{"A", "B"}, removed)

	_, found := r.resolve("A")
	assert.False(t, found)
	owner, found := r.resolve("C")
	require.True(t, found)
	assert.Equal(t, "c2", owner)
}
