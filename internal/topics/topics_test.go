package topics_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsherman999/tailorboard/internal/config"
	"github.com/jsherman999/tailorboard/internal/realtime"
	"github.com/jsherman999/tailorboard/internal/store"
	"github.com/jsherman999/tailorboard/internal/topics"
)

func byName(ts []realtime.TopicConfig) map[string]realtime.TopicConfig {
	m := make(map[string]realtime.TopicConfig, len(ts))
	for _, t := range ts {
		m[t.Name] = t
	}
	return m
}

func TestDefaultsCoverEveryResource(t *testing.T) {
	covered := map[string]bool{}
	for _, topic := range topics.Defaults() {
		for _, f := range topic.Filters {
			covered[f.Table] = true
		}
	}
	for _, r := range store.Resources {
		assert.True(t, covered[r], "no topic listens to %s", r)
	}
}

func TestInquiryBadgeKey(t *testing.T) {
	inq := byName(topics.Defaults())["inquiries"]
	assert.Contains(t, inq.Keys, topics.KeyOpenInquiries)
	assert.True(t, realtime.MatchAny(inq.Filters, realtime.Change{Table: "inquiries", Event: realtime.EventInsert}))
}

func TestDefaultsAreIndependentCopies(t *testing.T) {
	a := topics.Defaults()
	a[0].Keys[0] = "mutated"
	assert.Equal(t, "orders", topics.Defaults()[0].Keys[0])
}

func TestFromConfig(t *testing.T) {
	got, err := topics.FromConfig([]config.TopicConfig{
		{Name: "orders", Keys: []string{"orders", "orders:late"}},
		{Name: "production", Disable: true},
		{Name: "alterations", Tables: []string{"order_items"}, Events: []string{"UPDATE"}},
	})
	require.NoError(t, err)
	m := byName(got)

	assert.NotContains(t, m, "production")
	assert.Equal(t, []string{"orders", "orders:late"}, m["orders"].Keys)
	assert.Len(t, m["orders"].Filters, 2, "filters kept when tables not overridden")

	alt := m["alterations"]
	assert.Equal(t, []realtime.Filter{{Table: "order_items", Event: realtime.EventUpdate}}, alt.Filters)
	assert.Equal(t, []string{"order_items"}, alt.Keys)

	for i := 1; i < len(got); i++ {
		assert.Less(t, got[i-1].Name, got[i].Name)
	}
}

func TestFromConfigErrors(t *testing.T) {
	_, err := topics.FromConfig([]config.TopicConfig{{Name: "custom"}})
	assert.Error(t, err)

	_, err = topics.FromConfig([]config.TopicConfig{{Name: "custom", Tables: []string{"orders"}, Events: []string{"TRUNCATE"}}})
	assert.ErrorContains(t, err, "unknown event")
}
