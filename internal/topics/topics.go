// Package topics is the catalog of live business areas the dashboard keeps
// fresh: which tables each area listens to and which cache keys it drops.
package topics

import (
	"fmt"
	"sort"

	"github.com/jsherman999/tailorboard/internal/config"
	"github.com/jsherman999/tailorboard/internal/realtime"
)

// Cache keys that are not plain table names.
const (
	KeyDashboardStats = "dashboard:stats"
	KeyOpenInquiries  = "inquiries:open"
)

func tables(names ...string) []realtime.Filter {
	out := make([]realtime.Filter, len(names))
	for i, n := range names {
		out[i] = realtime.Filter{Table: n, Event: realtime.EventAll}
	}
	return out
}

// Defaults returns a fresh copy of the built-in topics.
func Defaults() []realtime.TopicConfig {
	return []realtime.TopicConfig{
		{Name: "orders", Filters: tables("orders", "order_items"), Keys: []string{"orders", "order_items"}},
		{Name: "production", Filters: tables("production_stages"), Keys: []string{"production_stages"}},
		{Name: "inventory", Filters: tables("inventory_items", "inventory_movements"), Keys: []string{"inventory_items", "inventory_movements"}},
		{Name: "employees", Filters: tables("employees", "attendance"), Keys: []string{"employees", "attendance"}},
		{Name: "customers", Filters: tables("customers", "measurements"), Keys: []string{"customers", "measurements"}},
		{Name: "finance", Filters: tables("transactions", "expenses"), Keys: []string{"transactions", "expenses"}},
		{
			Name:    "dashboard",
			Filters: tables("orders", "transactions", "expenses", "customers", "inventory_items", "employees", "inquiries"),
			Keys:    []string{KeyDashboardStats},
		},
		// The inquiry badge is an ordinary topic like the rest.
		{Name: "inquiries", Filters: tables("inquiries"), Keys: []string{"inquiries", KeyOpenInquiries}},
	}
}

// FromConfig applies configured overrides to Defaults. An entry with the name
// of a built-in topic replaces the fields it sets (or removes the topic when
// disabled); any other name adds a topic. The result is sorted by name.
func FromConfig(overrides []config.TopicConfig) ([]realtime.TopicConfig, error) {
	byName := make(map[string]realtime.TopicConfig)
	for _, t := range Defaults() {
		byName[t.Name] = t
	}

	for _, o := range overrides {
		if o.Disable {
			delete(byName, o.Name)
			continue
		}
		t, builtin := byName[o.Name]
		if !builtin {
			if len(o.Tables) == 0 {
				return nil, fmt.Errorf("topic %q: tables are required", o.Name)
			}
			t = realtime.TopicConfig{Name: o.Name, Keys: o.Tables}
		}
		if len(o.Tables) > 0 {
			filters, err := buildFilters(o.Tables, o.Events)
			if err != nil {
				return nil, fmt.Errorf("topic %q: %w", o.Name, err)
			}
			t.Filters = filters
		}
		if len(o.Keys) > 0 {
			t.Keys = o.Keys
		}
		byName[o.Name] = t
	}

	out := make([]realtime.TopicConfig, 0, len(byName))
	for _, t := range byName {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func buildFilters(tables, events []string) ([]realtime.Filter, error) {
	if len(events) == 0 {
		events = []string{string(realtime.EventAll)}
	}
	var out []realtime.Filter
	for _, tbl := range tables {
		for _, ev := range events {
			e := realtime.EventType(ev)
			switch e {
			case realtime.EventAll, realtime.EventInsert, realtime.EventUpdate, realtime.EventDelete:
			default:
				return nil, fmt.Errorf("unknown event %q", ev)
			}
			out = append(out, realtime.Filter{Table: tbl, Event: e})
		}
	}
	return out, nil
}
