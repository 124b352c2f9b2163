// Package peercache holds the nodes a relay can reach only through a bridge.
// Rows are grouped by the bridge they were learned from and each group is
// replaced wholesale on every peer sync. Not safe for concurrent use.
package peercache

import (
	"slices"

	"peer-relay/pkg/model"
)

type Cache struct {
	byBridge map[string][]model.RemotePeer
	order    []string // bridges in first-sync order
}

func New() *Cache {
	return &Cache{byBridge: make(map[string][]model.RemotePeer)}
}

// ApplySync replaces every row tagged bridge with peers. Tags on the supplied
// rows are overwritten. It reports whether the bridge's rows changed.
func (c *Cache) ApplySync(bridge, relay string, peers []model.RemotePeer) bool {
	rows := make([]model.RemotePeer, 0, len(peers))
	for _, p := range peers {
		p.OriginBridge = bridge
		p.OriginRelay = relay
		rows = append(rows, p)
	}
	prev, ok := c.byBridge[bridge]
	if !ok {
		c.order = append(c.order, bridge)
	}
	c.byBridge[bridge] = rows
	return !ok || !slices.Equal(prev, rows)
}

// OnBridgeClosed drops all rows tagged bridge and reports how many were removed.
func (c *Cache) OnBridgeClosed(bridge string) int {
	rows, ok := c.byBridge[bridge]
	if !ok {
		return 0
	}
	delete(c.byBridge, bridge)
	for i, name := range c.order {
		if name == bridge {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return len(rows)
}

// All returns every row, bridges in first-sync order, rows in sync order.
func (c *Cache) All() []model.RemotePeer {
	out := make([]model.RemotePeer, 0, c.Len())
	for _, name := range c.order {
		out = append(out, c.byBridge[name]...)
	}
	return out
}

// Lookup returns the first row matching either criterion.
func (c *Cache) Lookup(nodeID, address string) (model.RemotePeer, bool) {
	for _, name := range c.order {
		for _, p := range c.byBridge[name] {
			if p.Matches(nodeID, address) {
				return p, true
			}
		}
	}
	return model.RemotePeer{}, false
}

// Bridges lists the bridge names that currently own rows.
func (c *Cache) Bridges() []string {
	return append([]string(nil), c.order...)
}

func (c *Cache) Len() int {
	n := 0
	for _, rows := range c.byBridge {
		n += len(rows)
	}
	return n
}
