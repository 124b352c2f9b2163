// Package bridge tracks the links between federated relays: the link table
// owned by the relay service and the manager that keeps outbound links dialed.
package bridge

import (
	"strconv"
	"time"

	"peer-relay/pkg/model"
)

// Table holds open bridge links keyed by name. It is owned by the relay
// service goroutine and is not safe for concurrent use.
type Table struct {
	links  map[string]*model.BridgeLink
	byConn map[string]string
	order  []string
}

func NewTable() *Table {
	return &Table{
		links:  make(map[string]*model.BridgeLink),
		byConn: make(map[string]string),
	}
}

// Add registers a link. If the requested name is held by another live link
// the name gets a suffix naming the new link's direction: "#in" (then "#in2",
// ...) for inbound links, "#out" for outbound ones. The final link is returned.
func (t *Table) Add(link model.BridgeLink) model.BridgeLink {
	link.Name = t.uniqueName(link.Name, link.Direction)
	l := link
	t.links[l.Name] = &l
	t.byConn[l.ConnID] = l.Name
	t.order = append(t.order, l.Name)
	return l
}

func (t *Table) uniqueName(name string, dir model.Direction) string {
	if _, taken := t.links[name]; !taken {
		return name
	}
	suffix := "#in"
	if dir == model.Outbound {
		suffix = "#out"
	}
	candidate := name + suffix
	for i := 2; ; i++ {
		if _, taken := t.links[candidate]; !taken {
			return candidate
		}
		candidate = name + suffix + strconv.Itoa(i)
	}
}

// RemoveByConn drops the link bound to connID.
func (t *Table) RemoveByConn(connID string) (model.BridgeLink, bool) {
	name, ok := t.byConn[connID]
	if !ok {
		return model.BridgeLink{}, false
	}
	l := t.links[name]
	delete(t.byConn, connID)
	delete(t.links, name)
	for i, n := range t.order {
		if n == name {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return *l, true
}

func (t *Table) ByConn(connID string) (model.BridgeLink, bool) {
	name, ok := t.byConn[connID]
	if !ok {
		return model.BridgeLink{}, false
	}
	return *t.links[name], true
}

func (t *Table) Get(name string) (model.BridgeLink, bool) {
	l, ok := t.links[name]
	if !ok {
		return model.BridgeLink{}, false
	}
	return *l, true
}

// Touch refreshes the lastSeenAt of the link bound to connID.
func (t *Table) Touch(connID string, now time.Time) {
	if name, ok := t.byConn[connID]; ok {
		t.links[name].LastSeenAt = now
	}
}

// Identify records what the remote relay announced about itself.
func (t *Table) Identify(connID, relay, region string) {
	name, ok := t.byConn[connID]
	if !ok {
		return
	}
	l := t.links[name]
	if relay != "" {
		l.RemoteRelay = relay
	}
	if region != "" {
		l.RemoteRegion = region
	}
}

// All returns the links in the order they were opened.
func (t *Table) All() []model.BridgeLink {
	out := make([]model.BridgeLink, 0, len(t.order))
	for _, n := range t.order {
		out = append(out, *t.links[n])
	}
	return out
}

func (t *Table) Len() int { return len(t.links) }
