package endpoint

import (
	"fmt"
	"log/slog"
	"sort"

	"matterctl/internal/matter/merr"
	"matterctl/internal/matter/ports"
)

// Tree is the current endpoint tree for one node (spec §3: "acyclic,
// rooted at 0"). Zero value is an empty tree with no endpoint 0 yet.
type Tree struct {
	log       *slog.Logger
	endpoints map[uint16]*Endpoint
	connected bool
	pending   []Change
}

// New creates an empty Tree. log tags dropped/cyclic endpoints; both are
// recoverable conditions, never fatal to the caller.
func New(log *slog.Logger) *Tree {
	return &Tree{log: log, endpoints: make(map[uint16]*Endpoint)}
}

// Endpoints returns the current tree's endpoints, keyed by number. The
// caller must not mutate the returned map.
func (t *Tree) Endpoints() map[uint16]*Endpoint {
	return t.endpoints
}

// SetConnected controls emission deferral (spec §4.E step 5: "if the node
// is not currently Connected, defer all emissions until the next Connected
// transition"). Transitioning to true flushes anything queued so far.
func (t *Tree) SetConnected(connected bool) []Change {
	wasConnected := t.connected
	t.connected = connected
	if connected && !wasConnected {
		out := t.pending
		t.pending = nil
		return out
	}
	return nil
}

// Build runs the full Endpoint Tree Builder pass (spec §4.E): collect
// Descriptor data reachable from endpoint 0, diff against the current
// tree, reassign parent links, and emit per-endpoint events plus a
// consolidated StructureChanged signal (reported via the returned bool).
func (t *Tree) Build(reports []ports.AttributeReport) ([]Change, bool, error) {
	raw := collectDescriptors(reports)

	root, ok := raw[0]
	if !ok {
		t.log.Debug("endpoint tree build: no descriptor for endpoint 0, nothing to build")
		return nil, false, nil
	}

	reachable := reachableFrom(root, raw, t.log)

	changes, err := t.diffAndAssign(reachable)
	if err != nil {
		return nil, false, err
	}
	if len(changes) == 0 {
		return nil, false, nil
	}

	if !t.connected {
		t.pending = append(t.pending, changes...)
		return nil, false, nil
	}
	return changes, true, nil
}

// reachableFrom walks partsList starting at the root descriptor, following
// every referenced endpoint that has Descriptor data (spec §4.E step 1).
func reachableFrom(root *descriptor, raw map[uint16]*descriptor, log *slog.Logger) map[uint16]*descriptor {
	out := map[uint16]*descriptor{0: root}
	queue := []uint16{0}
	for len(queue) > 0 {
		ep := queue[0]
		queue = queue[1:]
		d := raw[ep]
		for _, child := range d.partsList {
			if child == ep {
				log.Debug("endpoint descriptor self-reference ignored", "endpoint", ep)
				continue
			}
			if _, already := out[child]; already {
				continue
			}
			cd, ok := raw[child]
			if !ok {
				log.Debug("endpoint referenced by partsList has no descriptor, dropped", "endpoint", child, "parent", ep)
				continue
			}
			out[child] = cd
			queue = append(queue, child)
		}
	}
	return out
}

// diffAndAssign compares reachable against the current tree (spec §4.E
// step 2), assigns roles and parent links (steps 3-4), installs the new
// tree, and returns the emitted events.
func (t *Tree) diffAndAssign(reachable map[uint16]*descriptor) ([]Change, error) {
	newTree := make(map[uint16]*Endpoint, len(reachable))
	var changes []Change

	for num, d := range reachable {
		prev, existed := t.endpoints[num]
		ep := &Endpoint{
			Number:         num,
			DeviceTypes:    d.deviceTypes,
			ClusterServers: append([]uint32(nil), d.serverList...),
			ClusterClients: append([]uint32(nil), d.clientList...),
		}
		ep.Role = roleFor(num, d.deviceTypes, d.partsList)
		newTree[num] = ep

		switch {
		case !existed:
			changes = append(changes, Change{Kind: Added, Endpoint: num})
		case !retained(prev, d):
			changes = append(changes, Change{Kind: Changed, Endpoint: num})
		}
	}

	for num := range t.endpoints {
		if _, stillReachable := reachable[num]; !stillReachable {
			changes = append(changes, Change{Kind: Removed, Endpoint: num})
		}
	}

	if err := assignParents(newTree, reachable, t.log); err != nil {
		return nil, err
	}

	t.endpoints = newTree
	sort.Slice(changes, func(i, j int) bool { return changes[i].Endpoint < changes[j].Endpoint })
	return changes, nil
}

// retained implements spec §4.E step 2: an endpoint is retained if its
// device-type codes, server list, and client list are set-equal to the new
// descriptor (order/duplicates irrelevant); otherwise it is recreated.
func retained(prev *Endpoint, d *descriptor) bool {
	if !deviceTypeSetEqual(prev.DeviceTypes, d.deviceTypes) {
		return false
	}
	if !uint32SetEqual(prev.ClusterServers, d.serverList) {
		return false
	}
	return uint32SetEqual(prev.ClusterClients, d.clientList)
}

func deviceTypeSetEqual(a []DeviceType, b []DeviceType) bool {
	codesA := make([]uint32, len(a))
	for i, dt := range a {
		codesA[i] = dt.Code
	}
	codesB := make([]uint32, len(b))
	for i, dt := range b {
		codesB[i] = dt.Code
	}
	return uint32SetEqual(codesA, codesB)
}

func uint32SetEqual(a, b []uint32) bool {
	setA := make(map[uint32]bool, len(a))
	for _, x := range a {
		setA[x] = true
	}
	setB := make(map[uint32]bool, len(b))
	for _, x := range b {
		if !setA[x] {
			return false
		}
		setB[x] = true
	}
	return len(setA) == len(setB)
}

// roleFor implements spec §4.E step 3.
func roleFor(num uint16, deviceTypes []DeviceType, partsList []uint16) Role {
	if num == 0 {
		return RoleRoot
	}
	for _, dt := range deviceTypes {
		if dt.Code == aggregatorDeviceType {
			return RoleAggregator
		}
	}
	if len(partsList) > 0 {
		return RoleComposedDevice
	}
	return RoleLeaf
}

// assignParents implements spec §4.E step 4: an endpoint's candidate
// parents are every other reachable endpoint whose partsList names it.
// Each endpoint with exactly one candidate is attached to it. A child
// claimed by more than one endpoint (a malformed or cyclic partsList
// graph) is never attached and is reported as a cycle residue instead of
// being silently assigned an arbitrary parent.
func assignParents(tree map[uint16]*Endpoint, raw map[uint16]*descriptor, log *slog.Logger) error {
	usages := make(map[uint16][]uint16) // child -> candidate parents
	for num := range tree {
		usages[num] = nil
	}
	for num, d := range raw {
		for _, child := range d.partsList {
			if child == num {
				continue
			}
			if _, ok := tree[child]; !ok {
				continue
			}
			usages[child] = append(usages[child], num)
		}
	}

	pending := make([]uint16, 0, len(usages))
	for child := range usages {
		if child != 0 {
			pending = append(pending, child)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i] < pending[j] })

	var cyclic []uint16
	for _, child := range pending {
		parents := usages[child]
		if len(parents) != 1 {
			if len(parents) > 0 {
				cyclic = append(cyclic, child)
			}
			continue
		}
		parent := parents[0]
		tree[child].Parent = &parent
		tree[parent].Children = appendSortedUnique(tree[parent].Children, child)
	}
	if len(cyclic) > 0 {
		sort.Slice(cyclic, func(i, j int) bool { return cyclic[i] < cyclic[j] })
		log.Debug("endpoint tree has unresolved parent cycle", "endpoints", cyclic)
		return merr.New(merr.KindInternal, "endpoint.assignParents", fmt.Errorf("unresolvable partsList cycle among endpoints %v", cyclic))
	}
	return nil
}

func appendSortedUnique(list []uint16, v uint16) []uint16 {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	list = append(list, v)
	sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
	return list
}
