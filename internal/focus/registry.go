// Package focus holds the attention economy: the target and agent registries,
// the weighted allocator that spends and refunds influence, the balancer that
// breaks up runaway concentration, and the per-agent irritation override.
//
// Everything here is single-threaded. Registries iterate in insertion order, and
// that order is part of the contract: weighted selection and balancer candidate
// gathering both walk it, so a seeded session replays exactly.
package focus

// TargetID is an opaque handle to a registered target. NoTarget is never registered.
type TargetID uint64

// AgentID is an opaque handle to a registered agent.
type AgentID uint64

// NoTarget marks an agent with no assignment.
const NoTarget TargetID = 0

// Target is a registry record for something agents can focus on.
type Target struct {
	ID               TargetID `json:"id"`
	InitialInfluence float64  `json:"initial_influence"`
	Influence        float64  `json:"influence"` // 0.0–1.0
}

// Agent is a registry record for an entity that consumes allocations.
type Agent struct {
	ID     AgentID  `json:"id"`
	Power  float64  `json:"power"`
	Target TargetID `json:"target"`

	// Irritation is nil for agents that never opted into stimulus overrides.
	Irritation *IrritationState `json:"irritation,omitempty"`
}

// ordered is an insertion-ordered map: a value slice plus a key→index map.
type ordered[K comparable, V any] struct {
	keys  []K
	vals  []*V
	index map[K]int
}

func newOrdered[K comparable, V any]() *ordered[K, V] {
	return &ordered[K, V]{index: make(map[K]int)}
}

func (o *ordered[K, V]) get(k K) (*V, bool) {
	i, ok := o.index[k]
	if !ok {
		return nil, false
	}
	return o.vals[i], true
}

func (o *ordered[K, V]) insert(k K, v *V) bool {
	if _, ok := o.index[k]; ok {
		return false
	}
	o.index[k] = len(o.keys)
	o.keys = append(o.keys, k)
	o.vals = append(o.vals, v)
	return true
}

func (o *ordered[K, V]) remove(k K) bool {
	i, ok := o.index[k]
	if !ok {
		return false
	}
	delete(o.index, k)
	o.keys = append(o.keys[:i], o.keys[i+1:]...)
	o.vals = append(o.vals[:i], o.vals[i+1:]...)
	for j := i; j < len(o.keys); j++ {
		o.index[o.keys[j]] = j
	}
	return true
}

func (o *ordered[K, V]) len() int { return len(o.keys) }

// each visits entries in insertion order until fn returns false.
func (o *ordered[K, V]) each(fn func(v *V) bool) {
	for _, v := range o.vals {
		if !fn(v) {
			return
		}
	}
}

// TargetRegistry stores targets and their influence state.
type TargetRegistry struct {
	defaultInitial float64
	entries        *ordered[TargetID, Target]
}

// NewTargetRegistry creates a registry whose targets start at the given
// initial influence. Values outside (0, 1] fall back to 1.0.
func NewTargetRegistry(initialInfluence float64) *TargetRegistry {
	if initialInfluence <= 0 || initialInfluence > 1 {
		initialInfluence = 1.0
	}
	return &TargetRegistry{
		defaultInitial: initialInfluence,
		entries:        newOrdered[TargetID, Target](),
	}
}

// Register inserts a target with default state. Registering an existing id is a
// no-op that keeps the current state. Returns true when a record was created.
func (r *TargetRegistry) Register(id TargetID) bool {
	if id == NoTarget {
		return false
	}
	return r.entries.insert(id, &Target{
		ID:               id,
		InitialInfluence: r.defaultInitial,
		Influence:        r.defaultInitial,
	})
}

// Unregister removes a target. Absent ids are ignored.
func (r *TargetRegistry) Unregister(id TargetID) bool {
	return r.entries.remove(id)
}

// Get returns a copy of the target record.
func (r *TargetRegistry) Get(id TargetID) (Target, bool) {
	t, ok := r.entries.get(id)
	if !ok {
		return Target{}, false
	}
	return *t, true
}

// Contains reports whether the id is registered.
func (r *TargetRegistry) Contains(id TargetID) bool {
	_, ok := r.entries.index[id]
	return ok
}

// Len returns the number of registered targets.
func (r *TargetRegistry) Len() int { return r.entries.len() }

// All returns copies of every target in registration order.
func (r *TargetRegistry) All() []Target {
	out := make([]Target, 0, r.entries.len())
	r.entries.each(func(t *Target) bool {
		out = append(out, *t)
		return true
	})
	return out
}

// TotalInfluence sums influence over all targets.
func (r *TargetRegistry) TotalInfluence() float64 {
	total := 0.0
	r.entries.each(func(t *Target) bool {
		total += t.Influence
		return true
	})
	return total
}

// AgentRegistry stores agents and their current assignment.
type AgentRegistry struct {
	defaultPower float64
	entries      *ordered[AgentID, Agent]
}

// NewAgentRegistry creates a registry. Agents registered without a positive
// power use defaultPower (itself defaulting to 1.0).
func NewAgentRegistry(defaultPower float64) *AgentRegistry {
	if defaultPower <= 0 {
		defaultPower = 1.0
	}
	return &AgentRegistry{
		defaultPower: defaultPower,
		entries:      newOrdered[AgentID, Agent](),
	}
}

// Register inserts an unassigned agent. Re-registering keeps the existing record.
func (r *AgentRegistry) Register(id AgentID, power float64) bool {
	if power <= 0 {
		power = r.defaultPower
	}
	return r.entries.insert(id, &Agent{ID: id, Power: power})
}

// EnableIrritation gives an agent the stimulus-override capability.
// Returns false if the agent is not registered.
func (r *AgentRegistry) EnableIrritation(id AgentID, p IrritationParams) bool {
	a, ok := r.entries.get(id)
	if !ok {
		return false
	}
	a.Irritation = &IrritationState{IrritationParams: p}
	return true
}

// Get returns a copy of the agent record.
func (r *AgentRegistry) Get(id AgentID) (Agent, bool) {
	a, ok := r.entries.get(id)
	if !ok {
		return Agent{}, false
	}
	return a.clone(), true
}

// Contains reports whether the id is registered.
func (r *AgentRegistry) Contains(id AgentID) bool {
	_, ok := r.entries.index[id]
	return ok
}

// Len returns the active population.
func (r *AgentRegistry) Len() int { return r.entries.len() }

// All returns copies of every agent in registration order.
func (r *AgentRegistry) All() []Agent {
	out := make([]Agent, 0, r.entries.len())
	r.entries.each(func(a *Agent) bool {
		out = append(out, a.clone())
		return true
	})
	return out
}

func (r *AgentRegistry) remove(id AgentID) bool {
	return r.entries.remove(id)
}

func (a *Agent) clone() Agent {
	c := *a
	if a.Irritation != nil {
		st := *a.Irritation
		c.Irritation = &st
	}
	return c
}
