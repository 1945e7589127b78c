package orchestrator

import "github.com/kestrel-edr/kestrel/pkg/kestrel/schema"

// ruleSnapshot is an immutable view of the active rule set: the full rule
// table plus the event_type -> [single-event rule] index the orchestrator
// consults on every event. AddRule/RemoveRule build a new snapshot and
// swap it in wholesale, so the single-event index and the rule table
// change together rather than per-key as the teacher's EventRegistry
// mutates in place. ProcessEvent loads the current snapshot once per
// event, so an update becomes visible at the next event a worker
// processes, which may fall inside a batch already in progress. Sequence
// rules are loaded into and unloaded from the NFA engine directly, outside
// the snapshot.
type ruleSnapshot struct {
	rules       map[uint64]*Rule
	singleIndex map[schema.EventTypeID][]*Rule
}

func emptySnapshot() *ruleSnapshot {
	return &ruleSnapshot{
		rules:       make(map[uint64]*Rule),
		singleIndex: make(map[schema.EventTypeID][]*Rule),
	}
}

// withRule returns a new snapshot with rule installed, replacing any
// existing rule sharing its id. The receiver is left untouched.
func (s *ruleSnapshot) withRule(rule *Rule) *ruleSnapshot {
	next := &ruleSnapshot{
		rules:       make(map[uint64]*Rule, len(s.rules)+1),
		singleIndex: make(map[schema.EventTypeID][]*Rule, len(s.singleIndex)),
	}
	for id, r := range s.rules {
		if id == rule.Meta.ID {
			continue
		}
		next.rules[id] = r
	}
	for et, rs := range s.singleIndex {
		filtered := make([]*Rule, 0, len(rs))
		for _, r := range rs {
			if r.Meta.ID != rule.Meta.ID {
				filtered = append(filtered, r)
			}
		}
		if len(filtered) > 0 {
			next.singleIndex[et] = filtered
		}
	}

	next.rules[rule.Meta.ID] = rule
	if rule.Kind == RuleSingleEvent {
		next.singleIndex[rule.EventType] = append(next.singleIndex[rule.EventType], rule)
	}
	return next
}

// withoutRule returns a new snapshot with ruleID removed, and the removed
// rule for the caller to react to (e.g. unload its NFA sequence). ok is
// false if no such rule existed, in which case the receiver is returned
// unchanged.
func (s *ruleSnapshot) withoutRule(ruleID uint64) (next *ruleSnapshot, removed *Rule, ok bool) {
	removed, ok = s.rules[ruleID]
	if !ok {
		return s, nil, false
	}

	next = &ruleSnapshot{
		rules:       make(map[uint64]*Rule, len(s.rules)),
		singleIndex: make(map[schema.EventTypeID][]*Rule, len(s.singleIndex)),
	}
	for id, r := range s.rules {
		if id != ruleID {
			next.rules[id] = r
		}
	}
	for et, rs := range s.singleIndex {
		filtered := make([]*Rule, 0, len(rs))
		for _, r := range rs {
			if r.Meta.ID != ruleID {
				filtered = append(filtered, r)
			}
		}
		if len(filtered) > 0 {
			next.singleIndex[et] = filtered
		}
	}
	return next, removed, true
}
