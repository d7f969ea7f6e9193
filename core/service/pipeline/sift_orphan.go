package pipeline

import (
	"sort"
	"strings"
	"sync"

	"jobsift/core/domain"
)

// employerSignal buckets messages for orphan matching. The extracted
// employer wins; the sender domain is the fallback. Pairwise matching
// only ever runs inside one bucket, never across the whole corpus.
func employerSignal(item *Item) string {
	if item.Record != nil && item.Record.Fields != nil {
		if emp := strings.ToLower(strings.TrimSpace(item.Record.Fields.Employer)); emp != "" {
			return "employer:" + emp
		}
	}
	if d := item.Raw.SenderDomain(); d != "" {
		return "domain:" + d
	}
	return ""
}

// entitySet is the job-entity registry for one sync run. Entities are
// indexed by employer signal so orphan candidates only see entities
// from their own bucket.
type entitySet struct {
	mu       sync.Mutex
	entities []*domain.JobEntity
	bySignal map[string][]*domain.JobEntity
}

func newEntitySet() *entitySet {
	return &entitySet{bySignal: make(map[string][]*domain.JobEntity)}
}

func (s *entitySet) add(signal string, entity *domain.JobEntity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities = append(s.entities, entity)
	if signal != "" {
		s.bySignal[signal] = append(s.bySignal[signal], entity)
	}
}

// candidates returns a snapshot of the entities sharing a signal.
func (s *entitySet) candidates(signal string) []*domain.JobEntity {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.JobEntity, len(s.bySignal[signal]))
	copy(out, s.bySignal[signal])
	return out
}

func (s *entitySet) all() []*domain.JobEntity {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.JobEntity, len(s.entities))
	copy(out, s.entities)
	return out
}

// orphanGroup is one employer-signal bucket of orphans, processed
// oldest to newest so later messages can merge into entities the
// earlier ones created.
type orphanGroup struct {
	Signal string
	Items  []*Item
}

func groupOrphans(items []*Item) []*orphanGroup {
	bySignal := make(map[string][]*Item)
	var order []string
	for _, item := range items {
		sig := employerSignal(item)
		if _, seen := bySignal[sig]; !seen {
			order = append(order, sig)
		}
		bySignal[sig] = append(bySignal[sig], item)
	}

	groups := make([]*orphanGroup, 0, len(order))
	for _, sig := range order {
		members := bySignal[sig]
		sort.SliceStable(members, func(i, j int) bool {
			return members[i].Raw.ReceivedAt.Before(members[j].Raw.ReceivedAt)
		})
		groups = append(groups, &orphanGroup{Signal: sig, Items: members})
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Items[0].Raw.ReceivedAt.Before(groups[j].Items[0].Raw.ReceivedAt)
	})
	return groups
}
