package pipeline

import (
	"sort"

	"jobsift/core/domain"
)

// Item is one message in flight through a sync run: the raw message,
// its extraction, and the classification record being built.
type Item struct {
	Raw    *domain.RawMessage
	Email  *domain.ExtractedEmail
	Record *domain.ClassificationRecord

	// set when the preclassifier score cleared the auto-approve
	// threshold; lets the staged engine skip the classify call
	autoApproved bool
}

// ThreadGroup is one conversation, ordered oldest to newest. The
// provider's conversation grouping is treated as ground truth, so no
// pairwise matching ever happens inside a thread.
type ThreadGroup struct {
	ConversationID string
	// Messages sorted ascending by received time; Messages[0] is the
	// representative whose classify/extract result the rest inherit.
	Messages []*Item
}

// Representative returns the earliest message of the thread.
func (g *ThreadGroup) Representative() *Item {
	return g.Messages[0]
}

// GroupThreads splits items into conversation groups and orphans. A
// conversation only asserts same-entity linkage when it has at least
// two messages; providers assign a thread id even to lone messages, so
// singletons go through orphan matching instead. Thread order is
// deterministic (by earliest message), and messages within a thread are
// sorted oldest to newest.
func GroupThreads(items []*Item) (threads []*ThreadGroup, orphans []*Item) {
	byConversation := make(map[string][]*Item)
	for _, item := range items {
		cid := item.Raw.ConversationID
		if cid == "" {
			orphans = append(orphans, item)
			continue
		}
		byConversation[cid] = append(byConversation[cid], item)
	}

	for cid, members := range byConversation {
		if len(members) == 1 {
			orphans = append(orphans, members[0])
			continue
		}
		sort.SliceStable(members, func(i, j int) bool {
			return members[i].Raw.ReceivedAt.Before(members[j].Raw.ReceivedAt)
		})
		threads = append(threads, &ThreadGroup{ConversationID: cid, Messages: members})
	}
	sort.Slice(threads, func(i, j int) bool {
		return threads[i].Messages[0].Raw.ReceivedAt.Before(threads[j].Messages[0].Raw.ReceivedAt)
	})

	sort.SliceStable(orphans, func(i, j int) bool {
		return orphans[i].Raw.ReceivedAt.Before(orphans[j].Raw.ReceivedAt)
	})
	return threads, orphans
}
