// Package branching resolves the tree of a chat's messages: which parents
// are branch points and which linear path a reader sees.
//
// Messages whose parent is missing from the set are treated as roots, so a
// corrupted row never hides its subtree. Among siblings the newest message
// (created_at, then greatest id) is the default one to follow.
package branching

import (
	"bytes"
	"sort"
	"time"

	"persona/backend/internal/models"
	apperrors "persona/backend/pkg/errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when the anchor is not one of the chat's messages
var ErrNotFound = apperrors.NotFoundf("message not found in chat")

// ChildSummary is one alternative at a branch point
type ChildSummary struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// Branches maps each branch point to its children, oldest first
type Branches map[ParentKey][]ChildSummary

// Path is one root-to-leaf thread of a chat
type Path struct {
	LeafID   *uuid.UUID       `json:"leaf_id"`
	Messages []models.Message `json:"messages"`
}

// less orders siblings by creation time, then id
func less(a, b *models.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return bytes.Compare(a.ID[:], b.ID[:]) < 0
}

// tree indexes a message set by id and by parent
type tree struct {
	byID     map[uuid.UUID]*models.Message
	children map[ParentKey][]*models.Message
}

func newTree(messages []models.Message) *tree {
	t := &tree{
		byID:     make(map[uuid.UUID]*models.Message, len(messages)),
		children: make(map[ParentKey][]*models.Message),
	}
	for i := range messages {
		t.byID[messages[i].ID] = &messages[i]
	}
	for i := range messages {
		m := &messages[i]
		key := t.parentKey(m)
		t.children[key] = append(t.children[key], m)
	}
	for _, group := range t.children {
		sort.Slice(group, func(i, j int) bool { return less(group[i], group[j]) })
	}
	return t
}

func (t *tree) parentKey(m *models.Message) ParentKey {
	if m.ParentID == nil {
		return RootKey()
	}
	if _, ok := t.byID[*m.ParentID]; !ok {
		return RootKey()
	}
	return MessageKey(*m.ParentID)
}

// newest returns the default child of key, nil for a leaf
func (t *tree) newest(key ParentKey) *models.Message {
	group := t.children[key]
	if len(group) == 0 {
		return nil
	}
	return group[len(group)-1]
}

// descend follows the newest child from m down to a leaf
func (t *tree) descend(m *models.Message, seen map[uuid.UUID]bool) []*models.Message {
	var out []*models.Message
	for next := t.newest(MessageKey(m.ID)); next != nil && !seen[next.ID]; next = t.newest(MessageKey(next.ID)) {
		seen[next.ID] = true
		out = append(out, next)
	}
	return out
}

// ancestors returns the chain from the root down to m, m included. The walk
// stops after len(byID) steps so a parent cycle cannot loop forever.
func (t *tree) ancestors(m *models.Message) []*models.Message {
	chain := []*models.Message{m}
	seen := map[uuid.UUID]bool{m.ID: true}
	for cur := m; len(chain) <= len(t.byID); {
		key := t.parentKey(cur)
		id, ok := key.MessageID()
		if !ok || seen[id] {
			break
		}
		cur = t.byID[id]
		seen[id] = true
		chain = append(chain, cur)
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// ComputeBranchesByParent groups messages by parent and keeps only groups
// with two or more children.
func ComputeBranchesByParent(messages []models.Message) Branches {
	t := newTree(messages)
	out := make(Branches)
	for key, group := range t.children {
		if len(group) < 2 {
			continue
		}
		summaries := make([]ChildSummary, len(group))
		for i, m := range group {
			summaries[i] = ChildSummary{ID: m.ID, CreatedAt: m.CreatedAt}
		}
		out[key] = summaries
	}
	return out
}

// ResolvePathToLeaf returns the thread through anchor, or the default thread
// when anchor is nil. The thread runs from the root through the anchor and
// then follows the newest child at every step down to a leaf. A positive
// limit keeps only the first limit messages counted from the root; LeafID
// still names the resolved leaf.
func ResolvePathToLeaf(messages []models.Message, anchor *uuid.UUID, limit int) (Path, error) {
	t := newTree(messages)

	var start *models.Message
	if anchor != nil {
		m, ok := t.byID[*anchor]
		if !ok {
			return Path{}, ErrNotFound
		}
		start = m
	} else {
		start = t.newest(RootKey())
	}
	if start == nil {
		return Path{Messages: []models.Message{}}, nil
	}

	chain := t.ancestors(start)
	seen := make(map[uuid.UUID]bool, len(chain))
	for _, m := range chain {
		seen[m.ID] = true
	}
	chain = append(chain, t.descend(start, seen)...)

	leafID := chain[len(chain)-1].ID
	if limit > 0 && len(chain) > limit {
		chain = chain[:limit]
	}

	path := Path{LeafID: &leafID, Messages: make([]models.Message, len(chain))}
	for i, m := range chain {
		path.Messages[i] = *m
	}
	return path, nil
}
