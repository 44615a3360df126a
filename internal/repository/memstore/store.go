// Package memstore is an in-process message and comment store with push
// subscriptions. It backs local runs and tests.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"persona-chat/internal/domain"
)

// ErrNotFound is returned for updates to a comment that does not exist.
var ErrNotFound = errors.New("memstore: not found")

const sortableTime = "2006-01-02T15:04:05.000000000Z"

type Option func(*Store)

// WithClock overrides the time source used for server timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

type messageSub struct {
	ownerID string
	fn      func(domain.Message)
}

// Store implements both the message and the comment collection. Initial
// snapshots are delivered inside Subscribe; later changes are delivered on
// the writer's goroutine once the data lock is released. Deliveries are
// serialized, so subscriber callbacks must not write to the store.
type Store struct {
	mu       sync.Mutex
	now      func() time.Time
	messages []domain.Message
	comments map[string]domain.Comment
	msgSubs  map[int]messageSub
	cmtSubs  map[int]func([]domain.Comment)
	nextSub  int

	dispatch sync.Mutex
}

func New(opts ...Option) *Store {
	s := &Store{
		now:      time.Now,
		comments: make(map[string]domain.Comment),
		msgSubs:  make(map[int]messageSub),
		cmtSubs:  make(map[int]func([]domain.Comment)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AppendMessage stores msg with a server timestamp and a new id.
func (s *Store) AppendMessage(_ context.Context, msg domain.Message) (string, error) {
	if msg.OwnerID == "" {
		return "", errors.New("memstore: AppendMessage: owner is required")
	}
	s.mu.Lock()
	msg.Timestamp = s.now().UTC()
	msg.ID = msg.Timestamp.Format(sortableTime) + "-" + uuid.NewString()
	s.messages = append(s.messages, msg)
	var fns []func(domain.Message)
	for _, sub := range s.msgSubs {
		if sub.ownerID == msg.OwnerID {
			fns = append(fns, sub.fn)
		}
	}
	s.mu.Unlock()

	s.dispatch.Lock()
	defer s.dispatch.Unlock()
	for _, fn := range fns {
		fn(msg)
	}
	return msg.ID, nil
}

func (s *Store) SubscribeMessages(_ context.Context, ownerID string, fn func(domain.Message)) (func(), error) {
	if fn == nil {
		return nil, errors.New("memstore: SubscribeMessages: callback must not be nil")
	}
	s.dispatch.Lock()
	defer s.dispatch.Unlock()

	s.mu.Lock()
	var existing []domain.Message
	for _, m := range s.messages {
		if m.OwnerID == ownerID {
			existing = append(existing, m)
		}
	}
	id := s.nextSub
	s.nextSub++
	s.msgSubs[id] = messageSub{ownerID: ownerID, fn: fn}
	s.mu.Unlock()

	sort.SliceStable(existing, func(i, j int) bool {
		return existing[i].Timestamp.Before(existing[j].Timestamp)
	})
	for _, m := range existing {
		fn(m)
	}
	return s.unsubscriber(func() { delete(s.msgSubs, id) }), nil
}

// AppendComment stores c with a server timestamp, a new id and an empty
// like set.
func (s *Store) AppendComment(_ context.Context, c domain.Comment) (string, error) {
	s.mu.Lock()
	c.Timestamp = s.now().UTC()
	c.ID = c.Timestamp.Format(sortableTime) + "-" + uuid.NewString()
	c.Likes = []string{}
	c.LikeCount = 0
	s.comments[c.ID] = c
	snap, fns := s.commentSnapshotLocked()
	s.mu.Unlock()

	s.deliverComments(snap, fns)
	return c.ID, nil
}

func (s *Store) SubscribeComments(_ context.Context, fn func([]domain.Comment)) (func(), error) {
	if fn == nil {
		return nil, errors.New("memstore: SubscribeComments: callback must not be nil")
	}
	s.dispatch.Lock()
	defer s.dispatch.Unlock()

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.cmtSubs[id] = fn
	snap, _ := s.commentSnapshotLocked()
	s.mu.Unlock()

	fn(snap)
	return s.unsubscriber(func() { delete(s.cmtSubs, id) }), nil
}

func (s *Store) ReadComment(_ context.Context, id string) (domain.Comment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.comments[id]
	if !ok {
		return domain.Comment{}, false, nil
	}
	return cloneComment(c), true, nil
}

// UpdateLikes applies a set membership change and overwrites the count with
// u.Count, as one write.
func (s *Store) UpdateLikes(_ context.Context, id string, u domain.LikeUpdate) error {
	s.mu.Lock()
	c, ok := s.comments[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("memstore: UpdateLikes %q: %w", id, ErrNotFound)
	}
	c.Likes = applyMembership(c.Likes, u.IdentityID, u.Add)
	c.LikeCount = u.Count
	s.comments[id] = c
	snap, fns := s.commentSnapshotLocked()
	s.mu.Unlock()

	s.deliverComments(snap, fns)
	return nil
}

// ToggleLikeAtomic changes membership and count together. It is a no-op
// when identityID is already in the requested state.
func (s *Store) ToggleLikeAtomic(_ context.Context, id, identityID string, like bool) error {
	s.mu.Lock()
	c, ok := s.comments[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("memstore: ToggleLikeAtomic %q: %w", id, ErrNotFound)
	}
	if c.LikedBy(identityID) == like {
		s.mu.Unlock()
		return nil
	}
	c.Likes = applyMembership(c.Likes, identityID, like)
	if like {
		c.LikeCount++
	} else if c.LikeCount > 0 {
		c.LikeCount--
	}
	s.comments[id] = c
	snap, fns := s.commentSnapshotLocked()
	s.mu.Unlock()

	s.deliverComments(snap, fns)
	return nil
}

func (s *Store) commentSnapshotLocked() ([]domain.Comment, []func([]domain.Comment)) {
	snap := make([]domain.Comment, 0, len(s.comments))
	for _, c := range s.comments {
		snap = append(snap, cloneComment(c))
	}
	sort.Slice(snap, func(i, j int) bool {
		if !snap[i].Timestamp.Equal(snap[j].Timestamp) {
			return snap[i].Timestamp.After(snap[j].Timestamp)
		}
		return snap[i].ID > snap[j].ID
	})
	fns := make([]func([]domain.Comment), 0, len(s.cmtSubs))
	for _, fn := range s.cmtSubs {
		fns = append(fns, fn)
	}
	return snap, fns
}

func (s *Store) deliverComments(snap []domain.Comment, fns []func([]domain.Comment)) {
	s.dispatch.Lock()
	defer s.dispatch.Unlock()
	for _, fn := range fns {
		out := make([]domain.Comment, len(snap))
		for i, c := range snap {
			out[i] = cloneComment(c)
		}
		fn(out)
	}
}

func (s *Store) unsubscriber(remove func()) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			remove()
			s.mu.Unlock()
		})
	}
}

func applyMembership(set []string, member string, add bool) []string {
	idx := slices.Index(set, member)
	switch {
	case add && idx < 0:
		return append(slices.Clone(set), member)
	case !add && idx >= 0:
		return slices.Delete(slices.Clone(set), idx, idx+1)
	}
	return set
}

func cloneComment(c domain.Comment) domain.Comment {
	c.Likes = slices.Clone(c.Likes)
	if c.Likes == nil {
		c.Likes = []string{}
	}
	return c
}
