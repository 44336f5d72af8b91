// Package memory implements the Message Store Facade in-process, for tests
// and local development (spec §4.D backend 1).
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/loomrun/agentcore/internal/ids"
	"github.com/loomrun/agentcore/internal/model"
	"github.com/loomrun/agentcore/internal/store"
)

// Store is a goroutine-safe in-memory implementation of store.Store.
type Store struct {
	mu       sync.Mutex
	messages map[ids.ID][]*model.Message
	seq      int64
	now      store.Clock
}

// New builds an empty Store. now defaults to time.Now.
func New(now store.Clock) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{messages: make(map[ids.ID][]*model.Message), now: now}
}

var _ store.Store = (*Store)(nil)

func (s *Store) AppendMessage(_ context.Context, threadID ids.ID, msgType model.MessageType, content json.RawMessage, isLLM bool, metadata map[string]any) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	msg := &model.Message{
		MessageID:    ids.ID(ids.New().String() + "-" + itoa(s.seq)),
		ThreadID:     threadID,
		Type:         msgType,
		Content:      append(json.RawMessage(nil), content...),
		IsLLMMessage: isLLM,
		Metadata:     metadata,
		CreatedAt:    s.now(),
	}
	s.messages[threadID] = append(s.messages[threadID], msg)
	return msg, nil
}

func (s *Store) ListMessages(_ context.Context, threadID ids.ID) ([]*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneOrdered(s.messages[threadID], nil), nil
}

func (s *Store) ListLLMMessages(_ context.Context, threadID ids.ID) ([]*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneOrdered(s.messages[threadID], func(m *model.Message) bool { return m.IsLLMMessage }), nil
}

func (s *Store) DeleteByType(_ context.Context, threadID ids.ID, msgType model.MessageType) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.messages[threadID]
	kept := existing[:0:0]
	removed := 0
	for _, m := range existing {
		if m.Type == msgType {
			removed++
			continue
		}
		kept = append(kept, m)
	}
	s.messages[threadID] = kept
	return removed, nil
}

func cloneOrdered(in []*model.Message, keep func(*model.Message) bool) []*model.Message {
	out := make([]*model.Message, 0, len(in))
	for _, m := range in {
		if keep != nil && !keep(m) {
			continue
		}
		cp := *m
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].MessageID < out[j].MessageID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
