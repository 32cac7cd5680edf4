package nodestore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Bitlatte/contentpages/internal/model"
)

// MemoryStore keeps records in process memory, preserving insertion order.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]int
	nodes  []model.ContentRecord
	byType map[string][]int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]int),
		byType: make(map[string][]int),
	}
}

// CreateNode stores a copy of rec.
func (s *MemoryStore) CreateNode(ctx context.Context, rec model.ContentRecord) error {
	if rec.ID == "" || rec.Type == "" {
		return fmt.Errorf("create node: id and type are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[rec.ID]; ok {
		return fmt.Errorf("create node %s: %w", rec.ID, ErrDuplicateNode)
	}
	idx := len(s.nodes)
	s.nodes = append(s.nodes, cloneRecord(rec))
	s.byID[rec.ID] = idx
	s.byType[rec.Type] = append(s.byType[rec.Type], idx)
	return nil
}

// GetNodesByIds returns matches in the order the ids were given.
func (s *MemoryStore) GetNodesByIds(ctx context.Context, sel Selector, opts Options) ([]model.ContentRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.ContentRecord, 0, len(sel.IDs))
	for _, id := range sel.IDs {
		idx, ok := s.byID[id]
		if !ok {
			continue
		}
		rec := s.nodes[idx]
		if sel.Type != "" && rec.Type != sel.Type {
			continue
		}
		result = append(result, rec)
	}
	return result, nil
}

func (s *MemoryStore) GetNode(ctx context.Context, id string) (model.ContentRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.byID[id]
	if !ok {
		return model.ContentRecord{}, false, nil
	}
	return s.nodes[idx], true, nil
}

func (s *MemoryStore) GetAllNodes(ctx context.Context, nodeType string) ([]model.ContentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idxs := s.byType[nodeType]
	result := make([]model.ContentRecord, 0, len(idxs))
	for _, idx := range idxs {
		result = append(result, s.nodes[idx])
	}
	return result, nil
}

func (s *MemoryStore) Types(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	types := make([]string, 0, len(s.byType))
	for t := range s.byType {
		types = append(types, t)
	}
	sort.Strings(types)
	return types, nil
}

func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes), nil
}

func cloneRecord(rec model.ContentRecord) model.ContentRecord {
	out := rec
	if rec.Children != nil {
		out.Children = append([]string(nil), rec.Children...)
	}
	if rec.Fields != nil {
		out.Fields = make(map[string]interface{}, len(rec.Fields))
		for k, v := range rec.Fields {
			out.Fields[k] = v
		}
	}
	return out
}
