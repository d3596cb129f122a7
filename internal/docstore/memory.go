package docstore

import (
	"context"

	"go.uber.org/zap"
)

// MemoryStore in-process Store used in embedded mode and tests
// MemoryStore 进程内 Store，用于嵌入模式和测试
type MemoryStore struct {
	*engine
}

// NewMemoryStore creates an empty in-memory store
// NewMemoryStore 创建空的内存存储
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	return &MemoryStore{engine: newEngine(&memoryBackend{docs: make(map[string]map[string]Document)}, logger)}
}

// memoryBackend documents grouped by collection; data maps are never mutated once stored
type memoryBackend struct {
	docs map[string]map[string]Document
}

func (m *memoryBackend) get(_ context.Context, path string) (*Document, error) {
	c, id := ParentPath(path)
	d, ok := m.docs[c][id]
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

func (m *memoryBackend) list(_ context.Context, collection string) ([]Document, error) {
	out := make([]Document, 0, len(m.docs[collection]))
	for _, d := range m.docs[collection] {
		out = append(out, d)
	}
	return out, nil
}

func (m *memoryBackend) put(_ context.Context, doc Document) error {
	c, id := ParentPath(doc.Path)
	if m.docs[c] == nil {
		m.docs[c] = make(map[string]Document)
	}
	m.docs[c][id] = doc
	return nil
}

func (m *memoryBackend) remove(_ context.Context, paths []string) error {
	for _, p := range paths {
		c, id := ParentPath(p)
		delete(m.docs[c], id)
	}
	return nil
}

func (m *memoryBackend) close() error {
	return nil
}
