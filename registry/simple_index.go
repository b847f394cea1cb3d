package registry

import (
	"sync"

	iradix "github.com/hashicorp/go-immutable-radix"
)

// simpleIndex is the (native-path, object-id) dictionary pair shared by
// Adapter, Port and Expander, which (unlike Device) have no device-file or
// major/minor key.
type simpleIndex[T any] struct {
	sync.RWMutex
	byPathTree *iradix.Tree
	byIDMap map[string]T
}

func newSimpleIndex[T any]() *simpleIndex[T] {
	return &simpleIndex[T]{
		byPathTree: iradix.New(),
		byIDMap: make(map[string]T),
	}
}

func (s *simpleIndex[T]) insert(path, id string, v T) {
	s.Lock()
	defer s.Unlock()
	tree, _, _ := s.byPathTree.Insert([]byte(path), v)
	s.byPathTree = tree
	s.byIDMap[id] = v
}

func (s *simpleIndex[T]) remove(path, id string) {
	s.Lock()
	defer s.Unlock()
	tree, _, _ := s.byPathTree.Delete([]byte(path))
	s.byPathTree = tree
	delete(s.byIDMap, id)
}

func (s *simpleIndex[T]) byPath(path string) (T, bool) {
	s.RLock()
	defer s.RUnlock()
	v, ok := s.byPathTree.Get([]byte(path))
	if !ok {
		var zero T
		return zero, false
	}
	return v.(T), true
}

func (s *simpleIndex[T]) byID(id string) (T, bool) {
	s.RLock()
	defer s.RUnlock()
	v, ok := s.byIDMap[id]
	return v, ok
}

func (s *simpleIndex[T]) all() []T {
	s.RLock()
	defer s.RUnlock()
	out := make([]T, 0, len(s.byIDMap))
	for _, v := range s.byIDMap {
		out = append(out, v)
	}
	return out
}
