package common

import (
	"bytes"
	"fmt"
	"io"
	"io/ioutil"
	"sync"
)

// MockBlobStore is an in-memory BlobStore (for tests & local dev. purposes)
type MockBlobStore struct {
	lock  sync.Mutex
	blobs map[string][]byte
}

// NewMockBlobStore instantiates our in-memory blob store
func NewMockBlobStore() *MockBlobStore {
	return &MockBlobStore{
		blobs: map[string][]byte{},
	}
}

// Put keeps the artifact bytes in memory under the given key
func (s *MockBlobStore) Put(key string, data io.Reader, size int64) error {
	raw, err := ioutil.ReadAll(data)
	if err != nil {
		return err
	}
	s.lock.Lock()
	s.blobs[key] = raw
	s.lock.Unlock()
	return nil
}

// Get returns a reader on the artifact previously Put under the given key
func (s *MockBlobStore) Get(key string) (data io.ReadCloser, err error) {
	s.lock.Lock()
	raw, ok := s.blobs[key]
	s.lock.Unlock()
	if !ok {
		return nil, fmt.Errorf("[mock-storage] No artifact under key %s", key)
	}
	return ioutil.NopCloser(bytes.NewReader(raw)), nil
}
