package matterfake

import (
	"context"
	"os"
	"sync"

	"matterctl/internal/matter/addr"
	"matterctl/internal/matter/ports"
)

var _ ports.PersistentStore = (*Store)(nil)

// Store is an in-memory ports.PersistentStore.
type Store struct {
	CallRecorder
	mu         sync.Mutex
	attributes map[addr.PeerAddress][]ports.AttributeReport
	discovery  map[string][]byte

	LoadErr func(target addr.PeerAddress) error
	SaveErr func(target addr.PeerAddress) error
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		attributes: make(map[addr.PeerAddress][]ports.AttributeReport),
		discovery:  make(map[string][]byte),
	}
}

func (s *Store) LoadAttributes(ctx context.Context, target addr.PeerAddress) ([]ports.AttributeReport, error) {
	s.record("LoadAttributes", target)
	if s.LoadErr != nil {
		if err := s.LoadErr(target); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	reports, ok := s.attributes[target]
	if !ok {
		return nil, os.ErrNotExist
	}
	out := make([]ports.AttributeReport, len(reports))
	copy(out, reports)
	return out, nil
}

func (s *Store) SaveAttributes(ctx context.Context, target addr.PeerAddress, reports []ports.AttributeReport) error {
	s.record("SaveAttributes", target, reports)
	if s.SaveErr != nil {
		if err := s.SaveErr(target); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]ports.AttributeReport, len(reports))
	copy(cp, reports)
	s.attributes[target] = cp
	return nil
}

func (s *Store) LoadDiscoveryRecord(ctx context.Context, instanceName string) ([]byte, error) {
	s.record("LoadDiscoveryRecord", instanceName)
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.discovery[instanceName]
	if !ok {
		return nil, os.ErrNotExist
	}
	return append([]byte(nil), data...), nil
}

func (s *Store) SaveDiscoveryRecord(ctx context.Context, instanceName string, data []byte) error {
	s.record("SaveDiscoveryRecord", instanceName, data)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discovery[instanceName] = append([]byte(nil), data...)
	return nil
}
