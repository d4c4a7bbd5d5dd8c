package store

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"certifychain/internal/domain"
)

// In-memory stores back unit tests and local runs. They intentionally favor
// clarity over performance.

type MemoryInstitutionStore struct {
	mu     sync.RWMutex
	byID   map[uuid.UUID]domain.Institution
	byAddr map[common.Address]uuid.UUID
}

func NewMemoryInstitutionStore() *MemoryInstitutionStore {
	return &MemoryInstitutionStore{
		byID:   make(map[uuid.UUID]domain.Institution),
		byAddr: make(map[common.Address]uuid.UUID),
	}
}

func (s *MemoryInstitutionStore) Save(_ context.Context, inst domain.Institution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byAddr[inst.Address]; ok && existing != inst.ID {
		return ErrConflict
	}
	s.byID[inst.ID] = inst
	s.byAddr[inst.Address] = inst.ID
	return nil
}

func (s *MemoryInstitutionStore) FindByAddress(_ context.Context, addr common.Address) (domain.Institution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id, ok := s.byAddr[addr]; ok {
		return s.byID[id], nil
	}
	return domain.Institution{}, ErrNotFound
}

func (s *MemoryInstitutionStore) FindByID(_ context.Context, id uuid.UUID) (domain.Institution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if inst, ok := s.byID[id]; ok {
		return inst, nil
	}
	return domain.Institution{}, ErrNotFound
}

func (s *MemoryInstitutionStore) UpdateContact(_ context.Context, id uuid.UUID, name, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	inst.Name = name
	inst.Email = email
	s.byID[id] = inst
	return nil
}

func (s *MemoryInstitutionStore) List(_ context.Context) ([]domain.Institution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Institution, 0, len(s.byID))
	for _, inst := range s.byID {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type MemoryStudentStore struct {
	mu      sync.RWMutex
	byEmail map[string]domain.Student
}

func NewMemoryStudentStore() *MemoryStudentStore {
	return &MemoryStudentStore{byEmail: make(map[string]domain.Student)}
}

func (s *MemoryStudentStore) Save(_ context.Context, student domain.Student) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byEmail[student.Email] = student
	return nil
}

func (s *MemoryStudentStore) FindByEmail(_ context.Context, email string) (domain.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if student, ok := s.byEmail[email]; ok {
		return student, nil
	}
	return domain.Student{}, ErrNotFound
}

func (s *MemoryStudentStore) FindByID(_ context.Context, id uuid.UUID) (domain.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, student := range s.byEmail {
		if student.ID == id {
			return student, nil
		}
	}
	return domain.Student{}, ErrNotFound
}

func (s *MemoryStudentStore) UpdateName(_ context.Context, id uuid.UUID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for email, student := range s.byEmail {
		if student.ID == id {
			student.Name = name
			s.byEmail[email] = student
			return nil
		}
	}
	return ErrNotFound
}

type MemoryCertificateStore struct {
	mu     sync.RWMutex
	byCert map[string]domain.Certificate
}

func NewMemoryCertificateStore() *MemoryCertificateStore {
	return &MemoryCertificateStore{byCert: make(map[string]domain.Certificate)}
}

func (s *MemoryCertificateStore) Save(_ context.Context, cert domain.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byCert[cert.CertificateID]; ok {
		return ErrConflict
	}
	s.byCert[cert.CertificateID] = cert
	return nil
}

func (s *MemoryCertificateStore) FindByCertificateID(_ context.Context, certificateID string) (domain.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cert, ok := s.byCert[certificateID]; ok {
		return cert, nil
	}
	return domain.Certificate{}, ErrNotFound
}

func (s *MemoryCertificateStore) Exists(_ context.Context, certificateID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byCert[certificateID]
	return ok, nil
}

func (s *MemoryCertificateStore) MarkRevoked(_ context.Context, certificateID, reason string, revokedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cert, ok := s.byCert[certificateID]
	if !ok {
		return ErrNotFound
	}
	if cert.IsRevoked {
		return nil
	}
	cert.IsRevoked = true
	cert.RevocationReason = reason
	cert.RevocationDate = &revokedAt
	s.byCert[certificateID] = cert
	return nil
}

func (s *MemoryCertificateStore) ListByInstitution(_ context.Context, institutionID uuid.UUID) ([]domain.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Certificate
	for _, cert := range s.byCert {
		if cert.InstitutionID == institutionID {
			out = append(out, cert)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type MemoryAPIKeyStore struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]domain.APIKey
}

func NewMemoryAPIKeyStore() *MemoryAPIKeyStore {
	return &MemoryAPIKeyStore{byID: make(map[uuid.UUID]domain.APIKey)}
}

func (s *MemoryAPIKeyStore) Save(_ context.Context, key domain.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[key.ID] = key
	return nil
}

func (s *MemoryAPIKeyStore) FindByFingerprint(_ context.Context, fingerprint []byte) (domain.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, key := range s.byID {
		if bytes.Equal(key.Fingerprint, fingerprint) {
			return key, nil
		}
	}
	return domain.APIKey{}, ErrNotFound
}

func (s *MemoryAPIKeyStore) FindByID(_ context.Context, id uuid.UUID) (domain.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if key, ok := s.byID[id]; ok {
		return key, nil
	}
	return domain.APIKey{}, ErrNotFound
}

func (s *MemoryAPIKeyStore) ListByInstitution(_ context.Context, institutionID uuid.UUID) ([]domain.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.APIKey
	for _, key := range s.byID {
		if key.InstitutionID == institutionID {
			out = append(out, key)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryAPIKeyStore) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	key.Active = active
	s.byID[id] = key
	return nil
}

func (s *MemoryAPIKeyStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return ErrNotFound
	}
	delete(s.byID, id)
	return nil
}

func (s *MemoryAPIKeyStore) TouchLastUsed(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	key.LastUsedAt = &at
	s.byID[id] = key
	return nil
}

type MemoryVerificationStore struct {
	mu     sync.RWMutex
	events []domain.VerificationEvent
}

func NewMemoryVerificationStore() *MemoryVerificationStore {
	return &MemoryVerificationStore{}
}

func (s *MemoryVerificationStore) Append(_ context.Context, event domain.VerificationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *MemoryVerificationStore) ListByCertificate(_ context.Context, certificateID string) ([]domain.VerificationEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.VerificationEvent
	for _, event := range s.events {
		if event.CertificateID == certificateID {
			out = append(out, event)
		}
	}
	return out, nil
}

type MemoryDivergenceStore struct {
	mu   sync.RWMutex
	rows []domain.Divergence
}

func NewMemoryDivergenceStore() *MemoryDivergenceStore {
	return &MemoryDivergenceStore{}
}

func (s *MemoryDivergenceStore) Append(_ context.Context, div domain.Divergence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, div)
	return nil
}

func (s *MemoryDivergenceStore) Exists(_ context.Context, certificateID string, kind domain.DivergenceKind) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, row := range s.rows {
		if row.CertificateID == certificateID && row.Kind == kind {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryDivergenceStore) List(_ context.Context, unresolvedOnly bool) ([]domain.Divergence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Divergence
	for _, row := range s.rows {
		if unresolvedOnly && row.Resolved {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

func (s *MemoryDivergenceStore) Resolve(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rows {
		if s.rows[i].ID == id {
			s.rows[i].Resolved = true
			return nil
		}
	}
	return ErrNotFound
}

var (
	_ InstitutionStore  = (*MemoryInstitutionStore)(nil)
	_ StudentStore      = (*MemoryStudentStore)(nil)
	_ CertificateStore  = (*MemoryCertificateStore)(nil)
	_ APIKeyStore       = (*MemoryAPIKeyStore)(nil)
	_ VerificationStore = (*MemoryVerificationStore)(nil)
	_ DivergenceStore   = (*MemoryDivergenceStore)(nil)
)
