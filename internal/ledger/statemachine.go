package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// entry is one fact in the append-only log.
type entry struct {
	seq    uint64
	op     string
	addr   common.Address
	certID string
	at     time.Time
}

// StateMachine is the in-process ledger: an ordered log of entries plus
// indexes by address and certificate id, guarded by one mutex. It enforces
// exactly the transitions of the on-chain contract and is the implementation
// unit tests and local runs use in place of the EVM client.
type StateMachine struct {
	mu  sync.Mutex
	now func() time.Time

	log          []entry
	institutions map[common.Address]*Institution
	certificates map[string]*Certificate
	issuedBy     map[common.Address][]string
}

// NewStateMachine builds an empty ledger. now may be nil, defaulting to
// time.Now; tests inject a fixed clock.
func NewStateMachine(now func() time.Time) *StateMachine {
	if now == nil {
		now = time.Now
	}
	return &StateMachine{
		now:          now,
		institutions: make(map[common.Address]*Institution),
		certificates: make(map[string]*Certificate),
		issuedBy:     make(map[common.Address][]string),
	}
}

func (m *StateMachine) append(op string, addr common.Address, certID string) *TxReceipt {
	seq := uint64(len(m.log)) + 1
	m.log = append(m.log, entry{seq: seq, op: op, addr: addr, certID: certID, at: m.now()})
	return &TxReceipt{
		TxHash:      fmt.Sprintf("0x%064x", seq),
		BlockNumber: seq,
	}
}

func (m *StateMachine) RegisterInstitution(_ context.Context, caller common.Address, name, email string) (*TxReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.institutions[caller]; ok {
		return nil, ErrAlreadyRegistered
	}
	m.institutions[caller] = &Institution{Name: name, Email: email, Registered: true}
	return m.append("register", caller, ""), nil
}

func (m *StateMachine) IssueCertificate(_ context.Context, caller common.Address, id, studentName, courseName string) (*TxReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.institutions[caller]
	if !ok {
		return nil, ErrNotRegistered
	}
	if _, exists := m.certificates[id]; exists {
		return nil, ErrDuplicateID
	}
	m.certificates[id] = &Certificate{
		StudentName:     studentName,
		CourseName:      courseName,
		IssueDate:       m.now(),
		IssuerAddress:   caller,
		InstitutionName: inst.Name,
		IsValid:         true,
	}
	m.issuedBy[caller] = append(m.issuedBy[caller], id)
	return m.append("issue", caller, id), nil
}

func (m *StateMachine) RevokeCertificate(_ context.Context, caller common.Address, id string) (*TxReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cert, ok := m.certificates[id]
	if !ok {
		return nil, ErrNotFound
	}
	if cert.IssuerAddress != caller {
		return nil, ErrNotAuthorized
	}
	if !cert.IsValid {
		return nil, ErrAlreadyRevoked
	}
	cert.IsValid = false
	return m.append("revoke", caller, id), nil
}

func (m *StateMachine) VerifyCertificate(_ context.Context, id string) (*Certificate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cert, ok := m.certificates[id]
	if !ok {
		return nil, ErrNotFound
	}
	snapshot := *cert
	return &snapshot, nil
}

func (m *StateMachine) InstitutionDetails(_ context.Context, addr common.Address) (*Institution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if inst, ok := m.institutions[addr]; ok {
		snapshot := *inst
		return &snapshot, nil
	}
	return &Institution{}, nil
}

func (m *StateMachine) CertificateCount(_ context.Context, addr common.Address) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.issuedBy[addr]), nil
}

func (m *StateMachine) CertificateAt(_ context.Context, addr common.Address, index int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := m.issuedBy[addr]
	if index < 0 || index >= len(ids) {
		return "", fmt.Errorf("certificate index %d out of range", index)
	}
	return ids[index], nil
}

var _ Client = (*StateMachine)(nil)
