package testutil

import (
	"context"
	"sync"

	"github.com/ConnectForLife/vxnaid-sub000/internal/files"
	"github.com/ConnectForLife/vxnaid-sub000/internal/remote"
)

// MemFiles is an in-memory files.Store with injectable failures.
type MemFiles struct {
	mu      sync.Mutex
	data    map[string][]byte
	Deleted []string

	// WriteErr and DeleteErr, when set, are returned by the matching call.
	WriteErr  error
	DeleteErr error
}

var _ files.Store = (*MemFiles)(nil)

// NewMemFiles creates an empty MemFiles.
func NewMemFiles() *MemFiles {
	return &MemFiles{data: make(map[string][]byte)}
}

func (m *MemFiles) WriteFile(_ context.Context, key string, data []byte, overwrite bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WriteErr != nil {
		return m.WriteErr
	}
	if _, ok := m.data[key]; ok && !overwrite {
		return files.ErrExists
	}
	m.data[key] = append([]byte(nil), data...)
	return nil
}

func (m *MemFiles) ReadFile(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), b...), nil
}

func (m *MemFiles) DeleteFile(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	delete(m.data, key)
	m.Deleted = append(m.Deleted, key)
	return nil
}

// Has reports whether key is stored.
func (m *MemFiles) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok
}

// FakeRemote is a scripted remote.API that counts calls.
type FakeRemote struct {
	mu sync.Mutex

	// Errs maps an operation name to the errors returned by successive calls. Once the
	// list is exhausted calls succeed.
	Errs map[string][]error

	// Participants answers GetParticipantsByUUIDs.
	Participants map[string]remote.ParticipantResult

	Calls             map[string]int
	ParticipantWrites []remote.ParticipantRequest
	VisitWrites       []remote.VisitRequest
	LookedUp          [][]string
	PingErr           error
}

var _ remote.API = (*FakeRemote)(nil)

// NewFakeRemote creates a FakeRemote that succeeds on every call.
func NewFakeRemote() *FakeRemote {
	return &FakeRemote{
		Errs:         make(map[string][]error),
		Participants: make(map[string]remote.ParticipantResult),
		Calls:        make(map[string]int),
	}
}

// FailNext scripts err for the next call of op.
func (f *FakeRemote) FailNext(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Errs[op] = append(f.Errs[op], err)
}

// CallCount returns how many times op was called.
func (f *FakeRemote) CallCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls[op]
}

// TotalWrites returns the number of write calls of any kind.
func (f *FakeRemote) TotalWrites() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls["registerParticipant"] + f.Calls["updateParticipant"] + f.Calls["createVisit"] + f.Calls["updateVisit"]
}

// SetPingErr sets the error returned by Ping.
func (f *FakeRemote) SetPingErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PingErr = err
}

func (f *FakeRemote) next(op string) error {
	f.Calls[op]++
	errs := f.Errs[op]
	if len(errs) == 0 {
		return nil
	}
	f.Errs[op] = errs[1:]
	return errs[0]
}

func (f *FakeRemote) RegisterParticipant(_ context.Context, req remote.ParticipantRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.next("registerParticipant"); err != nil {
		return "", err
	}
	f.ParticipantWrites = append(f.ParticipantWrites, req)
	return req.ParticipantUUID, nil
}

func (f *FakeRemote) UpdateParticipant(_ context.Context, req remote.ParticipantRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.next("updateParticipant"); err != nil {
		return err
	}
	f.ParticipantWrites = append(f.ParticipantWrites, req)
	return nil
}

func (f *FakeRemote) CreateVisit(_ context.Context, req remote.VisitRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.next("createVisit"); err != nil {
		return "", err
	}
	f.VisitWrites = append(f.VisitWrites, req)
	return req.VisitUUID, nil
}

func (f *FakeRemote) UpdateVisit(_ context.Context, req remote.VisitRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.next("updateVisit"); err != nil {
		return err
	}
	f.VisitWrites = append(f.VisitWrites, req)
	return nil
}

func (f *FakeRemote) GetParticipantsByUUIDs(_ context.Context, uuids []string) ([]remote.ParticipantResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.next("getParticipantsByUuids"); err != nil {
		return nil, err
	}
	f.LookedUp = append(f.LookedUp, append([]string(nil), uuids...))
	var out []remote.ParticipantResult
	for _, id := range uuids {
		if r, ok := f.Participants[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *FakeRemote) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["ping"]++
	return f.PingErr
}
