package testutil

import (
	"context"
	"errors"
	"testing"

	"github.com/ConnectForLife/vxnaid-sub000/internal/files"
	"github.com/ConnectForLife/vxnaid-sub000/internal/remote"
)

type mockTestingT struct {
	testing.TB
	failed bool
}

func (m *mockTestingT) Helper() {}

func (m *mockTestingT) Errorf(format string, args ...any) { m.failed = true }

func TestAssertHTTPStatus(t *testing.T) {
	tests := []struct {
		name       string
		expected   int
		actual     int
		shouldFail bool
	}{
		{name: "matching status codes", expected: 200, actual: 200},
		{name: "different status codes", expected: 200, actual: 404, shouldFail: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockT := &mockTestingT{}
			AssertHTTPStatus(mockT, tt.expected, tt.actual, "test context")
			if tt.shouldFail != mockT.failed {
				t.Errorf("expected failed=%v, got %v", tt.shouldFail, mockT.failed)
			}
		})
	}
}

func TestCreateHTTPRequest(t *testing.T) {
	req := CreateHTTPRequest(t, "POST", "/drafts/participants", map[string]string{"key": "value"})
	if req.Method != "POST" || req.URL.Path != "/drafts/participants" {
		t.Errorf("unexpected request %s %s", req.Method, req.URL.Path)
	}
	if req.Header.Get("Content-Type") != "application/json" {
		t.Error("expected JSON content type")
	}
}

func TestMemFiles(t *testing.T) {
	ctx := context.Background()
	m := NewMemFiles()
	if err := m.WriteFile(ctx, "photo/a.jpg", []byte("x"), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.WriteFile(ctx, "photo/a.jpg", []byte("y"), false); !errors.Is(err, files.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	if b, _ := m.ReadFile(ctx, "missing"); b != nil {
		t.Errorf("expected nil for missing key, got %q", b)
	}
	if err := m.DeleteFile(ctx, "photo/a.jpg"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Has("photo/a.jpg") {
		t.Error("expected key to be deleted")
	}
}

func TestFakeRemoteScriptedErrors(t *testing.T) {
	f := NewFakeRemote()
	boom := errors.New("boom")
	f.FailNext("updateVisit", boom)

	if err := f.UpdateVisit(context.Background(), remoteVisit("v-1")); !errors.Is(err, boom) {
		t.Fatalf("expected scripted error, got %v", err)
	}
	if err := f.UpdateVisit(context.Background(), remoteVisit("v-1")); err != nil {
		t.Fatalf("expected success after script exhausted, got %v", err)
	}
	if got := f.CallCount("updateVisit"); got != 2 {
		t.Errorf("expected 2 calls, got %d", got)
	}
	if got := len(f.VisitWrites); got != 1 {
		t.Errorf("expected 1 recorded write, got %d", got)
	}
}

func remoteVisit(uuid string) remote.VisitRequest {
	return remote.VisitRequest{VisitUUID: uuid}
}
