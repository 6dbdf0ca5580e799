package validation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestValidateBarcode(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"  ab12-34 ", "AB12-34", false},
		{"LOT.2024/7", "LOT.2024/7", false},
		{"abc", "", true},
		{"AB 12 34", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ValidateBarcode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateBarcode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err != nil && !errors.Is(err, ErrInvalidBarcode) {
			t.Errorf("expected ErrInvalidBarcode, got %v", err)
		}
		if got != tt.want {
			t.Errorf("ValidateBarcode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidatePhone(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"+256 700-000 001", "+256700000001", false},
		{"(0700) 000001", "0700000001", false},
		{"12345", "", true},
		{"+25670000000a", "", true},
		{"256+700000001", "", true},
	}
	for _, tt := range tests {
		got, err := ValidatePhone(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidatePhone(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ValidatePhone(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDebouncerLatestWins(t *testing.T) {
	d := NewDebouncer[string](50 * time.Millisecond)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]error, 2)
	values := make([]string, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		values[0], results[0] = d.Do(ctx, "barcode", func(context.Context) (string, error) { return "first", nil })
	}()
	time.Sleep(10 * time.Millisecond)
	values[1], results[1] = d.Do(ctx, "barcode", func(context.Context) (string, error) { return "second", nil })
	wg.Wait()

	if !errors.Is(results[0], ErrSuperseded) {
		t.Errorf("expected first call to be superseded, got %v (%q)", results[0], values[0])
	}
	if results[1] != nil || values[1] != "second" {
		t.Errorf("expected second call to win, got %q, %v", values[1], results[1])
	}
	if d.Pending() != 0 {
		t.Errorf("expected no pending tasks, got %d", d.Pending())
	}
}

func TestDebouncerDiscardsResultComputedAfterSupersede(t *testing.T) {
	d := NewDebouncer[int](0)
	ctx := context.Background()
	started := make(chan struct{})
	release := make(chan struct{})

	var firstErr error
	done := make(chan struct{})
	go func() {
		_, firstErr = d.Do(ctx, "phone", func(context.Context) (int, error) {
			close(started)
			<-release
			return 1, nil
		})
		close(done)
	}()
	<-started
	go func() {
		<-time.After(10 * time.Millisecond)
		close(release)
	}()
	v, err := d.Do(ctx, "phone", func(context.Context) (int, error) { return 2, nil })
	<-done

	if err != nil || v != 2 {
		t.Fatalf("expected newest result 2, got %d, %v", v, err)
	}
	if !errors.Is(firstErr, ErrSuperseded) {
		t.Fatalf("expected stale result to be discarded, got %v", firstErr)
	}
}

func TestDebouncerKeysAreIndependent(t *testing.T) {
	d := NewDebouncer[string](10 * time.Millisecond)
	ctx := context.Background()
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, key := range []string{"a", "b"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = d.Do(ctx, key, func(context.Context) (string, error) { return key, nil })
		}()
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Errorf("key %d: unexpected error %v", i, err)
		}
	}
}

func TestDebouncerCancel(t *testing.T) {
	d := NewDebouncer[string](time.Second)
	errc := make(chan error, 1)
	go func() {
		_, err := d.Do(context.Background(), "k", func(context.Context) (string, error) { return "x", nil })
		errc <- err
	}()
	for d.Pending() == 0 {
		time.Sleep(time.Millisecond)
	}
	d.Cancel("k")
	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancel did not stop the pending call")
	}
}
