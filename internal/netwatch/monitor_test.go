package netwatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu     sync.Mutex
	events []bool
}

func (r *recorder) add(online bool) {
	r.mu.Lock()
	r.events = append(r.events, online)
	r.mu.Unlock()
}

func (r *recorder) get() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool{}, r.events...)
}

func TestSetDeliversTransitionsOnly(t *testing.T) {
	tests := []struct {
		name    string
		reports []bool
		want    []bool
	}{
		{"initial offline is silent", []bool{false}, nil},
		{"initial online notifies", []bool{true}, []bool{true}},
		{"duplicates suppressed", []bool{true, true, false, false, true}, []bool{true, false, true}},
		{"offline then recovery", []bool{false, false, true}, []bool{true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(nil, time.Second)
			rec := &recorder{}
			m.Subscribe(rec.add)

			for _, online := range tt.reports {
				m.Set(online)
			}

			got := rec.get()
			if len(got) != len(tt.want) {
				t.Fatalf("events = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("events = %v, want %v", got, tt.want)
					break
				}
			}
			if m.Online() != tt.reports[len(tt.reports)-1] {
				t.Errorf("Online() = %v", m.Online())
			}
		})
	}
}

func TestCheckUsesReachFunc(t *testing.T) {
	var fail bool
	m := New(func(context.Context) error {
		if fail {
			return errors.New("unreachable")
		}
		return nil
	}, time.Second)

	if !m.Check(context.Background()) {
		t.Error("expected online")
	}
	fail = true
	if m.Check(context.Background()) {
		t.Error("expected offline")
	}
	if m.Online() {
		t.Error("Online() should follow the last check")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	checked := make(chan struct{}, 1)
	m := New(func(context.Context) error {
		select {
		case checked <- struct{}{}:
		default:
		}
		return nil
	}, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	select {
	case <-checked:
	case <-time.After(time.Second):
		t.Fatal("Run() did not check")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run() did not stop")
	}
}
