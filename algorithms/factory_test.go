package algorithms

import (
	"testing"
	"time"

	"github.com/codetesla51/kvshape/store"
)

func TestNew(t *testing.T) {
	s := store.NewMemoryStore(store.MemoryConfig{})
	defer s.Close()

	tests := []struct {
		algorithm string
		want      string
	}{
		{"", "*algorithms.FixedWindow"},
		{AlgorithmFixedWindow, "*algorithms.FixedWindow"},
		{AlgorithmSlidingWindow, "*algorithms.SlidingWindow"},
		{AlgorithmSlidingWindowCounter, "*algorithms.SlidingWindowCounter"},
		{AlgorithmTokenBucket, "*algorithms.TokenBucket"},
		{AlgorithmLeakyBucket, "*algorithms.LeakyBucket"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			l, err := New(tt.algorithm, 10, time.Minute, s)
			if err != nil {
				t.Fatalf("New(%q): %v", tt.algorithm, err)
			}
			if got := typeName(l); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestNewRejects(t *testing.T) {
	s := store.NewMemoryStore(store.MemoryConfig{})
	defer s.Close()

	if _, err := New("gcra", 10, time.Second, s); err == nil {
		t.Error("unknown algorithm should fail")
	}
	if _, err := New(AlgorithmFixedWindow, 0, time.Second, s); err == nil {
		t.Error("zero limit should fail")
	}
	if _, err := New(AlgorithmFixedWindow, 1, 0, s); err == nil {
		t.Error("zero window should fail")
	}
}

func TestNewBucketRate(t *testing.T) {
	s := store.NewMemoryStore(store.MemoryConfig{})
	defer s.Close()

	l, err := New(AlgorithmTokenBucket, 120, time.Minute, s)
	if err != nil {
		t.Fatal(err)
	}
	if tb := l.(*TokenBucket); tb.RefillRate != 2 || tb.Capacity != 120 {
		t.Errorf("got capacity %d rate %d, want 120 and 2", tb.Capacity, tb.RefillRate)
	}

	l, err = New(AlgorithmLeakyBucket, 5, time.Hour, s)
	if err != nil {
		t.Fatal(err)
	}
	if lb := l.(*LeakyBucket); lb.Rate != 1 {
		t.Errorf("got rate %d, want at least 1", lb.Rate)
	}
}
