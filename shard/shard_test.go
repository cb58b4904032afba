package shard

import "testing"

func TestNewValidatesCounts(t *testing.T) {
	var table = []struct {
		small, medium, large int
		ok                   bool
	}{
		{1, 1, 1, true},
		{2, 4, 8, true},
		{0, 1, 1, false},
		{1, -3, 1, false},
		{1, 1, 0, false},
	}
	for _, tab := range table {
		_, err := New(tab.small, tab.medium, tab.large)
		if tab.ok && err != nil {
			t.Errorf("New(%d,%d,%d) returned %s", tab.small, tab.medium, tab.large, err.Error())
		}
		if !tab.ok && err == nil {
			t.Errorf("New(%d,%d,%d) returned nil, expected error", tab.small, tab.medium, tab.large)
		}
	}
}

func TestSelectDeterministic(t *testing.T) {
	s, err := New(2, 3, 5)
	if err != nil {
		t.Fatalf("received %s", err.Error())
	}
	for ordinal := int64(0); ordinal < 100; ordinal++ {
		a := s.Select(Large, ordinal)
		b := s.Select(Large, ordinal)
		if a != b {
			t.Fatalf("Select(%d) gave %d then %d", ordinal, a, b)
		}
		if a < 1 || a > 5 {
			t.Fatalf("Select(%d) = %d, outside [1,5]", ordinal, a)
		}
	}
}

func TestSelectUniform(t *testing.T) {
	s, _ := New(1, 4, 1)
	counts := make(map[int]int)
	const rounds = 4000
	for ordinal := int64(0); ordinal < rounds; ordinal++ {
		counts[s.Select(Medium, ordinal)]++
	}
	for instance := 1; instance <= 4; instance++ {
		if counts[instance] != rounds/4 {
			t.Errorf("instance %d selected %d times, expected %d", instance, counts[instance], rounds/4)
		}
	}
}

func TestCurrent(t *testing.T) {
	s, _ := New(1, 1, 3)
	got := s.Select(Large, 7)
	if s.Current() != got {
		t.Errorf("Current() = %d, expected %d", s.Current(), got)
	}
}

func TestClassify(t *testing.T) {
	s, _ := New(1, 1, 1)
	var table = []struct {
		size int64
		want Class
	}{
		{0, Small},
		{10 << 20, Small},
		{DefaultSmallLimit, Medium},
		{100 << 20, Medium},
		{DefaultMediumLimit, Large},
		{1 << 30, Large},
	}
	for _, tab := range table {
		if got := s.Classify(tab.size); got != tab.want {
			t.Errorf("Classify(%d) = %v, expected %v", tab.size, got, tab.want)
		}
	}
}
