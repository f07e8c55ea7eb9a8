package paging

import (
	"reflect"
	"testing"
)

func TestSplit(t *testing.T) {
	totals := []int{2, 3, 5}
	cases := []struct {
		start, size int
		spans       []Span
		more        bool
	}{
		{0, 4, []Span{{0, 0, 2}, {1, 0, 2}}, true},
		{4, 4, []Span{{1, 2, 1}, {2, 0, 3}}, true},
		{8, 4, []Span{{2, 3, 2}}, false},
		{10, 4, nil, false},
		{0, 10, []Span{{0, 0, 2}, {1, 0, 3}, {2, 0, 5}}, false},
	}
	for _, tc := range cases {
		spans, more := Split(totals, tc.start, tc.size)
		if !reflect.DeepEqual(spans, tc.spans) || more != tc.more {
			t.Fatalf("Split(%d, %d) = %v, %v; want %v, %v", tc.start, tc.size, spans, more, tc.spans, tc.more)
		}
	}
}

func TestSplitSkipsEmptySegments(t *testing.T) {
	spans, more := Split([]int{0, 3, 0}, 0, 2)
	if len(spans) != 1 || spans[0] != (Span{1, 0, 2}) || !more {
		t.Fatalf("unexpected %v, %v", spans, more)
	}
}
