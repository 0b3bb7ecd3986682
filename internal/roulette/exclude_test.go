package roulette

import (
	"reflect"
	"testing"
)

func TestExclude(t *testing.T) {
	tests := []struct {
		name string
		pool []string
		seen []string
		want []string
	}{
		{
			name: "removes seen ids",
			pool: []string{"A", "B", "C"},
			seen: []string{"A", "B"},
			want: []string{"C"},
		},
		{
			name: "trims before comparing",
			pool: []string{" A", "B ", "C"},
			seen: []string{"A ", " B"},
			want: []string{"C"},
		},
		{
			name: "everything seen recycles the pool",
			pool: []string{"A", "B"},
			seen: []string{"B", "A", "A"},
			want: []string{"A", "B"},
		},
		{
			name: "no history",
			pool: []string{"A", "B"},
			seen: nil,
			want: []string{"A", "B"},
		},
		{
			name: "duplicates in pool are all dropped",
			pool: []string{"A", "A", "B"},
			seen: []string{"A"},
			want: []string{"B"},
		},
		{
			name: "empty pool stays empty",
			pool: nil,
			seen: []string{"A"},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Exclude(tt.pool, tt.seen)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Exclude() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExclude_DoesNotMutateInputs(t *testing.T) {
	pool := []string{"A", "B", "C"}
	seen := []string{"B"}

	_ = Exclude(pool, seen)

	if !reflect.DeepEqual(pool, []string{"A", "B", "C"}) {
		t.Errorf("pool mutated: %v", pool)
	}
	if !reflect.DeepEqual(seen, []string{"B"}) {
		t.Errorf("seen mutated: %v", seen)
	}
}

func TestExclude_NeverEmptyForNonEmptyPool(t *testing.T) {
	pool := []string{"1", "2", "3"}
	histories := [][]string{
		{}, {"1"}, {"1", "2"}, {"1", "2", "3"}, {"3", "3", "2", "1", "9"},
	}
	for _, seen := range histories {
		if got := Exclude(pool, seen); len(got) == 0 {
			t.Errorf("Exclude(%v, %v) returned an empty pool", pool, seen)
		}
	}
}
