package speech

import "testing"

func TestWindow_Ratio(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		size  int
		input []bool
		want  float64
	}{
		{"empty", 10, nil, 0},
		{"three of ten", 10, []bool{true, true, true, false, false, false, false, false, false, false}, 0.3},
		{"four of ten", 10, []bool{true, true, true, true, false, false, false, false, false, false}, 0.4},
		{"partial window", 10, []bool{true, false}, 0.5},
		{"evicts oldest", 3, []bool{true, true, true, false, false}, 1.0 / 3},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			w := NewWindow(tc.size)
			for _, v := range tc.input {
				w.Push(v)
			}
			if got := w.Ratio(); got != tc.want {
				t.Errorf("Ratio = %v, want %v", got, tc.want)
			}
			if w.Len() > tc.size {
				t.Errorf("Len = %d exceeds capacity %d", w.Len(), tc.size)
			}
		})
	}
}

func TestWindow_NeverExceedsCapacity(t *testing.T) {
	t.Parallel()
	w := NewWindow(10)
	for i := range 100 {
		w.Push(i%3 == 0)
		if w.Len() > 10 {
			t.Fatalf("Len = %d after %d pushes", w.Len(), i+1)
		}
	}
}
