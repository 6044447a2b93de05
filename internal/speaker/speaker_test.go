package speaker

import "testing"

func TestFill(t *testing.T) {
	samples := []float32{0.1, 0.2, 0.3, 0.4, 0.5}
	buffer := make([]float32, 2)

	tests := []struct {
		pos     int
		wantPos int
		want    []float32
	}{
		{0, 2, []float32{0.1, 0.2}},
		{2, 4, []float32{0.3, 0.4}},
		{4, 5, []float32{0.5, 0}},
	}
	for _, tt := range tests {
		if got := fill(buffer, samples, tt.pos); got != tt.wantPos {
			t.Errorf("Expected next position %d, got %d", tt.wantPos, got)
		}
		for i := range tt.want {
			if buffer[i] != tt.want[i] {
				t.Errorf("Expected buffer %v, got %v", tt.want, buffer)
				break
			}
		}
	}
}
