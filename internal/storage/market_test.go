package storage

import "testing"

func TestGroupMinutes(t *testing.T) {
	tests := []struct {
		name    string
		seconds int
		want    int
		wantErr bool
	}{
		{"one minute", 60, 1, false},
		{"five minutes", 300, 5, false},
		{"fifteen minutes", 900, 15, false},
		{"hour", 3600, 60, false},
		{"not a multiple of 60", 90, 0, true},
		{"sub-minute", 30, 0, true},
		{"zero", 0, 0, true},
		{"negative", -60, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := GroupMinutes(tt.seconds)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("GroupMinutes(%d): expected error, got %d", tt.seconds, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("GroupMinutes(%d): unexpected error: %v", tt.seconds, err)
			}
			if got != tt.want {
				t.Errorf("GroupMinutes(%d) = %d, want %d", tt.seconds, got, tt.want)
			}
		})
	}
}
