package db

import "testing"

func TestSourceURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"migrations", "file://migrations"},
		{"/srv/depparse/migrations", "file:///srv/depparse/migrations"},
		{"file://migrations", "file://migrations"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := sourceURL(tt.in); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}
