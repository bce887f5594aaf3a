package repository_test

import (
	"testing"

	"github.com/septivank/energy-bypass-monitor/internal/repository"
)

func TestEmailKey(t *testing.T) {
	tests := []struct {
		email string
		want  string
	}{
		{"jane.doe@example.com", "jane,doe@example,com"},
		{" admin@grid.co.id ", "admin@grid,co,id"},
		{"plain@host", "plain@host"},
	}

	for _, tt := range tests {
		if got := repository.EmailKey(tt.email); got != tt.want {
			t.Errorf("EmailKey(%q) = %q, want %q", tt.email, got, tt.want)
		}
	}
}
