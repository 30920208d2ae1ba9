package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		want string
	}{
		{"single digits", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), "03:04:05"},
		{"midnight", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), "00:00:00"},
		{"double digits", time.Date(2024, 1, 2, 23, 59, 10, 999, time.UTC), "23:59:10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Format(tt.at))
		})
	}
}

func TestManual(t *testing.T) {
	req := require.New(t)
	start := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	c := NewManual(start)
	req.Equal(start, c.Now())

	c.Advance(10 * time.Second)
	req.Equal(start.Add(10*time.Second), c.Now())

	c.Set(start)
	req.Equal(start, c.Now())
}
