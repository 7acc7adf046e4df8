package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowd-sh/flowd/errors"
)

func TestParseSpec(t *testing.T) {
	cases := []struct {
		spec string
		want time.Duration
	}{
		{"every 15m", 15 * time.Minute},
		{"every 24h", 24 * time.Hour},
		{"every 90s", 90 * time.Second},
		{"1h30m", 90 * time.Minute},
		{"  every 5m  ", 5 * time.Minute},
	}
	for _, tc := range cases {
		got, err := ParseSpec(tc.spec)
		require.NoError(t, err, "spec %q", tc.spec)
		assert.Equal(t, tc.want, got, "spec %q", tc.spec)
	}
}

func TestParseSpecInvalid(t *testing.T) {
	for _, spec := range []string{"", "every", "every day", "15 minutes", "every 500ms"} {
		_, err := ParseSpec(spec)
		require.Error(t, err, "spec %q", spec)
		assert.True(t, errors.Is(err, errors.ErrInvalidConfig), "spec %q", spec)
	}
}
