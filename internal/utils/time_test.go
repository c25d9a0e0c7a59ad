package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLater(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.Equal(t, base.Add(time.Second), Later(base, base.Add(time.Second)))
	require.Equal(t, base, Later(base, base.Add(-time.Second)))
	require.Equal(t, base, Later(base, base))
}

func TestNowUTC(t *testing.T) {
	require.Equal(t, time.UTC, NowUTC().Location())
}
