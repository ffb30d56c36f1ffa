package ids

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewReturnsDistinctIDs(t *testing.T) {
	a := New()
	b := New()
	require.NotEmpty(t, a)
	require.NotEmpty(t, b)
	require.NotEqual(t, a, b)
}

func TestNewReturnsValidUUIDv4Shape(t *testing.T) {
	id := New()
	require.Len(t, id, 36)
	require.Equal(t, byte('4'), id[14], "version nibble must be 4")
}
