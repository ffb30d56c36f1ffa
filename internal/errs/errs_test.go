package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindUnwrapsWrappedSentinel(t *testing.T) {
	err := fmt.Errorf("creating cluster: %w", Conflict)
	require.ErrorIs(t, Kind(err), Conflict)
}

func TestKindReturnsNilForUnrelatedError(t *testing.T) {
	require.Nil(t, Kind(errors.New("some other failure")))
}

func TestKindDistinguishesEachSentinel(t *testing.T) {
	for _, k := range []error{Validation, Conflict, NotFound, Backend, Build, Transport, ClientReject} {
		wrapped := fmt.Errorf("op failed: %w", k)
		require.ErrorIs(t, Kind(wrapped), k)
	}
}
