package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatchMarkerChangedOnRowCount(t *testing.T) {
	now := time.Now()
	prev := WatchMarker{RowCount: 3, MaxUpdatedAt: now}
	next := WatchMarker{RowCount: 4, MaxUpdatedAt: now}
	require.True(t, next.Changed(prev))
}

func TestWatchMarkerChangedOnUpdatedAt(t *testing.T) {
	now := time.Now()
	prev := WatchMarker{RowCount: 3, MaxUpdatedAt: now}
	next := WatchMarker{RowCount: 3, MaxUpdatedAt: now.Add(time.Second)}
	require.True(t, next.Changed(prev))
}

func TestWatchMarkerUnchangedWhenIdentical(t *testing.T) {
	now := time.Now()
	prev := WatchMarker{RowCount: 3, MaxUpdatedAt: now}
	next := WatchMarker{RowCount: 3, MaxUpdatedAt: now}
	require.False(t, next.Changed(prev))
}
