package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSnapshotArchiverWithEmptyBucketIsDisabled(t *testing.T) {
	archiver, err := NewSnapshotArchiver(context.Background(), "us-east-1", "")
	require.NoError(t, err)
	assert.True(t, archiver.Disabled())
}

func TestDisabledArchiverArchiveIsNoop(t *testing.T) {
	archiver, err := NewSnapshotArchiver(context.Background(), "us-east-1", "")
	require.NoError(t, err)

	key, err := archiver.Archive(context.Background(), "station-1", "detection-1", []byte{0x01, 0x02})
	require.NoError(t, err)
	assert.Empty(t, key)
}

func TestDisabledArchiverFetchErrors(t *testing.T) {
	archiver, err := NewSnapshotArchiver(context.Background(), "us-east-1", "")
	require.NoError(t, err)

	_, err = archiver.Fetch(context.Background(), "snapshots/2026/07/station-1/detection-1.pcm")
	assert.Error(t, err)
}

func TestDisabledArchiverCheckBucketAccessIsNoop(t *testing.T) {
	archiver, err := NewSnapshotArchiver(context.Background(), "us-east-1", "")
	require.NoError(t, err)
	assert.NoError(t, archiver.CheckBucketAccess(context.Background()))
}
