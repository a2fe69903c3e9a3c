package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/satdl/internal/artifact"
	"github.com/slok/satdl/internal/artifact/local"
)

func TestStore(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	s, err := local.NewStore(local.StoreConfig{Root: root})
	require.NoError(t, err)

	key := artifact.FailureKey("job-1", time.Unix(1700000000, 0), "png")
	assert.Equal(t, "jobs/job-1/failure-1700000000.png", key)

	ref, err := s.Put(ctx, key, artifact.ContentTypePNG, []byte("png-data"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "jobs", "job-1", "failure-1700000000.png"), ref)

	got, err := os.ReadFile(ref)
	require.NoError(t, err)
	assert.Equal(t, []byte("png-data"), got)

	_, err = s.Put(ctx, artifact.FailureKey("job-2", time.Unix(1, 0), "txt"), artifact.ContentTypeText, []byte("x"))
	require.NoError(t, err)

	require.NoError(t, s.DeletePrefix(ctx, artifact.JobPrefix("job-1")))
	_, err = os.Stat(ref)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(root, "jobs", "job-2"))
	assert.NoError(t, err, "other jobs artifacts are kept")

	// Deleting missing prefixes is fine.
	assert.NoError(t, s.DeletePrefix(ctx, artifact.JobPrefix("job-x")))
}

func TestStoreRejectsEscapingKeys(t *testing.T) {
	s, err := local.NewStore(local.StoreConfig{Root: t.TempDir()})
	require.NoError(t, err)

	_, err = s.Put(context.Background(), "../outside.png", artifact.ContentTypePNG, []byte("x"))
	assert.Error(t, err)
	assert.Error(t, s.DeletePrefix(context.Background(), ""))
}
