package local_test

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storageConfig "github.com/tigerroll/cirrusbatch/pkg/batch/adapter/storage/config"
	"github.com/tigerroll/cirrusbatch/pkg/batch/adapter/storage/local"
)

func TestLocalAdapterRoundTrip(t *testing.T) {
	ctx := context.Background()
	conn, err := local.NewLocalAdapter(storageConfig.StorageConfig{BaseDir: t.TempDir()}, "reports")
	require.NoError(t, err)

	require.NoError(t, conn.Upload(ctx, "runs", "2026/report.csv", strings.NewReader("a,b\n"), "text/csv"))
	require.NoError(t, conn.Upload(ctx, "runs", "other.txt", strings.NewReader("x"), "text/plain"))

	r, err := conn.Download(ctx, "runs", "2026/report.csv")
	require.NoError(t, err)
	body, err := io.ReadAll(r)
	require.NoError(t, r.Close())
	require.NoError(t, err)
	assert.Equal(t, "a,b\n", string(body))

	var names []string
	require.NoError(t, conn.ListObjects(ctx, "runs", "2026/", func(name string) error {
		names = append(names, name)
		return nil
	}))
	assert.Equal(t, []string{"2026/report.csv"}, names)
	assert.True(t, strings.HasSuffix(conn.Location("runs", "2026/report.csv"), "runs/2026/report.csv"))

	require.NoError(t, conn.DeleteObject(ctx, "runs", "2026/report.csv"))
	require.NoError(t, conn.DeleteObject(ctx, "runs", "2026/report.csv"), "deleting twice is not an error")
	_, err = conn.Download(ctx, "runs", "2026/report.csv")
	assert.Error(t, err)
}

func TestLocalAdapterRejectsEscapingPaths(t *testing.T) {
	conn, err := local.NewLocalAdapter(storageConfig.StorageConfig{BaseDir: t.TempDir()}, "reports")
	require.NoError(t, err)
	err = conn.Upload(context.Background(), "", "../escape.txt", strings.NewReader("x"), "text/plain")
	assert.ErrorContains(t, err, "outside of BaseDir")
}

func TestLocalAdapterRequiresBaseDir(t *testing.T) {
	_, err := local.NewLocalAdapter(storageConfig.StorageConfig{}, "reports")
	assert.ErrorContains(t, err, "BaseDir must be specified")
}
