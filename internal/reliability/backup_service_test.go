package reliability

import (
	"archive/tar"
	"compress/gzip"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteArchive_FlushesAllEntries(t *testing.T) {
	stagingDir := t.TempDir()
	payload := []byte("ledger snapshot bytes")
	require.NoError(t, os.WriteFile(filepath.Join(stagingDir, "ledger.db"), payload, 0o644))

	checksum, err := fileChecksum(filepath.Join(stagingDir, "ledger.db"))
	require.NoError(t, err)

	manifest := BackupManifest{
		Timestamp: time.Now().UTC(),
		Databases: []DatabaseSnapshot{{
			Name:      "ledger",
			Filename:  "ledger.db",
			SizeBytes: int64(len(payload)),
			Checksum:  checksum,
		}},
	}

	svc := &BackupService{log: zerolog.New(nil).Level(zerolog.Disabled)}
	archivePath := filepath.Join(stagingDir, "out.tar.gz")
	require.NoError(t, svc.writeArchive(archivePath, stagingDir, manifest))

	// The archive must read back end to end: an unflushed writer leaves
	// a truncated gzip stream behind.
	f, err := os.Open(archivePath)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	entries := map[string][]byte{}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		data, err := io.ReadAll(tr)
		require.NoError(t, err)
		entries[hdr.Name] = data
	}
	require.NoError(t, gz.Close())

	require.Contains(t, entries, "manifest.json")
	var decoded BackupManifest
	require.NoError(t, json.Unmarshal(entries["manifest.json"], &decoded))
	require.Len(t, decoded.Databases, 1)
	assert.Equal(t, checksum, decoded.Databases[0].Checksum)

	assert.Equal(t, payload, entries["ledger.db"])
}
