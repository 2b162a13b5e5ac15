package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/coinpilot/coinpilot/internal/database"
	"github.com/coinpilot/coinpilot/internal/events"
)

const backupPrefix = "backups/"

// BackupService snapshots every database with VACUUM INTO, packs the
// snapshots into a tar.gz archive with a checksum manifest, uploads the
// archive to object storage and prunes old archives past the retention
// count.
type BackupService struct {
	client    *S3Client
	databases []*database.DB
	dataDir   string
	keep      int
	events    *events.Manager
	log       zerolog.Logger
}

// BackupManifest describes one backup archive
type BackupManifest struct {
	Timestamp time.Time          `json:"timestamp"`
	Databases []DatabaseSnapshot `json:"databases"`
}

// DatabaseSnapshot describes one database inside an archive
type DatabaseSnapshot struct {
	Name      string `json:"name"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// NewBackupService creates a new backup service
func NewBackupService(
	client *S3Client,
	databases []*database.DB,
	dataDir string,
	keep int,
	eventManager *events.Manager,
	log zerolog.Logger,
) *BackupService {
	if keep <= 0 {
		keep = 7
	}
	return &BackupService{
		client:    client,
		databases: databases,
		dataDir:   dataDir,
		keep:      keep,
		events:    eventManager,
		log:       log.With().Str("service", "backup").Logger(),
	}
}

// Run creates one backup archive, uploads it and prunes old archives
func (s *BackupService) Run(ctx context.Context) error {
	started := time.Now()
	s.log.Info().Msg("Starting backup")

	stagingDir := filepath.Join(s.dataDir, "backup-staging")
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	manifest := BackupManifest{
		Timestamp: started.UTC(),
		Databases: make([]DatabaseSnapshot, 0, len(s.databases)),
	}

	for _, db := range s.databases {
		snapshotPath := filepath.Join(stagingDir, db.Name()+".db")
		if err := db.Snapshot(snapshotPath); err != nil {
			return fmt.Errorf("failed to snapshot %s: %w", db.Name(), err)
		}

		info, err := os.Stat(snapshotPath)
		if err != nil {
			return fmt.Errorf("failed to stat snapshot of %s: %w", db.Name(), err)
		}
		checksum, err := fileChecksum(snapshotPath)
		if err != nil {
			return fmt.Errorf("failed to checksum snapshot of %s: %w", db.Name(), err)
		}

		manifest.Databases = append(manifest.Databases, DatabaseSnapshot{
			Name:      db.Name(),
			Filename:  db.Name() + ".db",
			SizeBytes: info.Size(),
			Checksum:  checksum,
		})
	}

	archiveName := fmt.Sprintf("coinpilot-%s.tar.gz", started.UTC().Format("20060102-150405"))
	archivePath := filepath.Join(stagingDir, archiveName)
	if err := s.writeArchive(archivePath, stagingDir, manifest); err != nil {
		return err
	}

	if err := s.upload(ctx, archivePath, backupPrefix+archiveName); err != nil {
		return err
	}
	if err := s.prune(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Failed to prune old backups")
	}

	s.log.Info().
		Str("archive", archiveName).
		Dur("duration", time.Since(started)).
		Msg("Backup complete")
	s.events.Emit(events.BackupCompleted, "reliability", map[string]interface{}{
		"archive":   archiveName,
		"databases": len(manifest.Databases),
	})
	return nil
}

func (s *BackupService) writeArchive(archivePath, stagingDir string, manifest BackupManifest) error {
	out, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := writeTarFile(tw, "manifest.json", manifestJSON); err != nil {
		return err
	}

	for _, snap := range manifest.Databases {
		data, err := os.ReadFile(filepath.Join(stagingDir, snap.Filename))
		if err != nil {
			return fmt.Errorf("failed to read snapshot %s: %w", snap.Filename, err)
		}
		if err := writeTarFile(tw, snap.Filename, data); err != nil {
			return err
		}
	}

	// Closing flushes buffered archive data; a swallowed error here
	// would upload a truncated archive.
	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive: %w", err)
	}
	return nil
}

func (s *BackupService) upload(ctx context.Context, path, key string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer file.Close()

	uploader := manager.NewUploader(s.client.S3())
	_, err = uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.client.Bucket()),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String("application/gzip"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload backup: %w", err)
	}
	return nil
}

// prune deletes the oldest archives beyond the retention count
func (s *BackupService) prune(ctx context.Context) error {
	resp, err := s.client.S3().ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.client.Bucket()),
		Prefix: aws.String(backupPrefix),
	})
	if err != nil {
		return fmt.Errorf("failed to list backups: %w", err)
	}

	var keys []string
	for _, obj := range resp.Contents {
		if obj.Key != nil && strings.HasSuffix(*obj.Key, ".tar.gz") {
			keys = append(keys, *obj.Key)
		}
	}
	if len(keys) <= s.keep {
		return nil
	}

	// Archive names embed their timestamp, lexical order is chronological
	sort.Strings(keys)
	for _, key := range keys[:len(keys)-s.keep] {
		_, err := s.client.S3().DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.client.Bucket()),
			Key:    aws.String(key),
		})
		if err != nil {
			return fmt.Errorf("failed to delete old backup %s: %w", key, err)
		}
		s.log.Debug().Str("key", key).Msg("Pruned old backup")
	}
	return nil
}

func writeTarFile(tw *tar.Writer, name string, data []byte) error {
	hdr := &tar.Header{
		Name:    name,
		Mode:    0o644,
		Size:    int64(len(data)),
		ModTime: time.Now(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("failed to write tar header for %s: %w", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("failed to write %s to archive: %w", name, err)
	}
	return nil
}

func fileChecksum(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	h := sha256.New()
	if _, err := io.Copy(h, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
