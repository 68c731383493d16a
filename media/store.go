// Package media is the content store: a deduplicated, user-and-date
// partitioned blob layout on the local filesystem with a staging area for
// in-flight writes. The on-disk layout is part of the external contract:
//
//	<root>/user_<owner>/<YYYY>/<MM>/<hash16>_<sanitized_name>.<ext>
//
// where hash16 is the first 16 lowercase hex characters of the content
// SHA-256. Row creation and blob placement are co-ordered so the blob exists
// iff the metadata row does; deletion removes the row first and tolerates a
// missing blob.
package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"goa.design/clue/log"

	"github.com/mixware/mxwhisper/store"
)

// ErrIO wraps filesystem and hashing failures so callers can classify them
// as content-store IO errors.
var ErrIO = errors.New("content store io error")

// ErrTooLarge is returned by Stage when the payload exceeds the configured
// byte cap.
var ErrTooLarge = errors.New("file exceeds maximum allowed size")

const stagingDir = "_staging"

// hashChunkSize is the streaming read size used for SHA-256 computation.
const hashChunkSize = 8 * 1024

// Store manages blobs under a single root directory.
type Store struct {
	root    string
	maxSize int64
	probe   Prober
}

// IngestParams describes a staged file about to enter the store.
type IngestParams struct {
	OwnerID     string
	DisplayName string
	StagingPath string
	Origin      string // store.OriginUpload or store.OriginDownload
	OriginURL   string
	Platform    string
}

// New creates a Store rooted at root. maxSize bounds staged payloads;
// prober extracts duration and mime (pass nil to skip probing).
func New(root string, maxSize int64, prober Prober) (*Store, error) {
	if root == "" {
		return nil, errors.New("content store root is required")
	}
	if err := os.MkdirAll(filepath.Join(root, stagingDir), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create staging dir: %v", ErrIO, err)
	}
	return &Store{root: root, maxSize: maxSize, probe: prober}, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.root }

// StagingDir returns the staging directory. Downloaders write here directly
// and hand the path to Ingest.
func (s *Store) StagingDir() string { return filepath.Join(s.root, stagingDir) }

// Stage copies r into the staging area and fsyncs. The returned path stays
// inside <root>/_staging until Ingest moves or removes it.
func (s *Store) Stage(r io.Reader) (string, error) {
	path := filepath.Join(s.root, stagingDir, uuid.NewString()+".part")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("%w: create staging file: %v", ErrIO, err)
	}
	limit := r
	if s.maxSize > 0 {
		limit = io.LimitReader(r, s.maxSize+1)
	}
	n, err := io.Copy(f, limit)
	if err == nil && s.maxSize > 0 && n > s.maxSize {
		err = ErrTooLarge
	}
	if err == nil {
		err = f.Sync()
		if err != nil {
			err = fmt.Errorf("%w: fsync: %v", ErrIO, err)
		}
	}
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("%w: close: %v", ErrIO, cerr)
	}
	if err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}

// Ingest moves a staged file into its final location and records the
// MediaFile row. Duplicate content (same owner, same SHA-256) deletes the
// staged file and returns the existing row with isDuplicate true. On the
// insert race where two ingests carry identical bytes, the loser rolls its
// rename back and defers to the winner's row.
func (s *Store) Ingest(ctx context.Context, db *store.DB, p IngestParams) (*store.MediaFile, bool, error) {
	hash, size, err := hashFile(p.StagingPath)
	if err != nil {
		return nil, false, err
	}

	if existing, err := db.MediaFiles.FindByOwnerHash(ctx, p.OwnerID, hash); err == nil {
		_ = os.Remove(p.StagingPath)
		return existing, true, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	finalPath := s.finalPath(p.OwnerID, p.DisplayName, hash, time.Now().UTC())
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return nil, false, fmt.Errorf("%w: create media dir: %v", ErrIO, err)
	}
	// Same-filesystem rename keeps the move atomic; a cross-device staging
	// root is a deployment error surfaced as an IO failure.
	if err := os.Rename(p.StagingPath, finalPath); err != nil {
		return nil, false, fmt.Errorf("%w: finalize blob: %v", ErrIO, err)
	}

	m := &store.MediaFile{
		OwnerID:        p.OwnerID,
		StoredPath:     finalPath,
		DisplayName:    p.DisplayName,
		ByteSize:       size,
		ContentHash:    hash,
		Origin:         p.Origin,
		OriginURL:      p.OriginURL,
		OriginPlatform: p.Platform,
	}
	if s.probe != nil {
		// Best effort: duration and mime stay unset when probing fails.
		if meta, err := s.probe.Probe(ctx, finalPath); err == nil {
			if meta.DurationSeconds > 0 {
				d := meta.DurationSeconds
				m.DurationSeconds = &d
			}
			m.MIME = meta.MIME
		} else {
			log.Warn(ctx, log.KV{K: "msg", V: "media probe failed"},
				log.KV{K: "path", V: finalPath}, log.KV{K: "err", V: err.Error()})
		}
	}

	err = db.MediaFiles.Create(ctx, nil, m)
	if errors.Is(err, store.ErrDuplicateContent) {
		// Lost the insert race: defer to the winner's row before touching
		// the blob, since identical params land both ingests on the same
		// final path and the winner's blob must survive.
		existing, lookupErr := db.MediaFiles.FindByOwnerHash(ctx, p.OwnerID, hash)
		if lookupErr != nil {
			return nil, false, lookupErr
		}
		releaseLoserBlob(existing.StoredPath, finalPath)
		return existing, true, nil
	}
	if err != nil {
		_ = os.Remove(finalPath)
		return nil, false, err
	}
	return m, false, nil
}

// releaseLoserBlob removes the blob written by the losing side of an ingest
// race, unless the winner's row points at the very same path.
func releaseLoserBlob(winnerPath, loserPath string) {
	if winnerPath == loserPath {
		return
	}
	_ = os.Remove(loserPath)
}

// Delete removes the owner's media file row (cascading to transcriptions,
// chunks and links) and then unlinks the blob. A missing blob is tolerated:
// an orphaned file is recoverable, a dangling row is not.
func (s *Store) Delete(ctx context.Context, db *store.DB, ownerID string, mediaFileID int64) error {
	path, err := db.MediaFiles.Delete(ctx, ownerID, mediaFileID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warn(ctx, log.KV{K: "msg", V: "orphaned blob after delete"},
			log.KV{K: "path", V: path}, log.KV{K: "err", V: err.Error()})
	}
	return nil
}

// SweepStaging removes staging leftovers older than maxAge. Workers call
// this at startup to clear files abandoned by crashed activities.
func (s *Store) SweepStaging(ctx context.Context, maxAge time.Duration) {
	dir := filepath.Join(s.root, stagingDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-maxAge)
	for _, e := range entries {
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := os.Remove(path); err == nil {
			log.Info(ctx, log.KV{K: "msg", V: "swept stale staging file"},
				log.KV{K: "path", V: path})
		}
	}
}

func (s *Store) finalPath(ownerID, displayName, hash string, now time.Time) string {
	name, ext := SanitizeName(displayName)
	base := hash[:16] + "_" + name
	if ext != "" {
		base += "." + ext
	}
	return filepath.Join(s.root,
		"user_"+ownerID,
		now.Format("2006"),
		now.Format("01"),
		base)
}

func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("%w: open staged file: %v", ErrIO, err)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	buf := make([]byte, hashChunkSize)
	var size int64
	for {
		n, err := f.Read(buf)
		if n > 0 {
			size += int64(n)
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", 0, fmt.Errorf("%w: read staged file: %v", ErrIO, err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}
