package resourcekit

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/chainguard-dev/clog"
)

// recordFromDriver builds an index record from what the driver reports.
func (s *Storage) recordFromDriver(ctx context.Context, identifier string) (*IndexRecord, error) {
	info, err := s.driver.FileInfo(ctx, identifier)
	if err != nil {
		return nil, err
	}
	sum, err := s.driver.Hash(ctx, identifier, ChecksumSHA1)
	if err != nil {
		return nil, err
	}
	name := info.Name
	if name == "" {
		name = s.driver.BaseName(identifier)
	}
	return &IndexRecord{
		StorageUID:     s.UID(),
		Identifier:     identifier,
		IdentifierHash: HashString(identifier, ChecksumSHA1),
		FolderHash:     HashString(s.driver.ParentFolderIdentifier(identifier), ChecksumSHA1),
		Name:           name,
		Extension:      strings.ToLower(strings.TrimPrefix(path.Ext(name), ".")),
		MimeType:       info.MimeType,
		Size:           info.Size,
		SHA1:           sum,
		Created:        info.Created,
		Modified:       info.Modified,
	}, nil
}

// indexRecord finds the record of f, by UID when the handle carries one.
func (s *Storage) indexRecord(ctx context.Context, f *File) (*IndexRecord, error) {
	if f.indexUID != 0 {
		return s.opts.index.FindByUID(ctx, f.indexUID)
	}
	return s.opts.index.FindByStorageAndIdentifier(ctx, s.UID(), f.identifier)
}

func (s *Storage) createIndexEntry(ctx context.Context, identifier string) (*IndexRecord, error) {
	rec, err := s.recordFromDriver(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if err := s.opts.index.Create(ctx, rec); err != nil {
		if errors.Is(err, ErrExist) {
			return s.opts.index.FindByStorageAndIdentifier(ctx, s.UID(), identifier)
		}
		return nil, err
	}
	return rec, nil
}

// updateIndexEntry refreshes the record of f from the driver. The record
// keeps its UID and metadata, and moves to f's storage and identifier.
func (s *Storage) updateIndexEntry(ctx context.Context, f *File) (*IndexRecord, error) {
	fresh, err := s.recordFromDriver(ctx, f.identifier)
	if err != nil {
		return nil, err
	}
	old, err := f.storage.indexRecordAnywhere(ctx, f)
	if err != nil {
		if !errors.Is(err, ErrNotIndexed) {
			return nil, err
		}
		if err := s.opts.index.Create(ctx, fresh); err != nil {
			return nil, err
		}
		return fresh, nil
	}
	fresh.UID = old.UID
	fresh.Metadata = maps.Clone(old.Metadata)
	if err := s.opts.index.Update(ctx, fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}

// indexRecordAnywhere looks a handle's record up by UID, which survives
// moves between storages, and falls back to this storage and identifier.
func (s *Storage) indexRecordAnywhere(ctx context.Context, f *File) (*IndexRecord, error) {
	if f.indexUID != 0 {
		rec, err := s.opts.index.FindByUID(ctx, f.indexUID)
		if err == nil || !errors.Is(err, ErrNotIndexed) {
			return rec, err
		}
	}
	return s.opts.index.FindByStorageAndIdentifier(ctx, s.UID(), f.identifier)
}

// syncIndex updates the record after a change and logs instead of failing:
// the physical operation already happened.
func (s *Storage) syncIndex(ctx context.Context, f *File) {
	if _, err := s.updateIndexEntry(ctx, f); err != nil {
		clog.FromContext(ctx).Warnf("storage %d: updating index for %s: %v", s.UID(), f.identifier, err)
	}
}

func (s *Storage) removeIndexEntry(ctx context.Context, f *File) {
	rec, err := s.indexRecordAnywhere(ctx, f)
	if err != nil {
		if !errors.Is(err, ErrNotIndexed) {
			clog.FromContext(ctx).Warnf("storage %d: looking up index for %s: %v", s.UID(), f.identifier, err)
		}
		return
	}
	if err := s.opts.index.Remove(ctx, rec.UID); err != nil {
		clog.FromContext(ctx).Warnf("storage %d: removing index for %s: %v", s.UID(), f.identifier, err)
	}
}

func propertiesFromRecord(rec *IndexRecord) *FileProperties {
	return &FileProperties{
		StorageUID: rec.StorageUID,
		Identifier: rec.Identifier,
		Name:       rec.Name,
		Extension:  rec.Extension,
		MimeType:   rec.MimeType,
		Size:       rec.Size,
		SHA1:       rec.SHA1,
		Created:    rec.Created,
		Modified:   rec.Modified,
		Metadata:   maps.Clone(rec.Metadata),
	}
}

func (s *Storage) loadFileProperties(ctx context.Context, f *File) (*FileProperties, error) {
	rec, err := s.indexRecord(ctx, f)
	if err == nil {
		return propertiesFromRecord(rec), nil
	}
	if !errors.Is(err, ErrNotIndexed) {
		return nil, err
	}
	rec, err = s.recordFromDriver(ctx, f.identifier)
	if err != nil {
		return nil, err
	}
	return propertiesFromRecord(rec), nil
}

// Metadata returns the metadata stored with the file's index record.
func (s *Storage) Metadata(ctx context.Context, f *File) (map[string]string, error) {
	rec, err := s.indexRecord(ctx, f)
	if err != nil {
		return nil, err
	}
	return rec.Metadata, nil
}

// UpdateMetadata merges values into the file's metadata. An empty value
// removes the key.
func (s *Storage) UpdateMetadata(ctx context.Context, f *File, values map[string]string) error {
	if f.IsDeleted() {
		return &PathError{Op: "metadata", Path: f.identifier, Err: ErrDeleted}
	}
	if !s.CheckFileAction(ctx, ActionEditMeta, f) {
		return denied(ActionEditMeta, KindFile, f.identifier)
	}
	rec, err := s.indexRecord(ctx, f)
	if err != nil {
		return err
	}
	if rec.Metadata == nil {
		rec.Metadata = make(map[string]string, len(values))
	}
	for k, v := range values {
		if v == "" {
			delete(rec.Metadata, k)
			continue
		}
		rec.Metadata[k] = v
	}
	f.mu.Lock()
	f.props = nil
	f.mu.Unlock()
	return s.opts.index.Update(ctx, rec)
}

// IndexStats summarizes a Reindex run.
type IndexStats struct {
	Created int
	Updated int
	Missing int
}

// Reindex reconciles the index with the driver below folder (the root when
// nil): new files get records, changed files are refreshed and records of
// files that vanished are flagged missing.
func (s *Storage) Reindex(ctx context.Context, folder *Folder) (*IndexStats, error) {
	root := s.driver.RootLevelFolder()
	if folder != nil {
		root = folder.identifier
	}
	ids, err := s.driver.FilesInFolder(ctx, root, true)
	if err != nil {
		return nil, err
	}
	stats := &IndexStats{}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		seen[id] = true
		rec, err := s.opts.index.FindByStorageAndIdentifier(ctx, s.UID(), id)
		if errors.Is(err, ErrNotIndexed) {
			if _, err := s.createIndexEntry(ctx, id); err != nil {
				return stats, err
			}
			stats.Created++
			continue
		}
		if err != nil {
			return stats, err
		}
		fresh, err := s.recordFromDriver(ctx, id)
		if err != nil {
			return stats, err
		}
		if !rec.Missing && fresh.SHA1 == rec.SHA1 && fresh.Size == rec.Size && fresh.Modified.Equal(rec.Modified) {
			continue
		}
		fresh.UID = rec.UID
		fresh.Metadata = rec.Metadata
		if err := s.opts.index.Update(ctx, fresh); err != nil {
			return stats, err
		}
		stats.Updated++
	}

	records, err := s.opts.index.FindByStorage(ctx, s.UID())
	if err != nil {
		return stats, err
	}
	for _, rec := range records {
		if seen[rec.Identifier] || rec.Missing || !s.driver.IsWithin(root, rec.Identifier) {
			continue
		}
		rec.Missing = true
		if err := s.opts.index.Update(ctx, rec); err != nil {
			return stats, err
		}
		stats.Missing++
	}
	clog.FromContext(ctx).Infof("storage %d: reindexed %s: %d created, %d updated, %d missing",
		s.UID(), root, stats.Created, stats.Updated, stats.Missing)
	return stats, nil
}

// fingerprint hashes the listing below root so pollers can tell whether
// anything changed without comparing whole listings.
func (s *Storage) fingerprint(ctx context.Context, root string) (uint64, error) {
	ids, err := s.driver.FilesInFolder(ctx, root, true)
	if err != nil {
		return 0, err
	}
	sort.Strings(ids)
	h := xxhash.New()
	for _, id := range ids {
		info, err := s.driver.FileInfo(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotExist) {
				continue
			}
			return 0, err
		}
		fmt.Fprintf(h, "%s\x00%d\x00%d\n", id, info.Size, info.Modified.UnixNano())
	}
	return h.Sum64(), nil
}

// WatchIndex keeps the index below folder in sync until ctx is done. It
// uses the driver's change events and polls every interval when the
// driver has none.
func (s *Storage) WatchIndex(ctx context.Context, folder *Folder, interval time.Duration) error {
	root := s.driver.RootLevelFolder()
	if folder != nil {
		root = folder.identifier
	}
	log := clog.FromContext(ctx)

	nextToken := func() (ChangeToken, func(), error) {
		token, err := s.driver.Watch(ctx, "**")
		if err == nil {
			return token, func() {}, nil
		}
		if !errors.Is(err, ErrNotSupported) {
			return nil, nil, err
		}
		last, err := s.fingerprint(ctx, root)
		if err != nil {
			return nil, nil, err
		}
		poll := NewPollingChangeToken(ctx, interval, func(ctx context.Context) bool {
			sum, err := s.fingerprint(ctx, root)
			if err != nil {
				log.Warnf("storage %d: fingerprinting %s: %v", s.UID(), root, err)
				return false
			}
			return sum != last
		})
		return poll, poll.Stop, nil
	}

	for {
		token, stop, err := nextToken()
		if err != nil {
			return err
		}
		changed := make(chan struct{}, 1)
		unregister := token.RegisterChangeCallback(func() {
			select {
			case changed <- struct{}{}:
			default:
			}
		})
		select {
		case <-ctx.Done():
			unregister()
			stop()
			return ctx.Err()
		case <-changed:
			unregister()
			stop()
		}
		if _, err := s.Reindex(ctx, folder); err != nil {
			log.Errorf("storage %d: reindex after change: %v", s.UID(), err)
		}
	}
}
