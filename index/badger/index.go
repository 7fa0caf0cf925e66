package badger

import (
	"context"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/gobeaver/resourcekit"
)

func notIndexed(path string) error {
	return &resourcekit.PathError{Op: "index", Path: path, Err: resourcekit.ErrNotIndexed}
}

func lookupUID(txn *badger.Txn, storageUID int, identifier string) (uint64, error) {
	item, err := txn.Get(identifierKey(storageUID, identifier))
	if err != nil {
		return 0, err
	}
	var uid uint64
	err = item.Value(func(val []byte) error {
		uid, err = decodeUID(val)
		return err
	})
	return uid, err
}

// FindByStorageAndIdentifier implements resourcekit.Index.
func (x *Index) FindByStorageAndIdentifier(ctx context.Context, storageUID int, identifier string) (*resourcekit.IndexRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rec resourcekit.IndexRecord
	err := x.db.View(func(txn *badger.Txn) error {
		uid, err := lookupUID(txn, storageUID, identifier)
		if err != nil {
			return err
		}
		return getJSON(txn, recordKey(uid), &rec)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, notIndexed(resourcekit.CombinedIdentifier(storageUID, identifier))
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// FindByUID implements resourcekit.Index.
func (x *Index) FindByUID(ctx context.Context, uid uint64) (*resourcekit.IndexRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rec resourcekit.IndexRecord
	err := x.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, recordKey(uid), &rec)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, notIndexed(fmt.Sprintf("uid %d", uid))
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// FindByStorage implements resourcekit.Index. Records come back ordered by
// identifier.
func (x *Index) FindByStorage(ctx context.Context, storageUID int) ([]*resourcekit.IndexRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*resourcekit.IndexRecord
	err := x.db.View(func(txn *badger.Txn) error {
		prefix := identifierPrefix(storageUID)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var uid uint64
			if err := it.Item().Value(func(val []byte) error {
				var err error
				uid, err = decodeUID(val)
				return err
			}); err != nil {
				return err
			}
			var rec resourcekit.IndexRecord
			if err := getJSON(txn, recordKey(uid), &rec); err != nil {
				return err
			}
			out = append(out, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Create implements resourcekit.Index.
func (x *Index) Create(ctx context.Context, rec *resourcekit.IndexRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	uid, err := nextUID(x.seq)
	if err != nil {
		return err
	}
	err = x.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(identifierKey(rec.StorageUID, rec.Identifier)); err == nil {
			return &resourcekit.PathError{Op: "index", Path: resourcekit.CombinedIdentifier(rec.StorageUID, rec.Identifier), Err: resourcekit.ErrExist}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		stored := *rec
		stored.UID = uid
		if err := setJSON(txn, recordKey(uid), &stored); err != nil {
			return err
		}
		return txn.Set(identifierKey(rec.StorageUID, rec.Identifier), encodeUID(uid))
	})
	if err != nil {
		return err
	}
	rec.UID = uid
	return nil
}

// Update implements resourcekit.Index. When the new identifier was indexed
// under another uid, that record is dropped.
func (x *Index) Update(ctx context.Context, rec *resourcekit.IndexRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return x.db.Update(func(txn *badger.Txn) error {
		var old resourcekit.IndexRecord
		if err := getJSON(txn, recordKey(rec.UID), &old); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return notIndexed(fmt.Sprintf("uid %d", rec.UID))
			}
			return err
		}
		other, err := lookupUID(txn, rec.StorageUID, rec.Identifier)
		switch {
		case err == nil && other != rec.UID:
			if err := txn.Delete(recordKey(other)); err != nil {
				return err
			}
		case err != nil && !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		if err := txn.Delete(identifierKey(old.StorageUID, old.Identifier)); err != nil {
			return err
		}
		if err := setJSON(txn, recordKey(rec.UID), rec); err != nil {
			return err
		}
		return txn.Set(identifierKey(rec.StorageUID, rec.Identifier), encodeUID(rec.UID))
	})
}

// Remove implements resourcekit.Index. Removing an unknown uid is a no-op.
func (x *Index) Remove(ctx context.Context, uid uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return x.db.Update(func(txn *badger.Txn) error {
		var rec resourcekit.IndexRecord
		if err := getJSON(txn, recordKey(uid), &rec); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		if err := txn.Delete(identifierKey(rec.StorageUID, rec.Identifier)); err != nil {
			return err
		}
		return txn.Delete(recordKey(uid))
	})
}
