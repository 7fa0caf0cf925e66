package badger

import (
	"context"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/gobeaver/resourcekit"
)

// All implements resourcekit.RecordStore. Records are ordered by uid.
func (r *Records) All(ctx context.Context) ([]resourcekit.StorageRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []resourcekit.StorageRecord
	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(prefixStorage), PrefetchValues: true, PrefetchSize: 16})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var rec resourcekit.StorageRecord
			if err := getJSON(txn, it.Item().KeyCopy(nil), &rec); err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

// Create implements resourcekit.RecordStore. A zero uid is assigned from
// the storage sequence; an explicit uid must be free.
func (r *Records) Create(ctx context.Context, rec resourcekit.StorageRecord) (resourcekit.StorageRecord, error) {
	if err := ctx.Err(); err != nil {
		return resourcekit.StorageRecord{}, err
	}
	if rec.Name == "" || rec.Driver == "" {
		return resourcekit.StorageRecord{}, fmt.Errorf("%w: storage record needs a name and a driver", resourcekit.ErrInvalidArgument)
	}

	err := r.db.Update(func(txn *badger.Txn) error {
		if rec.UID == 0 {
			for {
				uid, err := nextUID(r.seq)
				if err != nil {
					return err
				}
				if _, err := txn.Get(storageKey(int(uid))); errors.Is(err, badger.ErrKeyNotFound) {
					rec.UID = int(uid)
					break
				} else if err != nil {
					return err
				}
			}
		} else if _, err := txn.Get(storageKey(rec.UID)); err == nil {
			return fmt.Errorf("%w: storage %d", resourcekit.ErrExist, rec.UID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return setJSON(txn, storageKey(rec.UID), &rec)
	})
	if err != nil {
		return resourcekit.StorageRecord{}, err
	}
	return rec, nil
}
