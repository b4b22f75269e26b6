package ledger

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Store persists sealed entries. Entries arrive in index order.
type Store interface {
	Load() ([]Entry, error)
	Append(e Entry) error
	Close() error
}

const (
	entryKeyPrefix = "entry:"
	heightKey      = "meta:height"
)

type LevelDBStore struct {
	db *leveldb.DB
}

func OpenLevelDB(path string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger store: %w", err)
	}
	return &LevelDBStore{db: db}, nil
}

// zero-padded so the key order is the index order
func entryKey(index int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", entryKeyPrefix, index))
}

func (s *LevelDBStore) Append(e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode entry %d: %w", e.Index, err)
	}

	batch := new(leveldb.Batch)
	batch.Put(entryKey(e.Index), data)
	batch.Put([]byte(heightKey), []byte(strconv.FormatInt(e.Index+1, 10)))
	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("failed to write entry %d: %w", e.Index, err)
	}
	return nil
}

func (s *LevelDBStore) Load() ([]Entry, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(entryKeyPrefix)), nil)
	defer iter.Release()

	var entries []Entry
	for iter.Next() {
		var e Entry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", iter.Key(), err)
		}
		entries = append(entries, e)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("failed to iterate ledger store: %w", err)
	}
	return entries, nil
}

func (s *LevelDBStore) Height() (int64, error) {
	data, err := s.db.Get([]byte(heightKey), nil)
	if err == leveldb.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(string(data), 10, 64)
}

func (s *LevelDBStore) Close() error {
	return s.db.Close()
}
