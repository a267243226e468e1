package grove

import "github.com/syndtr/goleveldb/leveldb/comparer"
import lvlerrors "github.com/syndtr/goleveldb/leveldb/errors"
import "github.com/syndtr/goleveldb/leveldb/memdb"
import "github.com/syndtr/goleveldb/leveldb/util"
import "golang.org/x/xerrors"

// memory layer, always starts afresh
type memKV struct {
	db *memdb.DB
}

func newMemKV() *memKV {
	return &memKV{db: memdb.New(comparer.DefaultComparer, 0)}
}

func (m *memKV) Get(key []byte) ([]byte, error) {
	value, err := m.db.Get(key)
	if err == lvlerrors.ErrNotFound {
		return nil, xerrors.Errorf("%w: key %x", ErrNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	return append([]byte{}, value...), nil
}

func (m *memKV) Set(key, value []byte, _ bool) error {
	return m.db.Put(key, value)
}

func (m *memKV) Last(lower, upper []byte) ([]byte, error) {
	iter := m.db.NewIterator(&util.Range{Start: lower, Limit: upper})
	defer iter.Release()
	if iter.Last() {
		return append([]byte{}, iter.Key()...), nil
	}
	return nil, iter.Error()
}

func (m *memKV) Close() error {
	m.db.Reset()
	return nil
}
