package grove

import "github.com/cockroachdb/pebble"
import "golang.org/x/xerrors"

// disk layer, nodes are stored as individual pebble keys
type pebbleKV struct {
	db *pebble.DB
}

func newPebbleKV(dir string) (*pebbleKV, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &pebbleKV{db: db}, nil
}

func (p *pebbleKV) Get(key []byte) ([]byte, error) {
	value, closer, err := p.db.Get(key)
	if err == pebble.ErrNotFound {
		return nil, xerrors.Errorf("%w: key %x", ErrNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return append([]byte{}, value...), nil
}

func (p *pebbleKV) Set(key, value []byte, sync bool) error {
	opts := pebble.NoSync
	if sync {
		opts = pebble.Sync
	}
	return p.db.Set(key, value, opts)
}

func (p *pebbleKV) Last(lower, upper []byte) ([]byte, error) {
	iter, err := p.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	var key []byte
	if iter.Last() {
		key = append([]byte{}, iter.Key()...)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return key, nil
}

func (p *pebbleKV) Close() error {
	return p.db.Close()
}
