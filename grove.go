package grove

import "sync"
import "encoding/binary"

import "github.com/hashicorp/golang-lru/v2"
import "go.uber.org/zap"
import "golang.org/x/xerrors"

type InsertOptions struct {
	ValidateInsertionDoesNotOverride     bool // fail with ErrOverwriteNotAllowed if the key exists
	ValidateInsertionDoesNotOverrideTree bool // fail with ErrOverwriteTreeNotAllowed if the key holds a tree
	BaseRootStorageIsFree                bool // writes at the root path are not charged to the transaction
}

type DeleteOptions struct {
	AllowDeletingNonEmptyTrees bool // remove the whole subtree, otherwise ErrDeletingNonEmptyTree
}

// Grove is a tree of authenticated subtrees, addressed by path.
// Reads without a transaction observe the latest committed snapshot, writes without a transaction commit immediately.
type Grove struct {
	store *Store
	opts  Options
	log   *zap.Logger
	cache *lru.Cache[string, Element] // resolved references per snapshot version
}

// Open opens or creates a grove stored in dir
func Open(dir string, opts ...Option) (*Grove, error) {
	store, err := NewDiskStore(dir)
	if err != nil {
		return nil, err
	}
	return newGrove(store, opts...)
}

// OpenMem creates a grove which lives only in memory
func OpenMem(opts ...Option) (*Grove, error) {
	store, err := NewMemStore()
	if err != nil {
		return nil, err
	}
	return newGrove(store, opts...)
}

func newGrove(store *Store, opts ...Option) (*Grove, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	store.sync_writes = store.sync_writes && o.SyncWrites

	g := &Grove{store: store, opts: o, log: o.Logger}
	if o.CacheSize > 0 {
		cache, err := lru.New[string, Element](o.CacheSize)
		if err != nil {
			store.Close()
			return nil, err
		}
		g.cache = cache
	}

	ss, err := store.LoadSnapshot(0)
	if err != nil {
		store.Close()
		return nil, err
	}
	g.log.Debug("grove opened", zap.String("dir", store.base_directory), zap.Uint64("version", ss.GetVersion()))
	return g, nil
}

func (g *Grove) Close() error {
	return g.store.Close()
}

// latest committed version, 0 for a grove without commits
func (g *Grove) Version() (uint64, error) {
	ss, err := g.store.LoadSnapshot(0)
	if err != nil {
		return 0, err
	}
	return ss.GetVersion(), nil
}

func (g *Grove) latestView() (*view, error) {
	ss, err := g.store.LoadSnapshot(0)
	if err != nil {
		return nil, err
	}
	return newView(g.store, ss, g.opts.MaxReferenceHops), nil
}

// runs fn against the transaction view, or against the latest snapshot
func (g *Grove) read(tx *Transaction, fn func(v *view) error) error {
	if tx == nil {
		v, err := g.latestView()
		if err != nil {
			return err
		}
		return fn(v)
	}
	return tx.use(g, fn)
}

// runs fn inside the transaction, or inside a transaction committed right after
func (g *Grove) write(tx *Transaction, fn func(tx *Transaction) error) error {
	if tx != nil {
		return fn(tx)
	}
	tx, err := g.StartTransaction()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return g.CommitTransaction(tx)
}

func (g *Grove) Insert(path [][]byte, key []byte, e Element, opts *InsertOptions, tx *Transaction) error {
	return g.write(tx, func(tx *Transaction) error {
		o := op{kind: opInsert, path: clonePath(path), key: append([]byte{}, key...), element: e}
		if opts != nil {
			o.insert = *opts
		}
		return tx.apply(g, o)
	})
}

func (g *Grove) Delete(path [][]byte, key []byte, opts *DeleteOptions, tx *Transaction) error {
	return g.write(tx, func(tx *Transaction) error {
		o := op{kind: opDelete, path: clonePath(path), key: append([]byte{}, key...)}
		if opts != nil {
			o.del = *opts
		}
		return tx.apply(g, o)
	})
}

// Get returns the element stored at path/key, references are not followed
func (g *Grove) Get(path [][]byte, key []byte, tx *Transaction) (e Element, err error) {
	err = g.read(tx, func(v *view) error {
		e, err = v.get(path, key)
		return err
	})
	return
}

// GetResolved returns the element stored at path/key, following references
func (g *Grove) GetResolved(path [][]byte, key []byte, tx *Transaction) (e Element, err error) {
	err = g.read(tx, func(v *view) error {
		if e, err = v.get(path, key); err != nil {
			return err
		}
		e, err = v.resolve(path, key, e)
		return err
	})
	return
}

// Subtree at path, for iteration and single key proofs
func (g *Grove) Subtree(path [][]byte, tx *Transaction) (t *Subtree, err error) {
	err = g.read(tx, func(v *view) error {
		if err := v.propagate(); err != nil {
			return err
		}
		t, err = v.subtree(path)
		return err
	})
	return
}

// RootHash of the whole grove
func (g *Grove) RootHash(tx *Transaction) (h [HASHSIZE]byte, err error) {
	err = g.read(tx, func(v *view) error {
		h, err = v.rootHash()
		return err
	})
	return
}

func (g *Grove) cacheKey(version uint64, path [][]byte, key []byte) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], version)
	return string(buf[:]) + string(encodePath(childPath(path, key)))
}

// GroveSnapshot is a read only view of one committed version
type GroveSnapshot struct {
	g  *Grove
	v  *view
	mu sync.Mutex
}

// SnapshotAt opens the committed version, 0 means latest
func (g *Grove) SnapshotAt(version uint64) (*GroveSnapshot, error) {
	ss, err := g.store.LoadSnapshot(version)
	if err != nil {
		return nil, err
	}
	return &GroveSnapshot{g: g, v: newView(g.store, ss, g.opts.MaxReferenceHops)}, nil
}

// SnapshotWithRootHash opens the latest committed version whose root hash is hash
func (g *Grove) SnapshotWithRootHash(hash [HASHSIZE]byte) (*GroveSnapshot, error) {
	ss, err := g.store.SnapshotWithRootHash(hash)
	if err != nil {
		return nil, err
	}
	return &GroveSnapshot{g: g, v: newView(g.store, ss, g.opts.MaxReferenceHops)}, nil
}

func (s *GroveSnapshot) Version() uint64 {
	return s.v.snapshot.GetVersion()
}

func (s *GroveSnapshot) Get(path [][]byte, key []byte) (Element, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.get(path, key)
}

func (s *GroveSnapshot) RootHash() ([HASHSIZE]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.rootHash()
}

func (s *GroveSnapshot) Query(pq PathQuery, resolveReferences bool) ([]KeyElement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.query(pq, resolveReferences)
}

func (s *GroveSnapshot) ProveQuery(pq PathQuery) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.proveQuery(pq)
}

func errTransactionDone(what string) error {
	return xerrors.Errorf("%w: %s", ErrTransactionDone, what)
}
