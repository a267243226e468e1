package grove

import "sync"
import "bytes"

import "github.com/google/btree"
import "go.uber.org/zap"
import "golang.org/x/xerrors"

type opKind byte

const (
	opInsert opKind = iota
	opDelete
)

// one logged mutation, replayed when the transaction has to be rebuilt or moved to a newer snapshot
type op struct {
	kind    opKind
	path    [][]byte
	key     []byte
	element Element
	insert  InsertOptions
	del     DeleteOptions
}

func (o op) applyTo(v *view) (int, error) {
	switch o.kind {
	case opInsert:
		return v.insert(o.path, o.key, o.element, &o.insert)
	case opDelete:
		return 0, v.delete(o.path, o.key, &o.del)
	default:
		return 0, xerrors.Errorf("unknown operation %d", o.kind)
	}
}

// entry of the ordered write set, sorted by encoded path then key
type writeKey struct {
	id   string // encoded path
	key  string
	path [][]byte
}

func (w writeKey) Less(than btree.Item) bool {
	o := than.(writeKey)
	if w.id != o.id {
		return w.id < o.id
	}
	return w.key < o.key
}

// Transaction buffers writes on top of the snapshot it started from.
// Reads through the transaction observe its own writes, nothing is visible to others until commit.
type Transaction struct {
	mu sync.Mutex

	g      *Grove
	base   *Snapshot
	view   *view
	ops    []op
	writes *btree.BTree
	cost   int
	done   bool
}

func (g *Grove) StartTransaction() (*Transaction, error) {
	ss, err := g.store.LoadSnapshot(0)
	if err != nil {
		return nil, err
	}
	return &Transaction{
		g:      g,
		base:   ss,
		view:   newView(g.store, ss, g.opts.MaxReferenceHops),
		writes: btree.New(8),
	}, nil
}

// BaseVersion is the committed version the transaction reads from
func (tx *Transaction) BaseVersion() uint64 {
	return tx.base.GetVersion()
}

// StorageCost returns the bytes charged by the inserts of the transaction
func (tx *Transaction) StorageCost() int {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.cost
}

func (tx *Transaction) check(g *Grove) error {
	if tx.done {
		return errTransactionDone("transaction can not be used")
	}
	if tx.g != g {
		return xerrors.Errorf("transaction belongs to another grove")
	}
	return nil
}

func (tx *Transaction) use(g *Grove, fn func(v *view) error) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.check(g); err != nil {
		return err
	}
	return fn(tx.view)
}

// applies and logs the operation, a failed operation leaves the transaction as it was
func (tx *Transaction) apply(g *Grove, o op) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.check(g); err != nil {
		return err
	}
	return tx.applyLocked(o)
}

func (tx *Transaction) applyLocked(o op) error {
	before := tx.view.changes
	cost, err := o.applyTo(tx.view)
	if err != nil {
		if tx.view.changes != before {
			if rerr := tx.rebuild(len(tx.ops)); rerr != nil {
				return xerrors.Errorf("%s, transaction could not be restored: %w", err, rerr)
			}
		}
		return err
	}
	tx.ops = append(tx.ops, o)
	tx.cost += cost
	tx.record(o)
	return nil
}

func (tx *Transaction) record(o op) {
	tx.writes.ReplaceOrInsert(writeKey{id: string(encodePath(o.path)), key: string(o.key), path: o.path})
}

// replays the first n operations on a fresh view of the base snapshot
func (tx *Transaction) rebuild(n int) error {
	v := newView(tx.g.store, tx.base, tx.g.opts.MaxReferenceHops)
	writes := btree.New(8)
	cost := 0
	for _, o := range tx.ops[:n] {
		c, err := o.applyTo(v)
		if err != nil {
			return err
		}
		cost += c
		writes.ReplaceOrInsert(writeKey{id: string(encodePath(o.path)), key: string(o.key), path: o.path})
	}
	tx.view, tx.writes, tx.cost, tx.ops = v, writes, cost, tx.ops[:n]
	return nil
}

// savepoints mark a position in the log, rolling back to one drops every later operation
func (tx *Transaction) savepoint() int {
	return len(tx.ops)
}

func (tx *Transaction) rollbackTo(sp int) error {
	if sp >= len(tx.ops) {
		return nil
	}
	return tx.rebuild(sp)
}

// Rollback discards the transaction
func (tx *Transaction) Rollback() {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.done = true
	tx.view, tx.ops = nil, nil
}

// Commit is a shortcut for Grove.CommitTransaction
func (tx *Transaction) Commit() error {
	return tx.g.CommitTransaction(tx)
}

// CommitTransaction publishes the transaction as a new version.
// If other transactions committed since it started, it is moved on top of the latest version
// unless any of the keys it wrote was changed meanwhile, which fails with ErrConflict.
func (g *Grove) CommitTransaction(tx *Transaction) (err error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err = tx.check(g); err != nil {
		return
	}
	tx.done = true
	defer func() { tx.view = nil }()

	if len(tx.ops) == 0 {
		return nil
	}

	g.store.writesync.Lock()
	defer g.store.writesync.Unlock()

	latest, err := g.store.LoadSnapshot(0)
	if err != nil {
		return
	}

	v := tx.view
	if latest.GetVersion() != tx.base.GetVersion() {
		if err = tx.conflicts(latest); err != nil {
			g.log.Debug("transaction conflict", zap.Uint64("base", tx.base.GetVersion()), zap.Uint64("latest", latest.GetVersion()), zap.Error(err))
			return
		}
		v = newView(g.store, latest, g.opts.MaxReferenceHops)
		for _, o := range tx.ops {
			if _, err = o.applyTo(v); err != nil {
				return xerrors.Errorf("%w: replay on version %d: %s", ErrConflict, latest.GetVersion(), err)
			}
		}
	}

	version := latest.GetVersion() + 1
	if err = v.commit(version); err != nil {
		return
	}
	g.log.Debug("transaction committed", zap.Uint64("version", version), zap.Int("ops", len(tx.ops)), zap.Int("cost", tx.cost))
	return nil
}

// checks every subtree the transaction wrote against the changes committed since its base
func (tx *Transaction) conflicts(latest *Snapshot) error {
	base := newView(tx.g.store, tx.base, tx.g.opts.MaxReferenceHops)
	head := newView(tx.g.store, latest, tx.g.opts.MaxReferenceHops)

	var err error
	var current string
	var changed map[string]bool
	tx.writes.Ascend(func(item btree.Item) bool {
		w := item.(writeKey)
		if tx.view.isReset(w.path) { // the transaction replaced this subtree, its parent key covers it
			return true
		}
		if w.id != current || changed == nil {
			current = w.id
			if changed, err = subtreeChanges(base, head, w.path); err != nil {
				return false
			}
		}
		if changed[w.key] {
			err = xerrors.Errorf("%w: %s %q was modified by version %d", ErrConflict, pathString(w.path), w.key, latest.GetVersion())
			return false
		}
		return true
	})
	return err
}

func subtreeChanges(base, head *view, path [][]byte) (map[string]bool, error) {
	bt, err := base.subtree(path)
	if err != nil {
		return nil, err
	}
	ht, err := head.subtree(path)
	if xerrors.Is(err, ErrInvalidPath) {
		return nil, xerrors.Errorf("%w: subtree %s was removed", ErrConflict, pathString(path))
	}
	if err != nil {
		return nil, err
	}
	if bt.IsSumTree() != ht.IsSumTree() {
		return nil, xerrors.Errorf("%w: subtree %s was replaced", ErrConflict, pathString(path))
	}
	bh, err := bt.Hash()
	if err != nil {
		return nil, err
	}
	hh, err := ht.Hash()
	if err != nil {
		return nil, err
	}
	if bytes.Equal(bh[:], hh[:]) {
		return map[string]bool{}, nil
	}
	return changedKeys(bt, ht)
}
