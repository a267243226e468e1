package grove

import "sort"
import "strings"

import "golang.org/x/xerrors"

// a view is a mutable working copy of the grove on top of one snapshot.
// subtrees are loaded lazily by path and kept in memory until commit.
type view struct {
	store    *Store
	snapshot *Snapshot
	maxHops  int

	trees map[string]*Subtree   // encoded path -> loaded subtree
	dirty map[string][][]byte   // subtrees whose parent element must be refreshed
	reset map[string][][]byte   // subtrees replaced or removed, their stored locations are stale

	changes int // mutations so far, a failed operation which left it untouched needs no rebuild
}

func newView(store *Store, ss *Snapshot, maxHops int) *view {
	return &view{
		store:    store,
		snapshot: ss,
		maxHops:  maxHops,
		trees:    map[string]*Subtree{},
		dirty:    map[string][][]byte{},
		reset:    map[string][][]byte{},
	}
}

// subtree at path, every prefix of path must resolve to a tree element
func (v *view) subtree(path [][]byte) (*Subtree, error) {
	if len(path) > MAX_PATH_LENGTH {
		return nil, xerrors.Errorf("%w: path depth %d exceeds %d", ErrInvalidPath, len(path), MAX_PATH_LENGTH)
	}
	enc := encodePath(path)
	if len(enc) >= MAX_KEYSIZE {
		return nil, xerrors.Errorf("%w: encoded path is %d bytes", ErrInvalidPath, len(enc))
	}
	id := string(enc)
	if t, ok := v.trees[id]; ok {
		return t, nil
	}

	sumtree := false
	if len(path) > 0 {
		parent, err := v.subtree(path[:len(path)-1])
		if err != nil {
			return nil, err
		}
		e, err := parent.Get(path[len(path)-1])
		if xerrors.Is(err, ErrNotFound) || xerrors.Is(err, ErrInvalidKey) {
			return nil, xerrors.Errorf("%w: %s does not exist", ErrInvalidPath, pathString(path))
		}
		if err != nil {
			return nil, err
		}
		if !e.IsTree() {
			return nil, xerrors.Errorf("%w: %s is a %s", ErrInvalidPath, pathString(path), e.kind)
		}
		sumtree = e.kind == SumTreeKind
	}

	t, err := v.load(path, sumtree)
	if err != nil {
		return nil, err
	}
	v.trees[id] = t
	return t, nil
}

func (v *view) load(path [][]byte, sumtree bool) (*Subtree, error) {
	if v.isReset(path) || v.snapshot == nil {
		return newSubtree(v.store, path, sumtree), nil
	}
	pos, found, err := v.snapshot.subtreePosition(path)
	if err != nil {
		return nil, err
	}
	if !found {
		return newSubtree(v.store, path, sumtree), nil
	}
	root, err := v.store.loadrootusingpos(pos)
	if err != nil {
		return nil, err
	}
	if root.sumtree != sumtree {
		return nil, xerrors.Errorf("%w: subtree %s sum flag mismatch", ErrCorruption, pathString(path))
	}
	return &Subtree{store: v.store, root: root, path: clonePath(path)}, nil
}

func (v *view) isReset(path [][]byte) bool {
	if len(v.reset) == 0 {
		return false
	}
	for i := 0; i <= len(path); i++ {
		if _, ok := v.reset[string(encodePath(path[:i]))]; ok {
			return true
		}
	}
	return false
}

// drops path and everything below it from memory, stored locations are removed at commit
func (v *view) forget(path [][]byte) {
	prefix := string(encodePath(path))
	for id := range v.trees {
		if strings.HasPrefix(id, prefix) {
			delete(v.trees, id)
		}
	}
	for id := range v.dirty {
		if strings.HasPrefix(id, prefix) {
			delete(v.dirty, id)
		}
	}
	v.reset[prefix] = clonePath(path)
	v.changes++
}

func (v *view) markDirty(path [][]byte) {
	v.dirty[string(encodePath(path))] = clonePath(path)
}

func (v *view) get(path [][]byte, key []byte) (Element, error) {
	if err := v.propagate(); err != nil {
		return Element{}, err
	}
	t, err := v.subtree(path)
	if err != nil {
		return Element{}, err
	}
	return t.Get(key)
}

// follows references until a concrete element is reached
func (v *view) resolve(path [][]byte, key []byte, e Element) (Element, error) {
	visited := map[string]bool{string(encodePath(childPath(path, key))): true}
	for hops := 0; e.kind == ReferenceKind; hops++ {
		if hops >= v.maxHops {
			return Element{}, xerrors.Errorf("%w: more than %d hops from %s %q", ErrReferenceLimit, v.maxHops, pathString(path), key)
		}
		tpath, tkey, err := e.ref.target(path)
		if err != nil {
			return Element{}, err
		}
		id := string(encodePath(childPath(tpath, tkey)))
		if visited[id] {
			return Element{}, xerrors.Errorf("%w: %s %q visited twice", ErrCyclicReference, pathString(tpath), tkey)
		}
		visited[id] = true
		if e, err = v.get(tpath, tkey); err != nil {
			return Element{}, err
		}
		path, key = tpath, tkey
	}
	return e, nil
}

// returns bytes charged for the write
func (v *view) insert(path [][]byte, key []byte, e Element, opts *InsertOptions) (int, error) {
	if opts == nil {
		opts = &InsertOptions{}
	}
	if err := checkKey(key); err != nil {
		return 0, err
	}
	if e.kind == ReferenceKind {
		if _, _, err := e.ref.target(path); err != nil {
			return 0, err
		}
	}
	t, err := v.subtree(path)
	if err != nil {
		return 0, err
	}

	existing, err := t.Get(key)
	exists := err == nil
	if err != nil && !xerrors.Is(err, ErrNotFound) {
		return 0, err
	}
	if exists && opts.ValidateInsertionDoesNotOverride {
		return 0, xerrors.Errorf("%w: %s %q", ErrOverwriteNotAllowed, pathString(path), key)
	}
	if exists && existing.IsTree() && opts.ValidateInsertionDoesNotOverrideTree {
		return 0, xerrors.Errorf("%w: %s %q", ErrOverwriteTreeNotAllowed, pathString(path), key)
	}

	v.changes++
	child := childPath(path, key)
	if (exists && existing.IsTree()) || e.IsTree() {
		v.forget(child)
	}
	if e.IsTree() { // a tree element always starts an empty subtree
		fresh := newSubtree(v.store, child, e.kind == SumTreeKind)
		v.trees[string(encodePath(child))] = fresh
		v.markDirty(child)
		e = e.withRoot(emptyRootHash, 0)
	}

	raw := e.Marshal()
	if err := t.put(key, raw); err != nil {
		return 0, err
	}
	v.markDirty(path)

	if t.IsSumTree() {
		if err := v.sumChain(path, t); err != nil {
			return 0, err
		}
	}
	if len(path) == 0 && opts.BaseRootStorageIsFree {
		return 0, nil
	}
	return len(key) + len(raw), nil
}

func (v *view) delete(path [][]byte, key []byte, opts *DeleteOptions) error {
	if opts == nil {
		opts = &DeleteOptions{}
	}
	t, err := v.subtree(path)
	if err != nil {
		return err
	}
	existing, err := t.Get(key)
	if err != nil {
		return err
	}

	if existing.IsTree() {
		child := childPath(path, key)
		ct, err := v.subtree(child)
		if err != nil {
			return err
		}
		empty, err := ct.IsEmpty()
		if err != nil {
			return err
		}
		if !empty && !opts.AllowDeletingNonEmptyTrees {
			return xerrors.Errorf("%w: %s", ErrDeletingNonEmptyTree, pathString(child))
		}
		v.forget(child)
	}

	v.changes++
	if _, err := t.remove(key); err != nil {
		return err
	}
	v.markDirty(path)

	if t.IsSumTree() {
		return v.sumChain(path, t)
	}
	return nil
}

// checks the aggregate of the written sum tree and of the sum trees enclosing it, so overflow fails the write.
// only elements inside the chain of sum trees are refreshed, the rest is left to propagate.
func (v *view) sumChain(path [][]byte, t *Subtree) error {
	if _, err := t.Sum(); err != nil {
		return err
	}
	for len(path) > 0 {
		ppath := path[:len(path)-1]
		parent, err := v.subtree(ppath)
		if err != nil {
			return err
		}
		if !parent.IsSumTree() { // plain trees do not aggregate
			return nil
		}
		id := string(encodePath(path))
		delete(v.dirty, id)
		if err := v.refresh(id, path); err != nil {
			v.markDirty(path)
			return err
		}
		if _, err := parent.Sum(); err != nil {
			return err
		}
		path = ppath
	}
	return nil
}

// refreshes tree elements of ancestors, deepest subtrees first, each subtree once
func (v *view) propagate() error {
	for len(v.dirty) > 0 {
		depth := 0
		for _, p := range v.dirty {
			if len(p) > depth {
				depth = len(p)
			}
		}
		if depth == 0 { // only the root is left, it has no parent element
			for id := range v.dirty {
				delete(v.dirty, id)
			}
			return nil
		}

		var level []string
		for id, p := range v.dirty {
			if len(p) == depth {
				level = append(level, id)
			}
		}
		sort.Strings(level)

		for _, id := range level {
			p := v.dirty[id]
			delete(v.dirty, id)
			if err := v.refresh(id, p); err != nil {
				return err
			}
		}
	}
	return nil
}

// writes the hash and aggregate of the subtree at path into its parent element
func (v *view) refresh(id string, path [][]byte) error {
	t, ok := v.trees[id]
	if !ok { // forgotten meanwhile
		return nil
	}
	h, err := t.Hash()
	if err != nil {
		return err
	}
	total, err := t.Sum()
	if err != nil {
		return err
	}

	ppath, key := path[:len(path)-1], path[len(path)-1]
	parent, err := v.subtree(ppath)
	if err != nil {
		return err
	}
	e, err := parent.Get(key)
	if err != nil {
		return xerrors.Errorf("%w: tree element of %s: %s", ErrCorruption, pathString(path), err)
	}
	if !e.IsTree() || (e.kind == SumTreeKind) != t.IsSumTree() {
		return xerrors.Errorf("%w: %s is a %s", ErrCorruption, pathString(path), e.kind)
	}

	updated := e.withRoot(h, total)
	if updated.Equal(e) {
		return nil
	}
	if err := parent.put(key, updated.Marshal()); err != nil {
		return err
	}
	v.markDirty(ppath)
	return nil
}

func (v *view) rootHash() (h [HASHSIZE]byte, err error) {
	if err = v.propagate(); err != nil {
		return
	}
	root, err := v.subtree(nil)
	if err != nil {
		return
	}
	return root.Hash()
}

// persists every modified subtree and publishes the snapshot as version
func (v *view) commit(version uint64) (err error) {
	var roothash [HASHSIZE]byte
	if roothash, err = v.rootHash(); err != nil {
		return
	}

	ss := v.snapshot

	resets := make([]string, 0, len(v.reset))
	for id := range v.reset {
		resets = append(resets, id)
	}
	sort.Strings(resets)
	for _, id := range resets { // stale locations first, live subtrees below are rewritten next
		if err = ss.dropSubtrees(v.reset[id]); err != nil {
			return
		}
	}

	ids := make([]string, 0, len(v.trees))
	for id := range v.trees {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		t := v.trees[id]
		if !t.IsDirty() {
			continue
		}
		var pos uint64
		if pos, err = t.commit(version); err != nil {
			return
		}
		if err = ss.setSubtreePosition(t.path, pos); err != nil {
			return
		}
	}

	if err = ss.vroot.Insert(v.store, newLeaf(rootHashIndexKey(roothash), encodePosition(version))); err != nil {
		return
	}
	_, previous_version, previous_pos := v.store.findhighestsnapshotinram()
	if previous_pos != 0 { // link of previous version root, so older snapshots stay reachable
		if err = ss.vroot.Insert(v.store, newLeaf(versionIndexKey(previous_version), encodePosition(previous_pos))); err != nil {
			return
		}
	}

	index := &Subtree{store: v.store, root: ss.vroot}
	var pos uint64
	if pos, err = index.commit(version); err != nil {
		return
	}
	if err = v.store.writeVersionData(version, pos); err != nil {
		return
	}
	ss.version, ss.pos = version, pos
	return nil
}
