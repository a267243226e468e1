package grove

import "fmt"
import "bytes"

import "golang.org/x/xerrors"

// after commits all leaves will be discarded from ram,
// all inner nodes will be discarded above this level
const innernode_cache_level = 17

// Subtree is one authenticated ordered map of key -> Element, located at a path of the grove.
// Subtrees are obtained from a grove view, mutations go through the grove so ancestors stay consistent.
type Subtree struct {
	store *Store
	root  *inner // main root , this provides all proof checking, authentication, snapshot etc
	path  [][]byte
	size  int // bytes written by the last commit

	tmp_buffer bytes.Buffer
}

func newSubtree(store *Store, path [][]byte, sumtree bool) *Subtree {
	return &Subtree{store: store, root: newInner(0, sumtree), path: clonePath(path)}
}

// Path of the subtree inside the grove
func (t *Subtree) Path() [][]byte {
	return clonePath(t.path)
}

func (t *Subtree) IsSumTree() bool {
	return t.root.sumtree
}

// grove version in which this subtree was last written
func (t *Subtree) GetVersion() uint64 {
	return t.root.version_current
}

// grove version of the previous write of this subtree
func (t *Subtree) GetParentVersion() uint64 {
	return t.root.version_previous
}

func checkKey(key []byte) error {
	if len(key) == 0 || len(key) > MAX_KEYSIZE {
		return xerrors.Errorf("%w: key length %d not in 1..%d", ErrInvalidKey, len(key), MAX_KEYSIZE)
	}
	return nil
}

// raw put, value is an encoded element
func (t *Subtree) put(key, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if len(value) > MAX_VALUE_SIZE {
		return xerrors.Errorf("%w: value is longer then max allowed value size, %d > %d", ErrInvalidElement, len(value), MAX_VALUE_SIZE)
	}
	return t.root.Insert(t.store, newLeaf(key, value))
}

func (t *Subtree) getRaw(key []byte) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	return t.root.Get(t.store, key)
}

// Get the element stored at key, ErrKeyNotFound if missing
func (t *Subtree) Get(key []byte) (Element, error) {
	raw, err := t.getRaw(key)
	if err != nil {
		return Element{}, err
	}
	return UnmarshalElement(raw)
}

// Has reports whether the key exists
func (t *Subtree) Has(key []byte) (bool, error) {
	_, err := t.getRaw(key)
	if xerrors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// removes key, reports whether it existed
func (t *Subtree) remove(key []byte) (bool, error) {
	if err := checkKey(key); err != nil {
		return false, err
	}
	_, changed, err := t.root.Delete(t.store, key)
	return changed, err
}

// Give the merkle hash of the entire subtree
func (t *Subtree) Hash() (h [HASHSIZE]byte, err error) {
	hash, err := t.root.Hash(t.store)
	if err != nil {
		return
	}
	copy(h[:], hash)
	return
}

// running total of a sum tree, always 0 for plain trees
func (t *Subtree) Sum() (int64, error) {
	return t.root.Sum(t.store)
}

func (t *Subtree) IsEmpty() (bool, error) {
	if err := t.root.load_partial(t.store); err != nil {
		return false, err
	}
	return t.root.isEmpty(), nil
}

// Check whether the subtree is currently dirty or not
func (t *Subtree) IsDirty() bool {
	return t.root.isDirty()
}

// Generate proof of any key, which can be used to prove whether the key exists or not. Please note that
// the subtree root hash (Hash()) is not part of the structure and must be available to the verifier separately
func (t *Subtree) GenerateProof(key []byte) (*Proof, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	p := NewProof()
	err := t.root.Prove(t.store, key, p)
	return p, err
}

// commit the subtree nodes to the store, returns root position
func (t *Subtree) commit(version uint64) (pos uint64, err error) {
	t.size = 0
	if !t.IsDirty() {
		return t.root.Position(), nil
	}
	pos, err = t.commit_inner(version, t.root)
	t.tmp_buffer = bytes.Buffer{} // so as storage space could be be reclaimed
	return
}

// this is never recursive
// leaf marshalling is done at only one place while  committing
func (t *Subtree) commit_leaf(l *leaf) (pos uint64, err error) {
	t.tmp_buffer.Reset()
	l.MarshalTo(&t.tmp_buffer)

	// here we must write it to store
	t.size += t.tmp_buffer.Len()
	if pos, err = t.store.write(t.tmp_buffer.Bytes()); err != nil {
		return
	}
	l.pos = pos
	l.dirty = false

	l.loaded_partial = true
	l.key = nil
	l.value = nil
	return
}

func (t *Subtree) commit_child(version uint64, n node) (uint64, error) {
	if n == nil {
		return 0, nil
	}
	if !n.isDirty() {
		return n.Position(), nil
	}
	switch v := n.(type) { // node is dirty and must be written
	case *inner:
		return t.commit_inner(version, v)
	case *leaf:
		return t.commit_leaf(v)
	default:
		return 0, fmt.Errorf("unknown node type")
	}
}

// this is mostly recursive and must skip non modified branches reusing them
func (t *Subtree) commit_inner(version uint64, in *inner) (pos uint64, err error) {
	// hashes and sums of the children are needed by the marshaller, compute them before leaves drop their data
	if _, err = in.Hash(t.store); err != nil {
		return
	}
	if _, err = in.Sum(t.store); err != nil {
		return
	}

	if in.left_pos, err = t.commit_child(version, in.left); err != nil {
		return
	}
	if in.right_pos, err = t.commit_child(version, in.right); err != nil {
		return
	}

	old_version, old_old_version := in.version_current, in.version_previous
	if in.bit == 0 {
		in.version_previous = old_version
		in.version_current = version
	}

	var buf bytes.Buffer
	buf.Grow(innerBufSize)
	if err = in.MarshalTo(t.store, &buf); err == nil {
		// here we must write it to store
		t.size += buf.Len()
		if pos, err = t.store.write(buf.Bytes()); err == nil {
			in.pos = pos
			in.dirty = false
			if in.bit >= innernode_cache_level {
				in.left, in.right = nil, nil
				in.loaded_partial = true
			}
			return
		}
	}

	if in.bit == 0 { // if this ever occurs, we will  skip a version number
		in.version_current = old_version
		in.version_previous = old_old_version
	}
	return
}
