package grove

import "bytes"
import "math"
import "encoding/binary"
import "golang.org/x/xerrors"

type inner struct {
	hash        []byte
	hash_backer [HASHSIZE]byte

	sumv      int64 // cached aggregate, only meaningful within sum trees
	sum_valid bool
	sumtree   bool

	pos                 uint64 // 0 values are invalid
	left_pos, right_pos uint64

	left, right node

	version_previous uint64 // previous version, only valid if bit is zero
	version_current  uint64 // currentversion

	dirty, loaded_partial bool
	bit                   uint16
}

func newInner(bit uint16, sumtree bool) *inner {
	in := &inner{
		bit:     bit,
		sumtree: sumtree,
		dirty:   true, // new nodes are dirty by default
	}

	in.hash = in.hash_backer[:0]
	return in
}

func (in *inner) isDirty() bool {
	return in.dirty
}

func (in *inner) isEmpty() bool {
	return in.left == nil && in.right == nil
}

func (in *inner) invalidate() {
	in.dirty = true
	in.hash = in.hash[:0]
	in.sum_valid = false
}

func (in *inner) lhash(store *Store) ([]byte, error) {
	if in.left != nil {
		return in.left.Hash(store)
	}
	return zerosHash[:], nil
}

func (in *inner) rhash(store *Store) ([]byte, error) {
	if in.right != nil {
		return in.right.Hash(store)
	}
	return zerosHash[:], nil
}

func childSum(store *Store, n node) (int64, error) {
	if n == nil {
		return 0, nil
	}
	return n.Sum(store)
}

func (in *inner) load_partial(store *Store) error {
	if in.loaded_partial { // if inner is loaded partially, load it fully now
		return in.loadinnerfromstore(store)
	}
	return nil
}

func (in *inner) Hash(store *Store) ([]byte, error) {
	if len(in.hash) > 0 { // hash is known from parent or from a previous calculation
		return in.hash, nil
	}
	if err := in.load_partial(store); err != nil {
		return nil, err
	}

	var buf [2*HASHSIZE_BYTES + 1]byte
	buf[0] = innerNODE

	var lhash, rhash []byte
	var err error
	if lhash, err = in.lhash(store); err == nil {
		copy(buf[1:], lhash)
		if rhash, err = in.rhash(store); err == nil {
			copy(buf[1+HASHSIZE_BYTES:], rhash)

			hash := sum(buf[:])
			in.hash = append(in.hash[:0], hash[:]...)

			return in.hash, nil
		}
	}

	return nil, err
}

// sum of all sum items and sum trees below this node, plain trees always report 0
func (in *inner) Sum(store *Store) (int64, error) {
	if !in.sumtree {
		return 0, nil
	}
	if in.sum_valid {
		return in.sumv, nil
	}
	if err := in.load_partial(store); err != nil {
		return 0, err
	}
	l, err := childSum(store, in.left)
	if err != nil {
		return 0, err
	}
	r, err := childSum(store, in.right)
	if err != nil {
		return 0, err
	}
	total, ok := addSums(l, r)
	if !ok {
		return 0, xerrors.Errorf("%w: %d + %d", ErrSumOverflow, l, r)
	}
	in.sumv, in.sum_valid = total, true
	return total, nil
}

func addSums(a, b int64) (int64, bool) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, false
	}
	return a + b, true
}

func (in *inner) Position() uint64 {
	return in.pos
}

// all puts must be checked with deduplication and skipped if duplicate
func (in *inner) Insert(store *Store, nodes ...*leaf) error {
	if err := in.load_partial(store); err != nil { // if inner node is loaded partially, load it fully now
		return err
	}
	in.invalidate()
	for _, n := range nodes {
		if err := in.insert(store, n); err != nil {
			return err
		}
	}
	return nil
}

// places the leaf in slot, splitting an existing leaf if keys differ
func (in *inner) place(store *Store, slot *node, n *leaf) error {
	switch tmp := (*slot).(type) {
	case nil: // dead end, we are done
		*slot = n
		return nil
	case *inner: // if its inner node, recursively insert  the node
		return tmp.Insert(store, n)
	case *leaf: // below case inserts or overwrites existing value
		if tmp.loaded_partial { // if leaf is loaded partially, load it fully now
			if err := tmp.loadfullleaffromstore(store); err != nil {
				return err
			}
		}
		if bytes.Equal(tmp.key, n.key) { // overwriting data, old versions will be accessible using old roots
			return tmp.Put(store, n.value)
		}
		if uint(in.bit)+1 >= MAX_KEY_BITS {
			return xerrors.Errorf("%w: keys %x and %x do not diverge", ErrCorruption, tmp.key, n.key)
		}
		split := newInner(in.bit+1, in.sumtree) //  otherwise we have enough slack, insert the node
		*slot = split
		return split.Insert(store, tmp, n)
	default:
		panic("unknown node type")
	}
}

// insert a node recursively till it gets inserted at the correct position
func (in *inner) insert(store *Store, n *leaf) error {
	if keyBit(n.key, uint(in.bit)) {
		return in.place(store, &in.right, n)
	}
	return in.place(store, &in.left, n)
}

func (in *inner) Get(store *Store, key []byte) ([]byte, error) {
	if err := in.load_partial(store); err != nil { // if inner node is loaded partially, load it fully now
		return nil, err
	}

	if keyBit(key, uint(in.bit)) {
		if in.right == nil {
			return nil, xerrors.Errorf("%w: right dead end at %d. key %x", ErrNotFound, in.bit, key)
		}
		return in.right.Get(store, key)
	}
	if in.left == nil {
		return nil, xerrors.Errorf("%w: left dead end at %d. key %x", ErrNotFound, in.bit, key)
	}
	return in.left.Get(store, key)
}

// leafs return nil,false, inner returns nil, false if both children are present or absent, if single child is present, it is returned
// nodes can only be collapsed, if it's an end leaf node, if the chain hangs lower, keep it hanging
func isOnlyChildleaf(n node) (node, bool) {
	switch v := n.(type) { // draw left  branch
	case nil:
		return nil, false
	case *inner:
		if (v.left != nil && v.right != nil) || (v.left == nil && v.right == nil) {
			return nil, false
		}
		if v.left != nil {
			if getNodeType(v.left) == leafNODE {
				return v.left, true
			}
			return nil, false
		} else {
			if getNodeType(v.right) == leafNODE {
				return v.right, true
			}
			return nil, false
		}
	case *leaf:
		return nil, false
	default:
		panic("unknown node type")
	}

}

func (in *inner) deleteFrom(store *Store, slot *node, key []byte) (bool, bool, error) {
	if *slot == nil {
		return false, false, nil
	}
	empty, changed, err := (*slot).Delete(store, key)
	if err != nil {
		return false, false, err
	}
	if changed {
		in.invalidate()
	}
	if empty {
		*slot = nil
		return in.isEmpty(), changed, nil
	}
	if n, single := isOnlyChildleaf(*slot); single { // single branches are pruned to keep root hash independent of history
		*slot = n
	}
	return false, changed, nil
}

// the returns are in this order empty, changed, err
func (in *inner) Delete(store *Store, key []byte) (bool, bool, error) {
	if err := in.load_partial(store); err != nil { // if inner node is loaded partially, load it fully now
		return false, false, err
	}
	if keyBit(key, uint(in.bit)) {
		return in.deleteFrom(store, &in.right, key)
	}
	return in.deleteFrom(store, &in.left, key)
}

func (in *inner) loadinnerfromstore(store *Store) error { // loading inner from store
	if in.pos == 0 {
		return xerrors.Errorf("Invalid pos %d", in.pos)
	}

	buf, err := store.read(in.pos)
	if err != nil {
		return err
	}

	err = in.Unmarshal(buf)
	in.loaded_partial = false
	return err
}

func (in *inner) Prove(store *Store, key []byte, proof *Proof) error {
	var err error
	if err = in.load_partial(store); err != nil { // if inner node is loaded partially, load it fully now
		return err
	}

	proof.version = 1

	if keyBit(key, uint(in.bit)) {
		var lhash []byte
		if lhash, err = in.lhash(store); err == nil {
			proof.addTrace(lhash)
			if in.right != nil {
				return in.right.Prove(store, key, proof)
			}
			proof.addDeadend()
		}
		return err
	}

	var rhash []byte
	if rhash, err = in.rhash(store); err == nil {
		proof.addTrace(rhash)
		if in.left != nil {
			return in.left.Prove(store, key, proof)
		}
		proof.addDeadend()
	}
	return err
}

func (in *inner) marshalChild(store *Store, buf *bytes.Buffer, n node, pos uint64) error {
	if n == nil { // no more space needed
		return nil
	}
	var tmp [binary.MaxVarintLen64]byte
	buf.Write(tmp[:binary.PutUvarint(tmp[:], pos)])

	hash, err := n.Hash(store)
	if err != nil {
		return err
	}
	buf.Write(hash)

	if in.sumtree {
		s, err := n.Sum(store)
		if err != nil {
			return err
		}
		buf.Write(tmp[:binary.PutVarint(tmp[:], s)])
	}
	return nil
}

// minimum size is 2 bytes
func (in *inner) MarshalTo(store *Store, buf *bytes.Buffer) error {
	buf.WriteByte(getNodeType(in.left))
	buf.WriteByte(getNodeType(in.right))

	if in.bit == 0 { // it's a root node so write current and previous version number also
		var tmp [binary.MaxVarintLen64]byte
		buf.Write(tmp[:binary.PutUvarint(tmp[:], in.version_current)])
		buf.Write(tmp[:binary.PutUvarint(tmp[:], in.version_previous)])
		var flags byte
		if in.sumtree {
			flags |= 1
		}
		buf.WriteByte(flags)
	}

	if err := in.marshalChild(store, buf, in.left, in.left_pos); err != nil {
		return err
	}
	return in.marshalChild(store, buf, in.right, in.right_pos)
}

func parse_node(level uint16, sumtree bool, nodetype byte, buf []byte) (node, int, error) {
	var done, tsize int
	var pos uint64

	if nodetype == nullNODE { // nothing to do
		return nil, 0, nil
	}
	if nodetype != innerNODE && nodetype != leafNODE {
		return nil, 0, xerrors.Errorf("%w: unknown node type %d", ErrCorruption, nodetype)
	}

	pos, tsize = binary.Uvarint(buf[done:])
	if tsize <= 0 || pos == 0 {
		return nil, 0, xerrors.Errorf("%w: invalid child position", ErrCorruption)
	}
	done += tsize

	if len(buf) < done+HASHSIZE {
		return nil, 0, xerrors.Errorf("%w: input buffer has incomplete data", ErrCorruption)
	}
	hash := buf[done : done+HASHSIZE]
	done += HASHSIZE

	var s int64
	if sumtree {
		s, tsize = binary.Varint(buf[done:])
		if tsize <= 0 {
			return nil, 0, xerrors.Errorf("%w: invalid child sum", ErrCorruption)
		}
		done += tsize
	}

	if nodetype == innerNODE {
		child := newInner(level+1, sumtree) // increase bit level
		child.dirty = false
		child.loaded_partial = true
		child.pos = pos
		child.hash = append(child.hash_backer[:0], hash...)
		if sumtree {
			child.sumv, child.sum_valid = s, true
		}
		return child, done, nil
	}

	child := &leaf{loaded_partial: true, pos: pos} // hash will be verified on full load
	copy(child.hash[:], hash)
	copy(child.hash_check[:], hash)
	if sumtree {
		child.sumv, child.sum_known = s, true
	}
	return child, done, nil
}

func (in *inner) Unmarshal(buf []byte) (err error) {
	if len(buf) < 2 {
		return xerrors.Errorf("%w: inner node needs atleast 2 bytes", ErrCorruption)
	}

	done := 2
	var tsize int
	if in.bit == 0 { // it's a root node so read current and previous version number also
		in.version_current, tsize = binary.Uvarint(buf[done:]) // current version
		if tsize <= 0 {
			return xerrors.Errorf("%w: invalid root version", ErrCorruption)
		}
		done += tsize
		in.version_previous, tsize = binary.Uvarint(buf[done:]) // previous version
		if tsize <= 0 || len(buf) <= done+tsize {
			return xerrors.Errorf("%w: invalid root version", ErrCorruption)
		}
		done += tsize
		in.sumtree = buf[done]&1 == 1
		done++
	}

	in.left, tsize, err = parse_node(in.bit, in.sumtree, buf[0], buf[done:])
	if err != nil {
		return
	}
	done += tsize
	if in.left != nil {
		in.left_pos = in.left.Position()
	}

	in.right, _, err = parse_node(in.bit, in.sumtree, buf[1], buf[done:])
	if err != nil {
		return
	}
	if in.right != nil {
		in.right_pos = in.right.Position()
	}

	return
}
