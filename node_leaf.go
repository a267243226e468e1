package grove

import "bytes"
import "encoding/binary"
import "golang.org/x/xerrors"

var gET_CHECKED bool = true // all gets go through value checks

type leaf struct {
	pos uint64

	key     []byte
	keyhash [HASHSIZE]byte

	hash_check [HASHSIZE]byte // used to verify check
	hash       [HASHSIZE]byte

	value []byte

	sumv      int64 // aggregate contributed to a sum tree
	sum_err   error // value could not be decoded
	sum_known bool

	dirty          bool
	loaded_partial bool
}

func newLeaf(key, value []byte) *leaf {
	l := &leaf{
		dirty: true, // new leaf is by default dirty
		key:   append([]byte{}, key...),
		value: append([]byte{}, value...),
	}
	l.keyhash = sum(l.key)
	l.rehash()
	return l
}

func leafHash(hkey, hvalue []byte) []byte {
	rst := make([]byte, 0, HASHSIZE)
	h := hasher()
	h.Write([]byte{leafNODE})
	h.Write(hkey)
	h.Write(hvalue)
	rst = h.Sum(rst)
	return rst
}

func (l *leaf) rehash() {
	rst := sum(l.value)
	copy(l.hash[:], leafHash(l.keyhash[:], rst[:])) // use hash of key and hash of value
	copy(l.hash_check[:], l.hash[:])
	l.sumv, l.sum_err = elementSum(l.value)
	l.sum_known = true
}

// a partially loaded leaf reports the hash recorded by its parent, the record is verified against it on full load
func (l *leaf) Hash(store *Store) ([]byte, error) {
	return l.hash[:], nil
}

func (l *leaf) Sum(store *Store) (int64, error) {
	if l.sum_known {
		return l.sumv, l.sum_err
	}
	if err := l.load_partial(store); err != nil {
		return 0, err
	}
	return l.sumv, nil
}

func (l *leaf) isDirty() bool {
	return l.dirty
}
func (l *leaf) Position() uint64 {
	return l.pos
}

// this always assummes that key already matches
// this function is only used once , in node_inner.go insert
func (l *leaf) Put(store *Store, value []byte) error {
	if l.loaded_partial { // if leaf is loaded partially, load it fully now
		if err := l.loadfullleaffromstore(store); err != nil {
			return err
		}
	}
	// overwrite created new branch. Old versions are all accessible using previous root
	l.value = append([]byte{}, value...)
	l.rehash()
	l.dirty = true
	l.pos = 0
	return nil
}

// callers must not modify the returned slice
func (l *leaf) Get(store *Store, key []byte) ([]byte, error) {
	if l.loaded_partial { // if leaf is loaded partially, load it fully now
		if err := l.loadfullleaffromstore(store); err != nil {
			return nil, err
		}
	}
	if bytes.Equal(l.key, key) {
		return l.value, nil
	}

	return nil, xerrors.Errorf("%w: key %x not found", ErrNotFound, key)
}

func (l *leaf) Delete(store *Store, key []byte) (bool, bool, error) {
	if l.loaded_partial { // if leaf is loaded partially, load it fully now
		if err := l.loadfullleaffromstore(store); err != nil {
			return false, false, err
		}
	}
	match := bytes.Equal(l.key, key)
	return match, match, nil
}

func (l *leaf) load_partial(store *Store) error {
	if l.loaded_partial { // if leaf is loaded partially, load it fully now
		return l.loadfullleaffromstore(store)
	}
	return nil
}

func (l *leaf) MarshalTo(buf *bytes.Buffer) {
	var tmp [binary.MaxVarintLen64]byte
	buf.Write(tmp[:binary.PutUvarint(tmp[:], uint64(len(l.key)))])
	buf.Write(l.key)
	buf.Write(tmp[:binary.PutUvarint(tmp[:], uint64(len(l.value)))])
	buf.Write(l.value)
}

func (l *leaf) loadfullleaffromstore(store *Store) error { // loading leaf from store
	if l.pos == 0 {
		return xerrors.Errorf("Invalid pos %d", l.pos)
	}

	buf, err := store.read(l.pos)
	if err != nil {
		return err
	}

	var done int
	if value, bytecount := binary.Uvarint(buf[:]); bytecount > 0 && uint64(len(buf)-bytecount) >= value {
		l.key = append(l.key[:0], buf[bytecount:uint64(bytecount)+value]...)
		done += bytecount + int(value)
	} else {
		return xerrors.Errorf("%w: invalid key size at pos %d", ErrCorruption, l.pos)
	}

	if value, bytecount := binary.Uvarint(buf[done:]); bytecount > 0 && uint64(len(buf)-done-bytecount) >= value {
		l.value = append(l.value[:0], buf[done+bytecount:done+bytecount+int(value)]...)
		done += bytecount + int(value)
	} else {
		return xerrors.Errorf("%w: invalid value size at pos %d", ErrCorruption, l.pos)
	}

	// time for data integrity
	l.keyhash = sum(l.key)

	// we also need to calculate hash, see whether it matches with what is stored
	rst := sum(l.value)
	copy(l.hash[:], leafHash(l.keyhash[:], rst[:])) // use hash of key and hash of value

	if gET_CHECKED {
		if !bytes.Equal(l.hash_check[:], l.hash[:]) {
			return xerrors.Errorf("%w: key/value mismatch, key '%x'", ErrCorruption, l.key)
		}
	}

	s, err := elementSum(l.value)
	if err != nil {
		return xerrors.Errorf("%w, key '%x'", err, l.key)
	}
	if l.sum_known && s != l.sumv {
		return xerrors.Errorf("%w: stored sum %d does not match %d, key '%x'", ErrCorruption, l.sumv, s, l.key)
	}
	l.sumv, l.sum_known, l.sum_err = s, true, nil
	l.loaded_partial = false

	return nil
}

func (l *leaf) Prove(store *Store, key []byte, proof *Proof) error {
	if l.loaded_partial { // if leaf is loaded partially, load it fully now
		if err := l.loadfullleaffromstore(store); err != nil {
			return err
		}
	}
	if bytes.Equal(l.key, key) {
		proof.addValue(l.value)
		return nil
	}
	rst := sum(l.value)
	proof.addCollision(l.key, rst[:])
	return nil
}
