package grove

import "fmt"
import "bytes"
import "encoding/binary"

import "golang.org/x/xerrors"

// the version root is an unauthenticated trie per snapshot, it locates subtree roots
const (
	indexSubtreePrefix  byte = 'p' // 'p' + encoded path -> subtree root position
	indexVersionPrefix  byte = 'v' // 'v' + version -> version root position of that older version
	indexRootHashPrefix byte = 'h' // 'h' + grove root hash -> version
)

// Snapshot are used to access any arbitrary snapshot of entire grove at any point in time
// snapshot refers to collective state of all subtrees + history
// each commit creates a new snapshot, represented by an incrementing uint64 number
type Snapshot struct {
	store   *Store
	version uint64
	pos     uint64
	vroot   *inner
}

// Load a specific snapshot from the store,  0th  version = load most recent version as a special case
// also note that commits are being done so versions might be change
func (store *Store) LoadSnapshot(version uint64) (*Snapshot, error) {
	store.commitsync.RLock()
	defer store.commitsync.RUnlock()
	return store.loadSnapshot(version)
}

// caller holds commitsync
func (store *Store) loadSnapshot(version uint64) (*Snapshot, error) {
	_, highest_version, pos := store.findhighestsnapshotinram() // only latest version can be reached from the table
	if version > highest_version {
		return nil, xerrors.Errorf("%w: highest version: %d you requested %d", ErrVersionNotStored, highest_version, version)
	}

	if version == 0 || version == highest_version { // user requested most recent version
		if pos == 0 { // if storage is newly create, lets build up a new version root
			return &Snapshot{store: store, version: highest_version, vroot: newInner(0, false)}, nil
		}
		vroot, err := store.loadrootusingpos(pos)
		if err != nil {
			return nil, err
		}
		return &Snapshot{store: store, version: highest_version, pos: pos, vroot: vroot}, nil
	}

	// user requested an arbitrary version between 1 and highest_version -1
	hvroot, err := store.loadrootusingpos(pos) // load highest version root tree
	if err != nil {
		return nil, err
	}

	eposition, err := hvroot.Get(store, versionIndexKey(version))
	if err != nil {
		return nil, xerrors.Errorf("%w: version %d: %s", ErrVersionNotStored, version, err)
	}
	vpos, err := decodePosition(eposition)
	if err != nil {
		return nil, err
	}
	vroot, err := store.loadrootusingpos(vpos)
	if err != nil {
		return nil, err
	}
	return &Snapshot{store: store, version: version, pos: vpos, vroot: vroot}, nil
}

func (store *Store) loadrootusingpos(pos uint64) (*inner, error) {
	buf, err := store.read(pos)
	if err != nil {
		return nil, err
	}
	tmp := &inner{}
	tmp.hash = tmp.hash_backer[:0]
	if err := tmp.Unmarshal(buf); err != nil {
		return nil, err
	}
	tmp.pos = pos
	return tmp, nil
}

// Gets the snapshot version number
func (s *Snapshot) GetVersion() uint64 {
	return s.version
}

func versionIndexKey(version uint64) []byte {
	var key [1 + binary.MaxVarintLen64]byte
	key[0] = indexVersionPrefix
	done := 1 + binary.PutUvarint(key[1:], version)
	return key[:done]
}

func subtreeIndexKey(path [][]byte) []byte {
	return append([]byte{indexSubtreePrefix}, encodePath(path)...)
}

func rootHashIndexKey(hash [HASHSIZE]byte) []byte {
	return append([]byte{indexRootHashPrefix}, hash[:]...)
}

func encodePosition(pos uint64) []byte {
	var buf [binary.MaxVarintLen64]byte
	return append([]byte{}, buf[:binary.PutUvarint(buf[:], pos)]...)
}

func decodePosition(buf []byte) (uint64, error) {
	pos, size := binary.Uvarint(buf)
	if size <= 0 || size != len(buf) {
		return 0, xerrors.Errorf("%w: position could not be decoded", ErrCorruption)
	}
	return pos, nil
}

// root position of the subtree at path, false if the snapshot never stored it
func (s *Snapshot) subtreePosition(path [][]byte) (uint64, bool, error) {
	value, err := s.vroot.Get(s.store, subtreeIndexKey(path))
	if xerrors.Is(err, ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	pos, err := decodePosition(value)
	return pos, err == nil, err
}

func (s *Snapshot) setSubtreePosition(path [][]byte, pos uint64) error {
	return s.vroot.Insert(s.store, newLeaf(subtreeIndexKey(path), encodePosition(pos)))
}

// drops the index entries of path and every path below it
func (s *Snapshot) dropSubtrees(path [][]byte) error {
	var keys [][]byte
	if err := collectPrefix(s.store, s.vroot, subtreeIndexKey(path), &keys); err != nil {
		return err
	}
	for _, k := range keys {
		if _, _, err := s.vroot.Delete(s.store, k); err != nil {
			return err
		}
	}
	return nil
}

// version in which the grove had this root hash
func (s *Snapshot) versionForRootHash(hash [HASHSIZE]byte) (uint64, bool, error) {
	value, err := s.vroot.Get(s.store, rootHashIndexKey(hash))
	if xerrors.Is(err, ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	version, err := decodePosition(value)
	return version, err == nil, err
}

// Load the snapshot in which the grove had the given root hash
func (store *Store) SnapshotWithRootHash(hash [HASHSIZE]byte) (*Snapshot, error) {
	store.commitsync.RLock()
	defer store.commitsync.RUnlock()

	latest, err := store.loadSnapshot(0)
	if err != nil {
		return nil, err
	}
	if latest.pos == 0 {
		if hash == emptyRootHash {
			return latest, nil
		}
		return nil, xerrors.Errorf("%w: root hash %x", ErrVersionNotStored, hash)
	}
	version, found, err := latest.versionForRootHash(hash)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, xerrors.Errorf("%w: root hash %x", ErrVersionNotStored, hash)
	}
	if version == latest.version {
		return latest, nil
	}
	return store.loadSnapshot(version)
}

// collects all keys of the trie starting with prefix
func collectPrefix(store *Store, n node, prefix []byte, keys *[][]byte) error {
	switch v := n.(type) {
	case nil:
		return nil
	case *leaf:
		if err := v.load_partial(store); err != nil {
			return err
		}
		if bytes.HasPrefix(v.key, prefix) {
			*keys = append(*keys, append([]byte{}, v.key...))
		}
		return nil
	case *inner:
		if err := v.load_partial(store); err != nil {
			return err
		}
		if uint(v.bit) < uint(len(prefix))*9 { // only one side can hold the prefix
			if keyBit(prefix, uint(v.bit)) {
				return collectPrefix(store, v.right, prefix, keys)
			}
			return collectPrefix(store, v.left, prefix, keys)
		}
		if err := collectPrefix(store, v.left, prefix, keys); err != nil {
			return err
		}
		return collectPrefix(store, v.right, prefix, keys)
	default:
		return fmt.Errorf("unknown node type, corruption")
	}
}
