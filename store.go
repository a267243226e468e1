package grove

import "os"
import "sync"
import "sync/atomic"
import "encoding/binary"

import "golang.org/x/xerrors"

// all storage operations will go through this
// the node graph is append only, so a layer only needs point reads, writes and a reverse seek
type kvstore interface {
	Get(key []byte) ([]byte, error) // returns ErrNotFound if key is missing
	Set(key, value []byte, sync bool) error
	Last(lower, upper []byte) ([]byte, error) // returns the highest key in [lower, upper), nil if none
	Close() error
}

type storage_layer_type int8

const (
	unknown_layer storage_layer_type = iota // default is unknown layer
	disk
	memory
)

const (
	dataPrefix    byte = 'd' // 'd' + big endian position -> serialized node
	versionRootKey     = "rversion_root"
)

// Store is the backend which is used to store the nodes in serialized form.
// every node ever written gets a new position, nothing is overwritten, so all old snapshots stay readable.
// positions are monotonic uint64, 0 is invalid.
type Store struct {
	storage_layer storage_layer_type // identify storage layer

	base_directory string

	kv       kvstore
	next_pos uint64
	closed   atomic.Bool

	sync_writes bool // fsync at version publish

	version_index       int                                                             // version index to rotate inside version data
	version_data        [internal_MAX_VERSIONS_TO_KEEP * internal_VERSION_RECORD_SIZE]byte // stores version data pointers

	writesync  sync.Mutex   // serialises commits
	commitsync sync.RWMutex // guards the version table readers see
	discsync   sync.Mutex   // used to syncronise writes
}

// start a  new memory backed store which may be useful for testing and other temporaray use cases.
func NewMemStore() (*Store, error) {
	s := &Store{storage_layer: memory, kv: newMemKV()}
	return s.init()
}

// open/create a disk based store, if the directory pre-exists, it is used as is. Since we are an append only keyvalue
// store, we do not delete any data.
func NewDiskStore(basepath string) (*Store, error) {
	if err := os.MkdirAll(basepath, 0700); err != nil {
		return nil, xerrors.Errorf("%w: directory %s: %s", ErrStorageUnavailable, basepath, err)
	}
	kv, err := newPebbleKV(basepath)
	if err != nil {
		return nil, xerrors.Errorf("%w: %s", ErrStorageUnavailable, err)
	}
	s := &Store{storage_layer: disk, base_directory: basepath, kv: kv, sync_writes: true}
	return s.init()
}

func (s *Store) Close() error {
	s.discsync.Lock()
	defer s.discsync.Unlock()
	if s.closed.Swap(true) {
		return nil
	}
	return s.kv.Close()
}

// init and load some items from the store
func (s *Store) init() (*Store, error) {
	if err := s.loadposition(); err != nil {
		s.kv.Close()
		return nil, err
	}
	if err := s.loadsnapshottablestoram(); err != nil {
		s.kv.Close()
		return nil, err
	}
	return s, nil
}

func dataKey(pos uint64) []byte {
	var key [9]byte
	key[0] = dataPrefix
	binary.BigEndian.PutUint64(key[1:], pos)
	return key[:]
}

// next position continues after the last stored node
func (s *Store) loadposition() error {
	last, err := s.kv.Last([]byte{dataPrefix}, []byte{dataPrefix + 1})
	if err != nil {
		return xerrors.Errorf("%w: %s", ErrStorageUnavailable, err)
	}
	s.next_pos = 1
	if len(last) == 9 {
		s.next_pos = binary.BigEndian.Uint64(last[1:]) + 1
	}
	return nil
}

// this function is single threaded
func (s *Store) write(buf []byte) (uint64, error) {
	s.discsync.Lock()
	defer s.discsync.Unlock()

	if s.closed.Load() {
		return 0, xerrors.Errorf("%w: store is closed", ErrStorageUnavailable)
	}

	pos := s.next_pos
	if err := s.kv.Set(dataKey(pos), buf, false); err != nil {
		return 0, xerrors.Errorf("%w: %s", ErrStorageUnavailable, err)
	}
	s.next_pos++
	return pos, nil
}

func (s *Store) read(pos uint64) ([]byte, error) {
	if s.closed.Load() {
		return nil, xerrors.Errorf("%w: store is closed", ErrStorageUnavailable)
	}
	buf, err := s.kv.Get(dataKey(pos))
	if xerrors.Is(err, ErrNotFound) {
		return nil, xerrors.Errorf("%w: node at pos %d is missing", ErrCorruption, pos)
	}
	if err != nil {
		return nil, xerrors.Errorf("%w: %s", ErrStorageUnavailable, err)
	}
	return buf, nil
}

// publishing the version record makes a commit visible, everything it points to is already written.
// caller holds writesync, readers are only blocked while the table in ram is swapped
func (s *Store) writeVersionData(version uint64, pos uint64) error {
	var buf [internal_MAX_VERSIONS_TO_KEEP * internal_VERSION_RECORD_SIZE]byte

	s.discsync.Lock()
	defer s.discsync.Unlock()

	if s.closed.Load() {
		return xerrors.Errorf("%w: store is closed", ErrStorageUnavailable)
	}

	copy(buf[:], s.version_data[:])
	index := (s.version_index + 1) % internal_MAX_VERSIONS_TO_KEEP
	binary.LittleEndian.PutUint64(buf[index*internal_VERSION_RECORD_SIZE+0:], version)
	binary.LittleEndian.PutUint64(buf[index*internal_VERSION_RECORD_SIZE+8:], pos)

	if err := s.kv.Set([]byte(versionRootKey), buf[:], s.sync_writes); err != nil {
		return xerrors.Errorf("%w: %s", ErrStorageUnavailable, err)
	}

	s.commitsync.Lock()
	copy(s.version_data[:], buf[:])
	s.version_index = index
	s.commitsync.Unlock()
	return nil
}

// load recent snapshot list to ram
func (s *Store) loadsnapshottablestoram() (err error) {
	buf, err := s.kv.Get([]byte(versionRootKey))
	if xerrors.Is(err, ErrNotFound) { // newly created store
		s.version_data = [internal_MAX_VERSIONS_TO_KEEP * internal_VERSION_RECORD_SIZE]byte{}
		return nil
	}
	if err != nil {
		return xerrors.Errorf("%w: %s", ErrStorageUnavailable, err)
	}

	if len(buf) != len(s.version_data) {
		return xerrors.Errorf("%w: version table has %d bytes", ErrCorruption, len(buf))
	}
	copy(s.version_data[:], buf)
	s.version_index, _, _ = s.findhighestsnapshotinram() // setup index properly
	return nil
}

func (store *Store) findhighestsnapshotinram() (index int, version uint64, pos uint64) {
	var highest_version uint64
	for i := 0; i < internal_MAX_VERSIONS_TO_KEEP; i++ {
		if highest_version < binary.LittleEndian.Uint64(store.version_data[i*internal_VERSION_RECORD_SIZE:]) {
			index = i
			version = binary.LittleEndian.Uint64(store.version_data[i*internal_VERSION_RECORD_SIZE:])
			pos = binary.LittleEndian.Uint64(store.version_data[i*internal_VERSION_RECORD_SIZE+8:])
			highest_version = version
		}
	}
	return
}
