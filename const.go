package grove

import "errors"

const (
	HASHSIZE_BYTES  = 32 // we currently are using blake hash which is 256 bits or 32 bytes
	HASHSIZE        = HASHSIZE_BYTES
	HASHSIZE_BITS   = HASHSIZE_BYTES * 8  // hash size in bits
	MINBLOCK        = 512                 // max block size excluding value
	MAX_KEYSIZE     = 1024                // keys are limited to 1024 bytes, 9217 trie levels
	MAX_VALUE_SIZE  = 100 * 1024 * 1024   // values are limited to this size
	MAX_PATH_LENGTH = 64                  // maximum nesting of subtrees
	MAX_KEY_BITS    = MAX_KEYSIZE*9 + 1   // every byte takes 9 bits, plus terminator
	innerBufSize    = 3 + 2*10 + 1 + 2*(10+HASHSIZE+10) // worst case marshalled inner node
)

// CurrentStateSyncVersion is the chunk encoding understood by this build.
const CurrentStateSyncVersion uint16 = 1

const internal_MAX_VERSIONS_TO_KEEP = 20 // this many recent versions will be kept
const internal_VERSION_RECORD_SIZE = 16  // two uint64

var (
	ErrNotFound         = errors.New("leaf not found")
	ErrKeyNotFound      = ErrNotFound
	ErrVersionNotStored = errors.New("no such version")
	ErrCorruption       = errors.New("Data Corruption")
	ErrNoMoreKeys       = errors.New("No more keys exist")

	ErrInvalidPath             = errors.New("invalid path")
	ErrInvalidKey              = errors.New("invalid key")
	ErrInvalidElement          = errors.New("invalid element")
	ErrOverwriteNotAllowed     = errors.New("insertion would override existing key")
	ErrOverwriteTreeNotAllowed = errors.New("insertion would override existing tree")
	ErrDeletingNonEmptyTree    = errors.New("tree is not empty")
	ErrCyclicReference         = errors.New("cyclic reference")
	ErrReferenceLimit          = errors.New("reference hop limit reached")
	ErrSumOverflow             = errors.New("sum overflow")

	ErrConflict        = errors.New("transaction conflict")
	ErrTransactionDone = errors.New("transaction already committed or rolled back")

	ErrProofInvalid = errors.New("invalid proof")

	ErrChunkNotFound      = errors.New("chunk not found")
	ErrUnsupportedVersion = errors.New("unsupported state sync version")
	ErrSyncInProgress     = errors.New("state sync already in progress")
	ErrSessionFailed      = errors.New("state sync session failed")

	ErrStorageUnavailable = errors.New("storage unavailable")
)
