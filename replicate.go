package grove

import "context"

import "github.com/emirpasic/gods/queues/linkedlistqueue"
import "golang.org/x/xerrors"

// ChunkSource serves state sync chunks, a *Grove is one
type ChunkSource interface {
	FetchChunk(id []byte, tx *Transaction, version uint16) ([]byte, error)
}

// Replicate copies the state with root hash sourceRoot from source into target inside tx.
// Chunks are fetched and applied one at a time in the order they become known.
func Replicate(ctx context.Context, source ChunkSource, sourceRoot [HASHSIZE]byte, target *Grove, tx *Transaction, version uint16) (*MultiStateSyncInfo, error) {
	session, err := target.StartSnapshotSyncing(nil, sourceRoot, tx, version)
	if err != nil {
		return session, err
	}

	queue := linkedlistqueue.New()
	if session.State == SyncIdle {
		queue.Enqueue(RootChunkID(sourceRoot))
	}
	for !queue.Empty() {
		if err := ctx.Err(); err != nil {
			return session, target.failSync(session, err)
		}
		item, _ := queue.Dequeue()
		id := item.([]byte)

		ops, err := source.FetchChunk(id, nil, version)
		if err != nil {
			return session, target.failSync(session, xerrors.Errorf("fetch %x: %w", id, err))
		}
		children, _, err := target.ApplyChunk(session, id, ops, tx, version)
		if err != nil {
			return session, err
		}
		for _, c := range children {
			queue.Enqueue(c)
		}
	}
	if session.State != SyncConverged {
		return session, xerrors.Errorf("%w: session %s ended %s", ErrSessionFailed, session.ID, session.State)
	}
	return session, nil
}
