package grove

import "github.com/emirpasic/gods/sets/hashset"
import "github.com/google/uuid"
import "go.uber.org/zap"
import "golang.org/x/xerrors"

type SyncState int

const (
	SyncIdle SyncState = iota
	SyncSyncing
	SyncConverged
	SyncFailed
)

func (s SyncState) String() string {
	switch s {
	case SyncIdle:
		return "idle"
	case SyncSyncing:
		return "syncing"
	case SyncConverged:
		return "converged"
	case SyncFailed:
		return "failed"
	}
	return "unknown"
}

// MultiStateSyncInfo tracks one state sync session towards SourceRootHash
type MultiStateSyncInfo struct {
	ID             uuid.UUID
	SourceRootHash [HASHSIZE]byte
	Version        uint16
	State          SyncState
	Err            error // why the session failed
	Applied        int   // chunks applied

	pending *hashset.Set // chunk ids fetched but not applied yet
}

// Pending returns the number of chunks which still have to be applied
func (s *MultiStateSyncInfo) Pending() int {
	if s.pending == nil {
		return 0
	}
	return s.pending.Size()
}

// a session is active until it converged or failed
func (s *MultiStateSyncInfo) active() bool {
	return s.State == SyncIdle || s.State == SyncSyncing
}

func checkSyncVersion(version uint16) error {
	if version != CurrentStateSyncVersion {
		return xerrors.Errorf("%w: %d, supported %d", ErrUnsupportedVersion, version, CurrentStateSyncVersion)
	}
	return nil
}

// FetchChunk returns the encoded ops of the chunk id. Chunks are served from the committed version with the
// root hash named by id, or from tx when its current root hash matches.
func (g *Grove) FetchChunk(id []byte, tx *Transaction, version uint16) ([]byte, error) {
	if err := checkSyncVersion(version); err != nil {
		return nil, err
	}
	cid, err := ParseChunkID(id)
	if err != nil {
		return nil, err
	}
	var root [HASHSIZE]byte
	copy(root[:], cid.Root)

	var chunk *ChunkOps
	serve := func(v *view) (err error) {
		t, err := v.subtree(cid.Path)
		if xerrors.Is(err, ErrInvalidPath) {
			return xerrors.Errorf("%w: %s", ErrChunkNotFound, err)
		}
		if err != nil {
			return err
		}
		in, err := chunkNode(v.store, t, cid)
		if err != nil {
			return err
		}
		chunk, err = buildChunk(v.store, in, g.opts.ChunkMaxNodes, version)
		return err
	}

	if tx != nil {
		served := false
		err := g.read(tx, func(v *view) error {
			h, err := v.rootHash()
			if err != nil || h != root {
				return err
			}
			served = true
			return serve(v)
		})
		if err != nil {
			return nil, err
		}
		if served {
			return chunkEnc.Marshal(chunk)
		}
	}

	ss, err := g.SnapshotWithRootHash(root)
	if xerrors.Is(err, ErrVersionNotStored) {
		return nil, xerrors.Errorf("%w: no version with root %x", ErrChunkNotFound, root)
	}
	if err != nil {
		return nil, err
	}
	ss.mu.Lock()
	err = serve(ss.v)
	ss.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return chunkEnc.Marshal(chunk)
}

// StartSnapshotSyncing starts replacing the contents of the grove inside tx by the state with root hash sourceRoot.
// Chunks are fetched from the source starting with the id returned by RootChunkID and applied with ApplyChunk.
func (g *Grove) StartSnapshotSyncing(prior *MultiStateSyncInfo, sourceRoot [HASHSIZE]byte, tx *Transaction, version uint16) (*MultiStateSyncInfo, error) {
	if err := checkSyncVersion(version); err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, xerrors.Errorf("state sync needs a transaction")
	}
	if prior != nil && prior.active() && prior.SourceRootHash == sourceRoot {
		return nil, xerrors.Errorf("%w: session %s", ErrSyncInProgress, prior.ID)
	}

	var keys [][]byte
	err := g.read(tx, func(v *view) error {
		if err := v.propagate(); err != nil {
			return err
		}
		t, err := v.subtree(nil)
		if err != nil {
			return err
		}
		c := t.Cursor()
		for k, _, err := c.First(); ; k, _, err = c.Next() {
			if xerrors.Is(err, ErrNoMoreKeys) {
				return nil
			}
			if err != nil {
				return err
			}
			keys = append(keys, append([]byte{}, k...))
		}
	})
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		if err := g.Delete(nil, k, &DeleteOptions{AllowDeletingNonEmptyTrees: true}, tx); err != nil {
			return nil, err
		}
	}

	session := &MultiStateSyncInfo{
		ID:             uuid.New(),
		SourceRootHash: sourceRoot,
		Version:        version,
		State:          SyncIdle,
		pending:        hashset.New(),
	}
	session.pending.Add(string(rootChunkID(sourceRoot)))
	g.log.Info("state sync started", zap.Stringer("session", session.ID), zap.Binary("root", sourceRoot[:]), zap.Int("cleared", len(keys)))

	if sourceRoot == emptyRootHash { // nothing to fetch
		session.pending.Clear()
		if err := g.finishSync(session, tx); err != nil {
			return session, err
		}
	}
	return session, nil
}

// RootChunkID is the id of the first chunk of a sync towards root
func RootChunkID(root [HASHSIZE]byte) []byte {
	return rootChunkID(root)
}

func (g *Grove) failSync(session *MultiStateSyncInfo, err error) error {
	session.State, session.Err = SyncFailed, err
	g.log.Info("state sync failed", zap.Stringer("session", session.ID), zap.Error(err))
	return err
}

// ApplyChunk verifies the ops of chunk id and inserts their contents into tx. It returns the ids of the chunks
// which became reachable. Once nothing is pending the session converges if the root hash matches the source.
func (g *Grove) ApplyChunk(session *MultiStateSyncInfo, id []byte, ops []byte, tx *Transaction, version uint16) ([][]byte, *MultiStateSyncInfo, error) {
	if session == nil {
		return nil, nil, xerrors.Errorf("%w: no session", ErrSessionFailed)
	}
	switch session.State {
	case SyncFailed:
		return nil, session, xerrors.Errorf("%w: session %s: %v", ErrSessionFailed, session.ID, session.Err)
	case SyncIdle:
		session.State = SyncSyncing
		g.log.Debug("state sync receiving chunks", zap.Stringer("session", session.ID))
	case SyncSyncing:
	default:
		return nil, session, xerrors.Errorf("%w: session %s is %s", ErrChunkNotFound, session.ID, session.State)
	}

	children, err := g.applyChunk(session, id, ops, tx, version)
	if err != nil {
		return nil, session, g.failSync(session, err)
	}
	session.pending.Remove(string(id))
	for _, c := range children {
		session.pending.Add(string(c))
	}
	session.Applied++

	if session.pending.Empty() {
		if err := g.finishSync(session, tx); err != nil {
			return nil, session, err
		}
	}
	return children, session, nil
}

func (g *Grove) applyChunk(session *MultiStateSyncInfo, id []byte, ops []byte, tx *Transaction, version uint16) ([][]byte, error) {
	if err := checkSyncVersion(version); err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, xerrors.Errorf("state sync needs a transaction")
	}
	if !session.pending.Contains(string(id)) {
		return nil, xerrors.Errorf("%w: %x is not pending", ErrChunkNotFound, id)
	}
	cid, err := ParseChunkID(id)
	if err != nil {
		return nil, err
	}
	if string(cid.Root) != string(session.SourceRootHash[:]) {
		return nil, xerrors.Errorf("%w: chunk of root %x", ErrChunkNotFound, cid.Root)
	}

	var chunk ChunkOps
	if err := chunkDec.Unmarshal(ops, &chunk); err != nil {
		return nil, xerrors.Errorf("%w: chunk ops: %s", ErrCorruption, err)
	}
	if err := checkSyncVersion(chunk.Version); err != nil {
		return nil, err
	}
	content, err := verifyChunk(cid, &chunk)
	if err != nil {
		return nil, err
	}

	var children [][]byte
	for _, ref := range content.refs {
		child := &ChunkID{Root: cid.Root, Path: cid.Path, Prefix: packBits(ref.prefix), PrefixLen: uint(len(ref.prefix)), Hash: ref.hash}
		enc, err := child.Marshal()
		if err != nil {
			return nil, err
		}
		children = append(children, enc)
	}

	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.check(g); err != nil {
		return nil, err
	}
	sp := tx.savepoint()
	for _, l := range content.leaves {
		e, _ := UnmarshalElement(l.value) // checked by verifyChunk
		if e.IsTree() {
			if e.roothash != emptyRootHash {
				child := &ChunkID{Root: cid.Root, Path: childPath(cid.Path, l.key), Hash: append([]byte{}, e.roothash[:]...)}
				enc, err := child.Marshal()
				if err != nil {
					tx.rollbackTo(sp)
					return nil, err
				}
				children = append(children, enc)
			}
			e = e.withRoot(emptyRootHash, 0)
		}
		if err := tx.applyLocked(op{kind: opInsert, path: clonePath(cid.Path), key: l.key, element: e}); err != nil {
			if rerr := tx.rollbackTo(sp); rerr != nil {
				return nil, xerrors.Errorf("%s, transaction could not be restored: %w", err, rerr)
			}
			return nil, err
		}
	}
	g.log.Debug("chunk applied", zap.Stringer("session", session.ID), zap.Stringer("chunk", cid), zap.Int("leaves", len(content.leaves)), zap.Int("children", len(children)))
	return children, nil
}

// compares the synced state with the source once nothing is pending
func (g *Grove) finishSync(session *MultiStateSyncInfo, tx *Transaction) error {
	root, err := g.RootHash(tx)
	if err != nil {
		return g.failSync(session, err)
	}
	if root != session.SourceRootHash {
		return g.failSync(session, xerrors.Errorf("%w: synced root %x, source %x", ErrSessionFailed, root, session.SourceRootHash))
	}
	session.State = SyncConverged
	g.log.Info("state sync converged", zap.Stringer("session", session.ID), zap.Int("chunks", session.Applied))
	return nil
}
