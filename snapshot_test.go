package grove

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSnapshotEmptyGrove(t *testing.T) {
	g := newTestGrove(t)

	version, err := g.Version()
	require.NoError(t, err)
	require.Equal(t, uint64(0), version)

	root, err := g.RootHash(nil)
	require.NoError(t, err)
	require.Equal(t, emptyRootHash, root)

	ss, err := g.SnapshotAt(0)
	require.NoError(t, err)
	root, err = ss.RootHash()
	require.NoError(t, err)
	require.Equal(t, emptyRootHash, root)

	ss, err = g.SnapshotWithRootHash(emptyRootHash)
	require.NoError(t, err)
	require.Equal(t, uint64(0), ss.Version())

	_, err = g.SnapshotAt(1)
	require.ErrorIs(t, err, ErrVersionNotStored)
}

// older versions than the version table holds stay reachable through the links of the latest version
func TestSnapshotHistory(t *testing.T) {
	g := newTestGrove(t)

	const versions = internal_MAX_VERSIONS_TO_KEEP + 15
	roots := map[uint64][HASHSIZE]byte{}
	for i := 1; i <= versions; i++ {
		require.NoError(t, g.Insert(nil, []byte("counter"), NewItem([]byte(fmt.Sprintf("%d", i))), nil, nil))
		root, err := g.RootHash(nil)
		require.NoError(t, err)
		roots[uint64(i)] = root
	}

	for version := uint64(1); version <= versions; version++ {
		ss, err := g.SnapshotAt(version)
		require.NoError(t, err)
		require.Equal(t, version, ss.Version())

		e, err := ss.Get(nil, []byte("counter"))
		require.NoError(t, err)
		require.Equal(t, fmt.Sprintf("%d", version), string(e.Value()))

		root, err := ss.RootHash()
		require.NoError(t, err)
		require.Equal(t, roots[version], root)

		byhash, err := g.SnapshotWithRootHash(root)
		require.NoError(t, err)
		require.Equal(t, version, byhash.Version())
	}

	_, err := g.SnapshotAt(versions + 1)
	require.ErrorIs(t, err, ErrVersionNotStored)

	_, err = g.SnapshotWithRootHash([HASHSIZE]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrVersionNotStored)
}

// a value repeated later resolves to the latest version holding that root hash
func TestSnapshotRepeatedRootHash(t *testing.T) {
	g := newTestGrove(t)

	require.NoError(t, g.Insert(nil, []byte("k"), NewItem([]byte("a")), nil, nil))
	first, err := g.RootHash(nil)
	require.NoError(t, err)
	require.NoError(t, g.Insert(nil, []byte("k"), NewItem([]byte("b")), nil, nil))
	require.NoError(t, g.Insert(nil, []byte("k"), NewItem([]byte("a")), nil, nil))

	ss, err := g.SnapshotWithRootHash(first)
	require.NoError(t, err)
	require.Equal(t, uint64(3), ss.Version())
}

func TestSnapshotIsolation(t *testing.T) {
	g := newTestGrove(t)

	require.NoError(t, g.Insert(nil, []byte("tree"), EmptyTree(), nil, nil))
	require.NoError(t, g.Insert(Path("tree"), []byte("k"), NewItem([]byte("v1")), nil, nil))

	ss, err := g.SnapshotAt(0)
	require.NoError(t, err)
	before, err := ss.RootHash()
	require.NoError(t, err)

	require.NoError(t, g.Insert(Path("tree"), []byte("k"), NewItem([]byte("v2")), nil, nil))
	require.NoError(t, g.Delete(nil, []byte("tree"), &DeleteOptions{AllowDeletingNonEmptyTrees: true}, nil))

	e, err := ss.Get(Path("tree"), []byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), e.Value())
	after, err := ss.RootHash()
	require.NoError(t, err)
	require.Equal(t, before, after)

	results, err := ss.Query(NewPathQuery(Path("tree"), NewQuery(RangeFull())), false)
	require.NoError(t, err)
	require.Len(t, results, 1)

	proof, err := ss.ProveQuery(NewPathQuery(Path("tree"), NewQuery(RangeFull())))
	require.NoError(t, err)
	_, err = VerifyQueryWithRootHash(proof, NewPathQuery(Path("tree"), NewQuery(RangeFull())), before)
	require.NoError(t, err)

	_, err = g.Get(Path("tree"), []byte("k"), nil)
	require.ErrorIs(t, err, ErrInvalidPath)
}
