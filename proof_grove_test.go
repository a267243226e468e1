package grove

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func setupProofGrove(t *testing.T) *Grove {
	g := newTestGrove(t)
	require.NoError(t, g.Insert(nil, []byte("accounts"), EmptyTree(), nil, nil))
	require.NoError(t, g.Insert(Path("accounts"), []byte("balances"), EmptySumTree(), nil, nil))
	tx, err := g.StartTransaction()
	require.NoError(t, err)
	for i := 0; i < 200; i++ {
		key := []byte(fmt.Sprintf("user%03d", i))
		require.NoError(t, g.Insert(Path("accounts"), key, NewItem([]byte(fmt.Sprintf("name %d", i))), nil, tx))
		require.NoError(t, g.Insert(Path("accounts", "balances"), key, NewSumItem(int64(i)), nil, tx))
	}
	require.NoError(t, g.Insert(Path("accounts"), []byte("alias"), NewReference(SiblingReference([]byte("user007"))), nil, tx))
	require.NoError(t, g.Insert(nil, []byte("empty"), EmptyTree(), nil, tx))
	require.NoError(t, tx.Commit())
	return g
}

func TestProveQueryRoundTrip(t *testing.T) {
	g := setupProofGrove(t)
	root := groveRoot(t, g, nil)

	queries := []PathQuery{
		NewPathQuery(Path("accounts"), NewQuery(Key([]byte("user042")))),
		NewPathQuery(Path("accounts"), NewQuery(Key([]byte("nobody")))),
		NewPathQuery(Path("accounts"), NewQuery(Range([]byte("user010"), []byte("user020")))),
		NewPathQuery(Path("accounts"), Query{Items: []QueryItem{RangeFrom([]byte("user100"))}, Limit: 5, Offset: 3}),
		NewPathQuery(Path("accounts"), NewQuery(RangeFull())),
		NewPathQuery(Path("accounts"), NewQuery(Key([]byte("alias")), Key([]byte("balances")))),
		NewPathQuery(Path("accounts", "balances"), NewQuery(RangeAfterToInclusive([]byte("user190"), []byte("user199")))),
		NewPathQuery(Path("accounts", "balances"), Query{Items: []QueryItem{RangeFull()}, Limit: 1}),
		NewPathQuery(nil, NewQuery(RangeFull())),
		NewPathQuery(Path("empty"), NewQuery(RangeFull())),
		NewPathQuery(Path("accounts"), NewQuery()),
	}
	for _, pq := range queries {
		name := fmt.Sprintf("%s %v", pathString(pq.Path), pq.Query.Items)
		proof, err := g.ProveQuery(pq, nil)
		require.NoError(t, err, name)

		proven, results, err := VerifyQuery(proof, pq)
		require.NoError(t, err, name)
		require.Equal(t, root, proven, name)

		expected, err := g.Query(pq, false, nil)
		require.NoError(t, err)
		require.Equal(t, len(expected), len(results), name)
		for i := range expected {
			require.Equal(t, expected[i].Key, results[i].Key)
			require.True(t, expected[i].Element.Equal(results[i].Element))
		}

		_, err = VerifyQueryWithRootHash(proof, pq, root)
		require.NoError(t, err)
		_, err = VerifyQueryWithRootHash(proof, pq, emptyRootHash)
		require.ErrorIs(t, err, ErrProofInvalid)
	}
}

func TestProveQueryInTransaction(t *testing.T) {
	g := setupProofGrove(t)
	tx, err := g.StartTransaction()
	require.NoError(t, err)
	defer tx.Rollback()

	require.NoError(t, g.Insert(Path("accounts"), []byte("user500"), NewItem([]byte("pending")), nil, tx))
	pq := NewPathQuery(Path("accounts"), NewQuery(Key([]byte("user500"))))
	proof, err := g.ProveQuery(pq, tx)
	require.NoError(t, err)

	results, err := VerifyQueryWithRootHash(proof, pq, groveRoot(t, g, tx))
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, []byte("pending"), results[0].Element.Value())

	_, err = VerifyQueryWithRootHash(proof, pq, groveRoot(t, g, nil))
	require.ErrorIs(t, err, ErrProofInvalid)
}

func TestProveQueryInvalidPath(t *testing.T) {
	g := setupProofGrove(t)

	_, err := g.ProveQuery(NewPathQuery(Path("missing"), NewQuery(RangeFull())), nil)
	require.ErrorIs(t, err, ErrInvalidPath)
	_, err = g.ProveQuery(NewPathQuery(Path("accounts", "user001"), NewQuery(RangeFull())), nil)
	require.ErrorIs(t, err, ErrInvalidPath)
}

func TestVerifyQueryRejects(t *testing.T) {
	g := setupProofGrove(t)
	root := groveRoot(t, g, nil)

	pq := NewPathQuery(Path("accounts"), NewQuery(Range([]byte("user010"), []byte("user013"))))
	proof, err := g.ProveQuery(pq, nil)
	require.NoError(t, err)

	// every single bit flip is caught, padding bits included
	for i := range proof {
		for bit := 0; bit < 8; bit++ {
			tampered := append([]byte{}, proof...)
			tampered[i] ^= 1 << bit
			_, err := VerifyQueryWithRootHash(tampered, pq, root)
			require.ErrorIs(t, err, ErrProofInvalid, "byte %d bit %d", i, bit)
		}
	}

	_, _, err = VerifyQuery(append(append([]byte{}, proof...), 0), pq)
	require.ErrorIs(t, err, ErrProofInvalid)
	_, _, err = VerifyQuery(proof[:len(proof)-1], pq)
	require.ErrorIs(t, err, ErrProofInvalid)
	_, _, err = VerifyQuery(nil, pq)
	require.ErrorIs(t, err, ErrProofInvalid)

	// the proof hides keys a wider query would return
	wider := NewPathQuery(Path("accounts"), NewQuery(RangeFull()))
	_, _, err = VerifyQuery(proof, wider)
	require.ErrorIs(t, err, ErrProofInvalid)

	// a proof for one path does not prove another
	other := NewPathQuery(Path("empty"), pq.Query)
	_, err = VerifyQueryWithRootHash(proof, other, root)
	require.ErrorIs(t, err, ErrProofInvalid)
	deeper := NewPathQuery(Path("accounts", "balances"), pq.Query)
	_, _, err = VerifyQuery(proof, deeper)
	require.ErrorIs(t, err, ErrProofInvalid)

	// a limited proof can not be read as unlimited
	limited := NewPathQuery(Path("accounts"), Query{Items: []QueryItem{RangeFull()}, Limit: 2})
	proof, err = g.ProveQuery(limited, nil)
	require.NoError(t, err)
	_, _, err = VerifyQuery(proof, NewPathQuery(Path("accounts"), NewQuery(RangeFull())))
	require.ErrorIs(t, err, ErrProofInvalid)
}

func TestRangeProofSubtree(t *testing.T) {
	_, tree := setupDeterministicSubtree(t, 300)
	putItem(t, tree, []byte("a"), []byte("1"))
	putItem(t, tree, []byte("ab"), []byte("2"))
	putItem(t, tree, []byte("abc"), []byte("3"))
	root := tree.hashSkipError()

	q := NewQuery(RangeInclusive([]byte("a"), []byte("abc")))
	proof, err := proveRange(tree.store, tree.root, q)
	require.NoError(t, err)

	proven, results, err := verifyRange(proof, q)
	require.NoError(t, err)
	require.Equal(t, root, proven)
	require.Equal(t, []string{"a", "ab", "abc"}, queryKeys(results))

	// a matching leaf hidden behind its hash is rejected
	hidden := NewQuery(Key([]byte("zzz")))
	proof, err = proveRange(tree.store, tree.root, hidden)
	require.NoError(t, err)
	_, _, err = verifyRange(proof, NewQuery(Key([]byte("a"))))
	require.ErrorIs(t, err, ErrProofInvalid)
}
