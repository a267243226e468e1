package grove

import (
	"bytes"
	"encoding/base64"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func randStr(len int) string {
	buff := make([]byte, len)
	rand.Read(buff)
	return base64.StdEncoding.EncodeToString(buff)
}

func putItem(tb testing.TB, t *Subtree, key, value []byte) {
	require.NoError(tb, t.put(key, NewItem(value).Marshal()))
}

func getItem(t *Subtree, key []byte) ([]byte, error) {
	e, err := t.Get(key)
	if err != nil {
		return nil, err
	}
	return e.Value(), nil
}

func setupDeterministicSubtree(tb testing.TB, keycount int) (*Store, *Subtree) {
	rand.Seed(100)
	store, err := NewMemStore()
	require.NoError(tb, err)
	tree := newSubtree(store, nil, false)
	for i := 0; i < keycount; i++ {
		key := make([]byte, 50)
		value := make([]byte, 60)
		rand.Read(key)
		rand.Read(value)
		putItem(tb, tree, key, value)
	}
	if keycount > 0 {
		_, err := tree.commit(1)
		require.NoError(tb, err)
	}
	return store, tree
}

// loads a committed subtree back from its root position
func reloadSubtree(tb testing.TB, store *Store, pos uint64) *Subtree {
	root, err := store.loadrootusingpos(pos)
	require.NoError(tb, err)
	return &Subtree{store: store, root: root}
}

func (t *Subtree) hashSkipError() [HASHSIZE]byte {
	h, _ := t.Hash()
	return h
}

func TestSubtreeMaxValueSize(t *testing.T) {
	_, tree := setupDeterministicSubtree(t, 0)

	dummyvalue := make([]byte, MAX_VALUE_SIZE+1)
	key := make([]byte, 40)
	rand.Read(key)

	require.ErrorIs(t, tree.put(key, dummyvalue), ErrInvalidElement)
}

func TestSubtreeKeyLimits(t *testing.T) {
	_, tree := setupDeterministicSubtree(t, 0)

	require.ErrorIs(t, tree.put(nil, NewItem(nil).Marshal()), ErrInvalidKey)
	require.ErrorIs(t, tree.put(make([]byte, MAX_KEYSIZE+1), NewItem(nil).Marshal()), ErrInvalidKey)
	_, err := tree.Get([]byte{})
	require.ErrorIs(t, err, ErrInvalidKey)

	long := bytes.Repeat([]byte{0xff}, MAX_KEYSIZE)
	longer := append(bytes.Repeat([]byte{0xff}, MAX_KEYSIZE-1), 0xfe)
	putItem(t, tree, long, []byte("long"))
	putItem(t, tree, longer, []byte("longer"))

	v, err := getItem(tree, long)
	require.NoError(t, err)
	require.Equal(t, []byte("long"), v)
	v, err = getItem(tree, longer)
	require.NoError(t, err)
	require.Equal(t, []byte("longer"), v)

	_, err = tree.commit(1)
	require.NoError(t, err)
}

func TestSubtreePutGetDelete(t *testing.T) {
	rand.Seed(time.Now().Unix())
	_, tree := setupDeterministicSubtree(t, 0)

	var keys = [][]byte{}
	var values = [][]byte{}
	var roothashes = [][HASHSIZE]byte{}

	for i := 0; i < 500; i++ {
		key := []byte(randStr(20))
		value := []byte(randStr(10))
		putItem(t, tree, key, value)
		keys = append(keys, key)
		values = append(values, value)

		roothashes = append(roothashes, tree.hashSkipError())
		_, err := tree.commit(uint64(i + 1))
		require.NoError(t, err)

		// since the test is single threaded, version number should be monotonicaly increasing
		require.Equal(t, tree.GetVersion(), tree.GetParentVersion()+1)
	}

	for i, key := range keys {
		value, err := getItem(tree, key)
		require.NoError(t, err)
		require.Equal(t, values[i], value)
	}

	// delete the keys in reverse order and check whether we obtain the same tree root hash as before
	for i := len(keys) - 1; i > 0; i-- {
		changed, err := tree.remove(keys[i])
		require.NoError(t, err)
		require.True(t, changed)
		require.Equal(t, roothashes[i-1], tree.hashSkipError())
		_, err = tree.commit(uint64(1000 + i)) // also check whether commit cause any hash to change
		require.NoError(t, err)
		require.Equal(t, roothashes[i-1], tree.hashSkipError())
	}
}

func TestSubtreeOrderIndependence(t *testing.T) {
	store, err := NewMemStore()
	require.NoError(t, err)

	keys := [][]byte{[]byte("a"), []byte("ab"), []byte("abc"), []byte("b"), {0}, {0, 0}, {0xff}}
	for i := 0; i < 200; i++ {
		keys = append(keys, []byte(randStr(1+rand.Intn(12))))
	}

	forward := newSubtree(store, nil, false)
	for _, k := range keys {
		putItem(t, forward, k, k)
	}
	backward := newSubtree(store, nil, false)
	for i := len(keys) - 1; i >= 0; i-- {
		putItem(t, backward, keys[i], keys[i])
	}
	require.Equal(t, forward.hashSkipError(), backward.hashSkipError())

	// removing keys leaves the same shape as never inserting them
	subset := newSubtree(store, nil, false)
	for i, k := range keys {
		if i%3 == 0 {
			continue
		}
		putItem(t, subset, k, k)
	}
	for i, k := range keys {
		if i%3 == 0 {
			_, err := forward.remove(k)
			require.NoError(t, err)
		}
	}
	require.Equal(t, subset.hashSkipError(), forward.hashSkipError())
}

func TestEmptySubtreeHash(t *testing.T) {
	_, tree := setupDeterministicSubtree(t, 0)
	require.Equal(t, emptyRootHash, tree.hashSkipError())

	empty, err := tree.IsEmpty()
	require.NoError(t, err)
	require.True(t, empty)

	putItem(t, tree, []byte("k"), []byte("v"))
	require.NotEqual(t, emptyRootHash, tree.hashSkipError())

	_, err = tree.remove([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, emptyRootHash, tree.hashSkipError())
}

func TestArbitraryNonExistingGetsDeletes(t *testing.T) {
	_, tree := setupDeterministicSubtree(t, 1000)

	for i := 0; i < 200; i++ {
		key := make([]byte, 50)
		rand.Read(key)
		changed, err := tree.remove(key)
		require.NoError(t, err)
		require.False(t, changed)

		_, err = tree.Get(key)
		require.ErrorIs(t, err, ErrKeyNotFound) // all gets must fail

		has, err := tree.Has(key)
		require.NoError(t, err)
		require.False(t, has)
	}
}

// makes sure only dirty subtrees are written
func TestCommitDirty(t *testing.T) {
	_, tree := setupDeterministicSubtree(t, 0)

	putItem(t, tree, []byte{44}, []byte{80})
	_, err := tree.commit(1)
	require.NoError(t, err)

	putItem(t, tree, []byte{45}, []byte{80})
	pos, err := tree.commit(2)
	require.NoError(t, err)
	require.False(t, tree.IsDirty())

	current_version := tree.GetVersion()
	again, err := tree.commit(3)
	require.NoError(t, err)
	require.Equal(t, pos, again)
	require.Equal(t, current_version, tree.GetVersion())
}

func TestCommitClosedStore(t *testing.T) {
	store, tree := setupDeterministicSubtree(t, 0)
	putItem(t, tree, []byte{44}, []byte{80})
	require.NoError(t, store.Close())

	_, err := tree.commit(1)
	require.ErrorIs(t, err, ErrStorageUnavailable)
}

func TestSubtreeReload(t *testing.T) {
	store, tree := setupDeterministicSubtree(t, 0)

	keyval := map[string]string{}
	for i := 0; i < 300; i++ {
		k, v := randStr(15), randStr(30)
		keyval[k] = v
		putItem(t, tree, []byte(k), []byte(v))
	}
	hash := tree.hashSkipError()
	pos, err := tree.commit(7)
	require.NoError(t, err)

	reloaded := reloadSubtree(t, store, pos)
	require.Equal(t, hash, reloaded.hashSkipError())
	require.Equal(t, uint64(7), reloaded.GetVersion())
	for k, v := range keyval {
		value, err := getItem(reloaded, []byte(k))
		require.NoError(t, err)
		require.Equal(t, []byte(v), value)
	}
}

func TestSumSubtree(t *testing.T) {
	store, err := NewMemStore()
	require.NoError(t, err)
	tree := newSubtree(store, nil, true)
	require.True(t, tree.IsSumTree())

	total := int64(0)
	for i := 0; i < 100; i++ {
		v := int64(rand.Intn(1000) - 500)
		total += v
		require.NoError(t, tree.put([]byte(randStr(8)), NewSumItem(v).Marshal()))
	}
	putItem(t, tree, []byte("plain"), []byte("items count as zero"))

	s, err := tree.Sum()
	require.NoError(t, err)
	require.Equal(t, total, s)

	pos, err := tree.commit(1)
	require.NoError(t, err)

	reloaded := reloadSubtree(t, store, pos)
	require.True(t, reloaded.IsSumTree())
	s, err = reloaded.Sum()
	require.NoError(t, err)
	require.Equal(t, total, s)

	// plain subtrees never aggregate
	plain := newSubtree(store, nil, false)
	require.NoError(t, plain.put([]byte("x"), NewSumItem(10).Marshal()))
	s, err = plain.Sum()
	require.NoError(t, err)
	require.Equal(t, int64(0), s)
}

func TestSumSubtreeOverflow(t *testing.T) {
	_, tree := setupDeterministicSubtree(t, 0)
	tree.root.sumtree = true

	require.NoError(t, tree.put([]byte("a"), NewSumItem(math.MaxInt64).Marshal()))
	require.NoError(t, tree.put([]byte("b"), NewSumItem(1).Marshal()))
	_, err := tree.Sum()
	require.ErrorIs(t, err, ErrSumOverflow)

	require.NoError(t, tree.put([]byte("b"), NewSumItem(-1).Marshal()))
	s, err := tree.Sum()
	require.NoError(t, err)
	require.Equal(t, int64(math.MaxInt64-1), s)
}

// an undecodable element fails the aggregate of its sum tree instead of counting as zero
func TestSumSubtreeCorruptElement(t *testing.T) {
	store, err := NewMemStore()
	require.NoError(t, err)
	tree := newSubtree(store, nil, true)
	require.NoError(t, tree.put([]byte("good"), NewSumItem(7).Marshal()))

	truncated := NewSumItem(1 << 40).Marshal()
	require.NoError(t, tree.put([]byte("bad"), truncated[:2]))
	_, err = tree.Sum()
	require.ErrorIs(t, err, ErrCorruption)

	require.NoError(t, tree.put([]byte("bad"), NewSumItem(1).Marshal()))
	s, err := tree.Sum()
	require.NoError(t, err)
	require.Equal(t, int64(8), s)
}

func TestSubtreeRandom(t *testing.T) {
	_, tree := setupDeterministicSubtree(t, 0)
	_, _, err := tree.Random()
	require.ErrorIs(t, err, ErrNoMoreKeys)

	for i := 0; i < 50; i++ {
		putItem(t, tree, []byte{byte(i)}, []byte{byte(i)})
	}
	for i := 0; i < 20; i++ {
		k, e, err := tree.Random()
		require.NoError(t, err)
		require.Equal(t, k, e.Value())
	}
	require.Greater(t, tree.KeyCountEstimate(), int64(0))
}

func TestSubtreeGraph(t *testing.T) {
	_, tree := setupDeterministicSubtree(t, 0)
	putItem(t, tree, []byte("k1"), []byte("v1"))
	putItem(t, tree, []byte("k2"), []byte("v2"))

	var out bytes.Buffer
	require.NoError(t, tree.Graph(&out))
	require.Contains(t, out.String(), "digraph")
	require.Contains(t, out.String(), `\"k2\"`)
}
