package grove

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func encodedItem(value string) string {
	return string(NewItem([]byte(value)).Marshal())
}

// changes grouped the way Diff reports them, values are encoded elements
type changeSet struct {
	deleted, modified, inserted map[string]string
}

func newChangeSet() *changeSet {
	return &changeSet{deleted: map[string]string{}, modified: map[string]string{}, inserted: map[string]string{}}
}

func (c *changeSet) diff(base, head *Subtree) error {
	record := func(m map[string]string) DiffHandler {
		return func(k, v []byte) { m[string(k)] = string(v) }
	}
	return Diff(base, head, record(c.deleted), record(c.modified), record(c.inserted))
}

func (c *changeSet) count() int {
	return len(c.deleted) + len(c.modified) + len(c.inserted)
}

func TestDiffTree(t *testing.T) {
	store, tree := setupDeterministicSubtree(t, 0)
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))

	committed := map[string]string{}
	for i := 0; i < 20000; i++ {
		key, value := randStr(32), randStr(8)
		committed[key] = value
		putItem(t, tree, []byte(key), []byte(value))
	}
	base_pos, err := tree.commit(1)
	require.NoError(t, err)

	keys := make([]string, 0, len(committed))
	for k := range committed {
		keys = append(keys, k)
	}
	rnd.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })

	// a third of the keys is modified, another third deleted, and as many new keys inserted
	third := len(keys) / 3
	expected := newChangeSet()
	for _, k := range keys[:third] {
		value := randStr(8)
		expected.modified[k] = encodedItem(value)
		putItem(t, tree, []byte(k), []byte(value))
	}
	for _, k := range keys[third : 2*third] {
		expected.deleted[k] = encodedItem(committed[k])
		changed, err := tree.remove([]byte(k))
		require.NoError(t, err)
		require.True(t, changed)
	}
	for i := 0; i < third; i++ {
		key, value := randStr(32), randStr(8)
		expected.inserted[key] = encodedItem(value)
		putItem(t, tree, []byte(key), []byte(value))
	}
	head_pos, err := tree.commit(2)
	require.NoError(t, err)

	base_tree := reloadSubtree(t, store, base_pos)
	head_tree := reloadSubtree(t, store, head_pos)

	forward := newChangeSet()
	require.NoError(t, forward.diff(base_tree, head_tree))
	require.Equal(t, expected, forward)

	// diffing the other way round swaps inserts and deletes, modifications report the base values
	reverse := newChangeSet()
	require.NoError(t, reverse.diff(head_tree, base_tree))
	require.Equal(t, expected.deleted, reverse.inserted)
	require.Equal(t, expected.inserted, reverse.deleted)
	for k := range expected.modified {
		require.Equal(t, encodedItem(committed[k]), reverse.modified[k])
	}
	require.Len(t, reverse.modified, len(expected.modified))

	changed, err := changedKeys(base_tree, head_tree)
	require.NoError(t, err)
	require.Len(t, changed, expected.count())
}

func TestDiffTreeSingleKey(t *testing.T) {
	store, tree := setupDeterministicSubtree(t, 0)

	key := randStr(32)
	value := randStr(8)
	mod_value := randStr(8)

	putItem(t, tree, []byte(key), []byte(value))
	base_pos, err := tree.commit(1)
	require.NoError(t, err)

	putItem(t, tree, []byte(key), []byte(mod_value))
	head_pos, err := tree.commit(2)
	require.NoError(t, err)

	base_tree := reloadSubtree(t, store, base_pos)
	head_tree := reloadSubtree(t, store, head_pos)

	unexpected := func(k, v []byte) {
		t.Fatalf("unexpected change of %s", k)
	}

	var modified []string
	modify_handler := func(k, v []byte) {
		require.Equal(t, key, string(k))
		modified = append(modified, string(v))
	}

	require.NoError(t, Diff(base_tree, head_tree, unexpected, modify_handler, unexpected))
	require.NoError(t, Diff(head_tree, base_tree, unexpected, modify_handler, unexpected))
	require.Equal(t, []string{encodedItem(mod_value), encodedItem(value)}, modified)

	// identical trees produce nothing
	require.NoError(t, Diff(head_tree, head_tree, unexpected, unexpected, unexpected))
}

func TestDiffTreeErrors(t *testing.T) {
	store, tree := setupDeterministicSubtree(t, 0)

	putItem(t, tree, []byte(randStr(32)), []byte(randStr(8)))
	base_pos, err := tree.commit(1)
	require.NoError(t, err)

	for i := 0; i < 8; i++ {
		putItem(t, tree, []byte(randStr(60)), []byte(randStr(512)))
	}
	head_pos, err := tree.commit(2)
	require.NoError(t, err)

	base_tree := reloadSubtree(t, store, base_pos)
	head_tree := reloadSubtree(t, store, head_pos)

	// head root points past the end of the store
	head_tree.root.pos = 1000000000
	head_tree.root.loaded_partial = true

	dt := diffTree{base_tree: base_tree, head_tree: head_tree}
	require.Error(t, dt.compare_nodes(base_tree.root, head_tree.root, nil, nil, nil))

	base_tree = reloadSubtree(t, store, base_pos)
	base_tree.root.pos = 1000000000
	base_tree.root.loaded_partial = true
	dt = diffTree{base_tree: base_tree, head_tree: reloadSubtree(t, store, head_pos)}
	require.Error(t, dt.compare_nodes(base_tree.root, dt.head_tree.root, nil, nil, nil))
}
