package grove

import "bytes"

type diffTree struct {
	base_tree, head_tree *Subtree
}

// All changes are reported of this type, deleted, modified, inserted. v is the encoded element.
type DiffHandler func(k, v []byte)

// This function can be used to diff 2 versions of a subtree and thus find all the keys which have been deleted, modified, inserted.
// The algorithm is linear time in the number of changes, identical branches are skipped by hash.
func Diff(base_tree, head_tree *Subtree, deleted, modified, inserted DiffHandler) (err error) {
	dt := diffTree{base_tree: base_tree, head_tree: head_tree}
	return dt.changes_internal(base_tree.root, head_tree.root, deleted, modified, inserted)
}

// keys which differ between base and head
func changedKeys(base_tree, head_tree *Subtree) (map[string]bool, error) {
	changed := map[string]bool{}
	mark := func(k, _ []byte) { changed[string(k)] = true }
	err := Diff(base_tree, head_tree, mark, mark, mark)
	return changed, err
}

// extract changes one bye one
func (dt *diffTree) changes_internal(base_node, head_node *inner, deleted, modified, inserted DiffHandler) (err error) {
	var base_hash, head_hash []byte
	if base_hash, err = base_node.Hash(dt.base_tree.store); err == nil {
		if head_hash, err = head_node.Hash(dt.head_tree.store); err == nil {
			if bytes.Equal(base_hash, head_hash) {
				return nil
			}
		}
	}
	if err != nil {
		return
	}

	if err = base_node.load_partial(dt.base_tree.store); err != nil {
		return
	}
	if err = head_node.load_partial(dt.head_tree.store); err != nil {
		return
	}

	if err = dt.compare_nodes(base_node.left, head_node.left, deleted, modified, inserted); err != nil {
		return
	}
	return dt.compare_nodes(base_node.right, head_node.right, deleted, modified, inserted)
}

// reports every key below n, skipping skip
func walkAll(tree *Subtree, n node, skip []byte, handler DiffHandler) (err error) {
	var k, v []byte
	c := tree.Cursor()
	for k, v, err = c.next_internal(n, false); err == nil; k, v, err = c.next() {
		if handler != nil && (skip == nil || !bytes.Equal(k, skip)) {
			handler(k, v)
		}
	}
	if err == ErrNoMoreKeys {
		return nil
	}
	return err
}

func (dt *diffTree) compare_nodes(base_node, head_node node, deleted, modified, inserted DiffHandler) (err error) {
	if base_node == nil && head_node == nil { // nothing to do on this side
		return
	}

	if base_node == nil { // all the head nodes were added
		return walkAll(dt.head_tree, head_node, nil, inserted)
	}
	if head_node == nil { // all the base nodes were deleted
		return walkAll(dt.base_tree, base_node, nil, deleted)
	}

	// both sides are not nil
	if err = base_node.load_partial(dt.base_tree.store); err != nil {
		return err
	}
	if err = head_node.load_partial(dt.head_tree.store); err != nil {
		return err
	}

	base_inner, base_is_inner := base_node.(*inner)
	head_inner, head_is_inner := head_node.(*inner)

	switch {
	case base_is_inner && head_is_inner:
		return dt.changes_internal(base_inner, head_inner, deleted, modified, inserted)

	case !base_is_inner && !head_is_inner: // if both leafs are different, process else leafs are same nothing to do
		base_leaf, head_leaf := base_node.(*leaf), head_node.(*leaf)
		if bytes.Equal(base_leaf.hash[:], head_leaf.hash[:]) {
			return nil
		}
		if bytes.Equal(base_leaf.key, head_leaf.key) { // if keys are same, then values are different
			if modified != nil {
				modified(head_leaf.key, head_leaf.value)
			}
			return nil
		}
		// base leaf was deleted, head leaf was inserted
		if deleted != nil {
			deleted(base_leaf.key, base_leaf.value)
		}
		if inserted != nil {
			inserted(head_leaf.key, head_leaf.value)
		}
		return nil

	case base_is_inner: // base type is inner node, head type is leaf node
		head_leaf := head_node.(*leaf)

		// check whether base tree contains this node
		if v, err := base_inner.Get(dt.base_tree.store, head_leaf.key); err == nil {
			if !bytes.Equal(v, head_leaf.value) && modified != nil { // same key, but value changed
				modified(head_leaf.key, head_leaf.value)
			}
		} else if inserted != nil { // either key was not found or some error occurred
			inserted(head_leaf.key, head_leaf.value)
		}

		// now the entire base branch must be searched, and the head leaf key skipped
		return walkAll(dt.base_tree, base_node, head_leaf.key, deleted)

	default: // base type is leaf node, head type is inner node
		base_leaf := base_node.(*leaf)

		if v, err := head_inner.Get(dt.head_tree.store, base_leaf.key); err == nil {
			if !bytes.Equal(v, base_leaf.value) && modified != nil { // same key, but value changed
				modified(base_leaf.key, v)
			}
		} else if deleted != nil {
			deleted(base_leaf.key, base_leaf.value)
		}

		return walkAll(dt.head_tree, head_node, base_leaf.key, inserted)
	}
}
