package grove

import "bytes"
import "fmt"

// Cursor represents an iterator that can traverse over all key/element pairs in a subtree in key order.
// Cursors can be obtained from a subtree and are valid as long as the subtree is valid.
// Changing the subtree while traversing with a cursor may cause it to be invalidated and return unexpected keys and/or values. You must reposition your cursor after mutating data.
type Cursor struct {
	tree *Subtree

	node_path []*inner
	left      []bool
}

// get Cursor which is used as an iterator that can traverse over all key/element pairs in a subtree in key order.
func (t *Subtree) Cursor() Cursor {
	return Cursor{tree: t}
}

func (c *Cursor) decode(k, v []byte, err error) ([]byte, Element, error) {
	if err != nil {
		return nil, Element{}, err
	}
	e, err := UnmarshalElement(v)
	return k, e, err
}

// First moves the cursor to the smallest key. If the subtree is empty then ErrNoMoreKeys is returned.
func (c *Cursor) First() ([]byte, Element, error) {
	c.reset()
	return c.decode(c.next_internal(node(c.tree.root), false))
}

// Last moves the cursor to the largest key. If the subtree is empty then ErrNoMoreKeys is returned.
func (c *Cursor) Last() ([]byte, Element, error) {
	c.reset()
	return c.decode(c.next_internal(node(c.tree.root), true))
}

// Next moves the cursor to the next key. If the cursor is at the end of the subtree, then ErrNoMoreKeys is returned.
func (c *Cursor) Next() ([]byte, Element, error) {
	return c.decode(c.next())
}

// Prev moves the cursor to the previous key. If the cursor is at the start of the subtree, then ErrNoMoreKeys is returned.
func (c *Cursor) Prev() ([]byte, Element, error) {
	return c.decode(c.prev())
}

// Seek moves the cursor to the smallest key >= key.
func (c *Cursor) Seek(key []byte) ([]byte, Element, error) {
	return c.decode(c.seek(key))
}

func (c *Cursor) reset() {
	c.node_path = c.node_path[:0]
	c.left = c.left[:0]
}

// this function will descend and reach the next or previous value
func (c *Cursor) next_internal(loop_node node, reverse bool) (k, v []byte, err error) {
	for {
		switch node := loop_node.(type) {
		case *inner:
			if err = node.load_partial(c.tree.store); err != nil {
				return
			}

			left, right := node.left, node.right
			if reverse {
				left, right = right, left
			}

			if left != nil {
				c.node_path = append(c.node_path, node)
				c.left = append(c.left, !reverse)
				loop_node = left
				continue // we must descend further
			}

			if right != nil {
				c.node_path = append(c.node_path, node)
				c.left = append(c.left, reverse)
				loop_node = right
				continue // we must descend further
			}

			// we can only reach here if a tree has both left,right nil, ie an empty tree
			err = ErrNoMoreKeys
			return

		case *leaf:
			if err = node.load_partial(c.tree.store); err != nil {
				return
			}
			return node.key, node.value, nil
		default:
			return k, v, fmt.Errorf("unknown node type, corruption")
		}
	}
}

func (c *Cursor) next() (k, v []byte, err error) {
try_again:
	if len(c.node_path) == 0 {
		err = ErrNoMoreKeys
		return
	}
	cur_node_index := len(c.node_path) - 1

	if !c.left[cur_node_index] || c.node_path[cur_node_index].right == nil { // since we are a right node, we must back track one node
		c.node_path = c.node_path[:cur_node_index]
		c.left = c.left[:cur_node_index]
		goto try_again
	}
	// we are here means we are on a left node, lets check the right node
	c.left[cur_node_index] = false

	if err = c.node_path[cur_node_index].right.load_partial(c.tree.store); err != nil {
		return
	}
	switch node := c.node_path[cur_node_index].right.(type) {
	case *inner:
		return c.next_internal(node, false)
	case *leaf:
		return node.key, node.value, nil
	default:
		return k, v, fmt.Errorf("unknown node type, corruption")
	}
}

func (c *Cursor) prev() (k, v []byte, err error) {
try_again:
	if len(c.node_path) == 0 {
		err = ErrNoMoreKeys
		return
	}
	cur_node_index := len(c.node_path) - 1
	if c.left[cur_node_index] || c.node_path[cur_node_index].left == nil { // since we are a left node, we must back track one node
		c.node_path = c.node_path[:cur_node_index]
		c.left = c.left[:cur_node_index]
		goto try_again
	}
	// we are here means we are on a right node, lets check the left node
	c.left[cur_node_index] = true

	if err = c.node_path[cur_node_index].left.load_partial(c.tree.store); err != nil {
		return
	}
	switch node := c.node_path[cur_node_index].left.(type) {
	case *inner:
		return c.next_internal(node, true)
	case *leaf:
		return node.key, node.value, nil
	default:
		return k, v, fmt.Errorf("unknown node type, corruption")
	}
}

// descend along the key bits, keys to the right of the descent path are all larger
func (c *Cursor) seek(key []byte) (k, v []byte, err error) {
	c.reset()
	in := c.tree.root
	for {
		if err = in.load_partial(c.tree.store); err != nil {
			return
		}
		goright := keyBit(key, uint(in.bit))
		child := in.left
		if goright {
			child = in.right
		}

		switch node := child.(type) {
		case nil:
			if !goright && in.right != nil { // everything on the right is larger
				c.node_path = append(c.node_path, in)
				c.left = append(c.left, false)
				return c.next_internal(in.right, false)
			}
			return c.next()
		case *inner:
			c.node_path = append(c.node_path, in)
			c.left = append(c.left, !goright)
			in = node
		case *leaf:
			c.node_path = append(c.node_path, in)
			c.left = append(c.left, !goright)
			if err = node.load_partial(c.tree.store); err != nil {
				return
			}
			if bytes.Compare(node.key, key) >= 0 {
				return node.key, node.value, nil
			}
			return c.next()
		default:
			return k, v, fmt.Errorf("unknown node type, corruption")
		}
	}
}
