package grove

import "fmt"
import "math"
import "crypto/rand"

// Random returns a random key and element of the subtree, ErrNoMoreKeys if it is empty.
// keys are not picked uniformly, every branch is taken with equal chance
func (t *Subtree) Random() ([]byte, Element, error) {
	k, v, err := t.random(t.root)
	if err != nil {
		return nil, Element{}, err
	}
	e, err := UnmarshalElement(v)
	return k, e, err
}

func (t *Subtree) random(cnode node) (k, v []byte, err error) {
	switch node := cnode.(type) {
	case *inner:
		if err = node.load_partial(t.store); err != nil {
			return
		}
		left, right := node.left, node.right
		if left != nil && right != nil { // we have an option to choose from left or right randomly
			var rbyte [1]byte
			if _, err = rand.Read(rbyte[:]); err != nil {
				return
			}
			if rbyte[0]&1 == 1 {
				return t.random(right)
			}
			return t.random(left)
		}
		if right != nil {
			return t.random(right)
		}
		if left != nil {
			return t.random(left)
		}
		err = ErrNoMoreKeys // only an empty subtree has both children nil
		return
	case *leaf:
		if err = node.load_partial(t.store); err != nil {
			return
		}
		return node.key, node.value, nil
	default:
		return k, v, fmt.Errorf("unknown node type, corruption")
	}
}

// KeyCountEstimate guesses the number of keys from the depth of the first leaves.
// very crude, only used for display
func (t *Subtree) KeyCountEstimate() (count int64) {
	c := t.Cursor()

	var depths int
	var floatsum float64
	for _, _, err := c.First(); err == nil; _, _, err = c.Next() {
		floatsum += float64(len(c.node_path))
		depths++
		if depths >= 20 {
			break
		}
	}
	if depths <= 4 {
		return int64(depths)
	}
	// keys are prefixed with a marker bit per byte, one in nine levels carries no information
	avg := floatsum / float64(depths+1) * 8 / 9
	return int64(math.Exp2(avg))
}
