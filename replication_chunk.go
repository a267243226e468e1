package grove

import "fmt"
import "bytes"

import "github.com/fxamacker/cbor/v2"
import "golang.org/x/xerrors"

var chunkEnc cbor.EncMode
var chunkDec cbor.DecMode

func init() {
	var err error
	if chunkEnc, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(err)
	}
	if chunkDec, err = (cbor.DecOptions{}).DecMode(); err != nil {
		panic(err)
	}
}

// ChunkID names one inner node of one subtree of the grove whose root hash is Root.
// the first chunk of a sync is named by the raw root hash alone.
type ChunkID struct {
	_         struct{} `cbor:",toarray"`
	Root      []byte
	Path      [][]byte
	Prefix    []byte // trie position, packed bits
	PrefixLen uint
	Hash      []byte // hash of the node
}

func rootChunkID(root [HASHSIZE]byte) []byte {
	return append([]byte{}, root[:]...)
}

func (c *ChunkID) Marshal() ([]byte, error) {
	return chunkEnc.Marshal(c)
}

func (c *ChunkID) prefixBits() ([]byte, bool) {
	return unpackBits(c.Prefix, int(c.PrefixLen))
}

func (c *ChunkID) String() string {
	return fmt.Sprintf("chunk %s at %d bits, hash %x", pathString(c.Path), c.PrefixLen, c.Hash)
}

func ParseChunkID(id []byte) (*ChunkID, error) {
	if len(id) == HASHSIZE {
		return &ChunkID{Root: id, Hash: id}, nil
	}
	var c ChunkID
	if err := chunkDec.Unmarshal(id, &c); err != nil {
		return nil, xerrors.Errorf("%w: chunk id: %s", ErrChunkNotFound, err)
	}
	if len(c.Root) != HASHSIZE || len(c.Hash) != HASHSIZE || c.PrefixLen > MAX_KEY_BITS || len(c.Path) > MAX_PATH_LENGTH {
		return nil, xerrors.Errorf("%w: malformed chunk id", ErrChunkNotFound)
	}
	if _, ok := c.prefixBits(); !ok {
		return nil, xerrors.Errorf("%w: malformed chunk id prefix", ErrChunkNotFound)
	}
	return &c, nil
}

const (
	ChunkEmpty byte = iota // absent child
	ChunkInner             // followed by left and right
	ChunkLeaf              // key, encoded element
	ChunkRef               // inner node served by another chunk, hash
)

type ChunkOp struct {
	_     struct{} `cbor:",toarray"`
	Op    byte
	Key   []byte
	Value []byte
	Hash  []byte
}

// ChunkOps is the pre order encoding of the nodes of one chunk
type ChunkOps struct {
	_       struct{} `cbor:",toarray"`
	Version uint16
	Ops     []ChunkOp
}

// chooses up to max inner nodes breadth first from root, those are expanded, the rest are referenced
func expandChunk(store *Store, root *inner, max int) (map[*inner]bool, error) {
	expanded := map[*inner]bool{}
	queue := []*inner{root}
	for len(queue) > 0 && len(expanded) < max {
		in := queue[0]
		queue = queue[1:]
		if err := in.load_partial(store); err != nil {
			return nil, err
		}
		expanded[in] = true
		for _, child := range []node{in.left, in.right} {
			if c, ok := child.(*inner); ok {
				queue = append(queue, c)
			}
		}
	}
	return expanded, nil
}

func buildChunk(store *Store, root *inner, max int, version uint16) (*ChunkOps, error) {
	if max < 1 {
		max = 1
	}
	expanded, err := expandChunk(store, root, max)
	if err != nil {
		return nil, err
	}

	chunk := &ChunkOps{Version: version}
	var emit func(n node) error
	emit = func(n node) error {
		switch v := n.(type) {
		case nil:
			chunk.Ops = append(chunk.Ops, ChunkOp{Op: ChunkEmpty})
		case *inner:
			if !expanded[v] {
				hash, err := v.Hash(store)
				if err != nil {
					return err
				}
				chunk.Ops = append(chunk.Ops, ChunkOp{Op: ChunkRef, Hash: append([]byte{}, hash...)})
				return nil
			}
			chunk.Ops = append(chunk.Ops, ChunkOp{Op: ChunkInner})
			if err := emit(v.left); err != nil {
				return err
			}
			return emit(v.right)
		case *leaf:
			if err := v.load_partial(store); err != nil {
				return err
			}
			chunk.Ops = append(chunk.Ops, ChunkOp{Op: ChunkLeaf, Key: append([]byte{}, v.key...), Value: append([]byte{}, v.value...)})
		default:
			return fmt.Errorf("unknown node type, corruption")
		}
		return nil
	}
	if err := emit(root); err != nil {
		return nil, err
	}
	return chunk, nil
}

// locates the inner node named by id in the subtree t
func chunkNode(store *Store, t *Subtree, id *ChunkID) (*inner, error) {
	bits, _ := id.prefixBits()
	n := node(t.root)
	for i, b := range bits {
		in, ok := n.(*inner)
		if !ok {
			return nil, xerrors.Errorf("%w: no inner node at %d bits", ErrChunkNotFound, i)
		}
		if err := in.load_partial(store); err != nil {
			return nil, err
		}
		if b != 0 {
			n = in.right
		} else {
			n = in.left
		}
	}
	in, ok := n.(*inner)
	if !ok {
		return nil, xerrors.Errorf("%w: no inner node at %d bits", ErrChunkNotFound, len(bits))
	}
	hash, err := in.Hash(store)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(hash, id.Hash) {
		return nil, xerrors.Errorf("%w: %s, node hash is %x", ErrChunkNotFound, id, hash)
	}
	return in, nil
}

type chunkLeaf struct {
	key, value []byte
}

type chunkRef struct {
	prefix []byte // one bit per byte
	hash   []byte
}

type chunkContent struct {
	leaves []chunkLeaf
	refs   []chunkRef
}

// checks that ops hash to the node named by id and that every leaf sits where its key belongs
func verifyChunk(id *ChunkID, chunk *ChunkOps) (*chunkContent, error) {
	invalid := func(format string, args ...interface{}) error {
		return xerrors.Errorf("%w: %s: "+format, append([]interface{}{ErrCorruption, id}, args...)...)
	}
	prefix, _ := id.prefixBits()
	content := &chunkContent{}
	ops := chunk.Ops

	var walk func(prefix []byte, top bool) ([]byte, error)
	walk = func(prefix []byte, top bool) ([]byte, error) {
		if len(ops) == 0 {
			return nil, invalid("truncated ops")
		}
		if uint(len(prefix)) > MAX_KEY_BITS {
			return nil, invalid("ops deeper than any key")
		}
		op := ops[0]
		ops = ops[1:]
		if top && op.Op != ChunkInner {
			return nil, invalid("chunk must start with an inner node")
		}

		switch op.Op {
		case ChunkEmpty:
			return zerosHash[:], nil
		case ChunkRef:
			if len(op.Hash) != HASHSIZE {
				return nil, invalid("reference hash of %d bytes", len(op.Hash))
			}
			content.refs = append(content.refs, chunkRef{prefix: prefix, hash: op.Hash})
			return op.Hash, nil
		case ChunkLeaf:
			if err := checkKey(op.Key); err != nil {
				return nil, invalid("%s", err)
			}
			if cmpPrefix(op.Key, prefix) != 0 {
				return nil, invalid("key %x does not belong at %d bits", op.Key, len(prefix))
			}
			if _, err := UnmarshalElement(op.Value); err != nil {
				return nil, invalid("key %x: %s", op.Key, err)
			}
			content.leaves = append(content.leaves, chunkLeaf{key: op.Key, value: op.Value})
			kh, vh := sum(op.Key), sum(op.Value)
			return leafHash(kh[:], vh[:]), nil
		case ChunkInner:
			l, err := walk(append(prefix[:len(prefix):len(prefix)], 0), false)
			if err != nil {
				return nil, err
			}
			r, err := walk(append(prefix[:len(prefix):len(prefix)], 1), false)
			if err != nil {
				return nil, err
			}
			var buf [2*HASHSIZE + 1]byte
			buf[0] = innerNODE
			copy(buf[1:], l)
			copy(buf[1+HASHSIZE:], r)
			h := sum(buf[:])
			return h[:], nil
		default:
			return nil, invalid("unknown op %d", op.Op)
		}
	}

	hash, err := walk(prefix, true)
	if err != nil {
		return nil, err
	}
	if len(ops) != 0 {
		return nil, invalid("%d trailing ops", len(ops))
	}
	if !bytes.Equal(hash, id.Hash) {
		return nil, invalid("ops hash to %x", hash)
	}
	return content, nil
}
