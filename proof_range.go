package grove

import "bytes"
import "fmt"

import "golang.org/x/xerrors"

// a range proof is a pre order stream of the nodes of one subtree, parts which can not hold
// results are replaced by their hash
const rangeProofVersion = 1

const (
	rpEmpty      byte = iota // absent child
	rpInner                  // followed by left and right
	rpHash                   // opaque node, 32 byte hash
	rpLeaf                   // key, encoded element
	rpLeafHashed             // key, 32 byte hash of the encoded element
)

type rangeProver struct {
	store *Store
	q     *Query
	w     *window
	buf   bytes.Buffer
}

// proveRange proves the result of q over the subtree rooted at root
func proveRange(store *Store, root *inner, q Query) ([]byte, error) {
	p := &rangeProver{store: store, q: &q, w: newWindow(q)}
	p.buf.WriteByte(rangeProofVersion)
	if err := p.prove(root, nil); err != nil {
		return nil, err
	}
	return p.buf.Bytes(), nil
}

func (p *rangeProver) opaque(n node) error {
	hash, err := n.Hash(p.store)
	if err != nil {
		return err
	}
	p.buf.WriteByte(rpHash)
	p.buf.Write(hash)
	return nil
}

func (p *rangeProver) prove(n node, prefix []byte) error {
	switch v := n.(type) {
	case nil:
		p.buf.WriteByte(rpEmpty)
		return nil
	case *inner:
		if p.w.full() || !p.q.mayIntersect(prefix) {
			return p.opaque(v)
		}
		if err := v.load_partial(p.store); err != nil {
			return err
		}
		p.buf.WriteByte(rpInner)
		if err := p.prove(v.left, append(prefix[:len(prefix):len(prefix)], 0)); err != nil {
			return err
		}
		return p.prove(v.right, append(prefix[:len(prefix):len(prefix)], 1))
	case *leaf:
		if p.w.full() {
			return p.opaque(v)
		}
		if err := v.load_partial(p.store); err != nil {
			return err
		}
		if p.q.matches(v.key) {
			p.w.take()
			p.buf.WriteByte(rpLeaf)
			putBytes(&p.buf, v.key)
			putBytes(&p.buf, v.value)
			return nil
		}
		vh := sum(v.value)
		p.buf.WriteByte(rpLeafHashed)
		putBytes(&p.buf, v.key)
		p.buf.Write(vh[:])
		return nil
	default:
		return fmt.Errorf("unknown node type, corruption")
	}
}

type rangeVerifier struct {
	d       decoder
	q       *Query
	w       *window
	results []KeyElement
	err     error
}

func (rv *rangeVerifier) invalid(format string, args ...interface{}) []byte {
	if rv.err == nil {
		rv.err = xerrors.Errorf("%w: "+format, append([]interface{}{ErrProofInvalid}, args...)...)
	}
	return nil
}

// verifyRange checks a range proof against q, it returns the subtree root hash and the proven results
func verifyRange(proof []byte, q Query) (root [HASHSIZE]byte, results []KeyElement, err error) {
	rv := &rangeVerifier{d: decoder{buf: proof}, q: &q, w: newWindow(q)}
	if version := rv.d.readByte(); rv.d.err == nil && version != rangeProofVersion {
		return root, nil, xerrors.Errorf("%w: range proof version %d", ErrProofInvalid, version)
	}

	var hash []byte
	switch op := rv.d.readByte(); op {
	case rpInner, rpHash: // the subtree root is always an inner node
		hash = rv.node(op, nil)
	default:
		rv.invalid("root op %d", op)
	}
	if rv.err == nil && rv.d.err != nil {
		rv.invalid("%s", rv.d.err)
	}
	if rv.err == nil && len(rv.d.buf) != 0 {
		rv.invalid("%d trailing bytes", len(rv.d.buf))
	}
	if rv.err != nil {
		return root, nil, rv.err
	}
	copy(root[:], hash)
	return root, rv.results, nil
}

func (rv *rangeVerifier) child(prefix []byte) []byte {
	if rv.err != nil || rv.d.err != nil {
		return nil
	}
	if uint(len(prefix)) > MAX_KEY_BITS {
		return rv.invalid("proof deeper than any key")
	}
	op := rv.d.readByte()
	if op == rpEmpty {
		return zerosHash[:]
	}
	return rv.node(op, prefix)
}

// hash of the node at trie position prefix
func (rv *rangeVerifier) node(op byte, prefix []byte) []byte {
	if rv.err != nil || rv.d.err != nil {
		return nil
	}
	switch op {
	case rpHash:
		if !rv.w.full() && rv.q.mayIntersect(prefix) {
			return rv.invalid("opaque node at %d bits may hold results", len(prefix))
		}
		return append([]byte{}, rv.d.readFixed(HASHSIZE)...)

	case rpInner:
		l := rv.child(append(prefix[:len(prefix):len(prefix)], 0))
		r := rv.child(append(prefix[:len(prefix):len(prefix)], 1))
		if rv.err != nil || rv.d.err != nil {
			return nil
		}
		var buf [2*HASHSIZE + 1]byte
		buf[0] = innerNODE
		copy(buf[1:], l)
		copy(buf[1+HASHSIZE:], r)
		h := sum(buf[:])
		return h[:]

	case rpLeaf, rpLeafHashed:
		key := rv.d.readBytes()
		if rv.d.err != nil {
			return nil
		}
		if err := checkKey(key); err != nil {
			return rv.invalid("%s", err)
		}
		if len(prefix) == 0 || cmpPrefix(key, prefix) != 0 {
			return rv.invalid("key %x does not belong at %d bits", key, len(prefix))
		}
		if rv.w.full() {
			return rv.invalid("leaf %x past the limit", key)
		}
		kh := sum(key)

		if op == rpLeafHashed {
			if rv.q.matches(key) {
				return rv.invalid("hashed leaf %x matches", key)
			}
			vh := rv.d.readFixed(HASHSIZE)
			if rv.d.err != nil {
				return nil
			}
			return leafHash(kh[:], vh)
		}

		value := rv.d.readBytes()
		if rv.d.err != nil {
			return nil
		}
		if !rv.q.matches(key) {
			return rv.invalid("leaf %x does not match", key)
		}
		e, err := UnmarshalElement(value)
		if err != nil {
			return rv.invalid("leaf %x: %s", key, err)
		}
		if rv.w.take() {
			rv.results = append(rv.results, KeyElement{Key: key, Element: e})
		}
		vh := sum(value)
		return leafHash(kh[:], vh[:])

	default:
		return rv.invalid("unknown op %d", op)
	}
}
