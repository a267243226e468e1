package grove

import "bytes"

import "golang.org/x/xerrors"

const groveProofVersion = 1

// a grove proof is a membership proof of every path segment, from the root down, followed by a range
// proof of the queried subtree
//
//	1 byte version
//	uvarint number of layers
//	length prefixed layer proofs
//	length prefixed range proof
func (v *view) proveQuery(pq PathQuery) ([]byte, error) {
	if err := v.propagate(); err != nil {
		return nil, err
	}
	t, err := v.subtree(pq.Path) // validates the whole path
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteByte(groveProofVersion)
	putUvarint(&buf, uint64(len(pq.Path)))
	for i := range pq.Path {
		parent, err := v.subtree(pq.Path[:i])
		if err != nil {
			return nil, err
		}
		p, err := parent.GenerateProof(pq.Path[i])
		if err != nil {
			return nil, err
		}
		if p.ptype != member {
			return nil, xerrors.Errorf("%w: %s missing while proving", ErrCorruption, pathString(pq.Path[:i+1]))
		}
		putBytes(&buf, p.Marshal())
	}

	rp, err := proveRange(v.store, t.root, pq.Query)
	if err != nil {
		return nil, err
	}
	putBytes(&buf, rp)
	return buf.Bytes(), nil
}

// ProveQuery returns a proof of the result of pq, which VerifyQuery checks without access to the grove
func (g *Grove) ProveQuery(pq PathQuery, tx *Transaction) (proof []byte, err error) {
	err = g.read(tx, func(v *view) error {
		proof, err = v.proveQuery(pq)
		return err
	})
	return
}

// VerifyQuery checks proof against pq, it returns the grove root hash the proof commits to and the proven results.
// references are returned unresolved.
func VerifyQuery(proof []byte, pq PathQuery) (root [HASHSIZE]byte, results []KeyElement, err error) {
	invalid := func(format string, args ...interface{}) error {
		return xerrors.Errorf("%w: "+format, append([]interface{}{ErrProofInvalid}, args...)...)
	}

	d := decoder{buf: proof}
	if version := d.readByte(); d.err == nil && version != groveProofVersion {
		return root, nil, invalid("proof version %d", version)
	}
	layers := d.readUvarint()
	if d.err == nil && layers != uint64(len(pq.Path)) {
		return root, nil, invalid("%d layers for a path of %d", layers, len(pq.Path))
	}
	var raw [][]byte
	for i := uint64(0); d.err == nil && i < layers; i++ {
		raw = append(raw, d.readBytes())
	}
	rp := d.readBytes()
	if d.err != nil {
		return root, nil, invalid("%s", d.err)
	}
	if len(d.buf) != 0 {
		return root, nil, invalid("%d trailing bytes", len(d.buf))
	}

	child, results, err := verifyRange(rp, pq.Query)
	if err != nil {
		return root, nil, err
	}

	for i := len(raw) - 1; i >= 0; i-- {
		var p Proof
		if err := p.Unmarshal(raw[i]); err != nil {
			return root, nil, err
		}
		if p.ptype != member {
			return root, nil, invalid("layer %d is not a membership proof", i)
		}
		e, err := UnmarshalElement(p.value)
		if err != nil {
			return root, nil, invalid("layer %d: %s", i, err)
		}
		if !e.IsTree() {
			return root, nil, invalid("layer %d holds a %s", i, e.kind)
		}
		if e.roothash != child {
			return root, nil, invalid("layer %d commits to %x, subtree is %x", i, e.roothash, child)
		}
		r := p.root(pq.Path[i])
		if r == nil {
			return root, nil, invalid("layer %d does not prove %q", i, pq.Path[i])
		}
		copy(child[:], r)
	}
	return child, results, nil
}

// VerifyQueryWithRootHash is VerifyQuery which also requires the proof to commit to expected
func VerifyQueryWithRootHash(proof []byte, pq PathQuery, expected [HASHSIZE]byte) ([]KeyElement, error) {
	root, results, err := VerifyQuery(proof, pq)
	if err != nil {
		return nil, err
	}
	if root != expected {
		return nil, xerrors.Errorf("%w: proof commits to %x, expected %x", ErrProofInvalid, root, expected)
	}
	return results, nil
}
