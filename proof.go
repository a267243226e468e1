package grove

import "bytes"
import "encoding/binary"

import "golang.org/x/xerrors"

const (
	member byte = iota + 1
	collision
	deadend
)

func NewProof() *Proof {
	return &Proof{
		trace: make([][]byte, 0, 64),
	}
}

// This structure is used to prove existence/non-existence of a key within a single subtree
type Proof struct {
	version int64
	ptype   byte
	trace   [][]byte
	value   []byte

	ckey, cval []byte // collision key and value hash
}

// prepare the structure for reuse
func (p *Proof) Reset() {
	p.version = 0
	for i := range p.trace {
		p.trace[i] = nil
	}
	p.value = nil
	p.ckey = nil
	p.cval = nil
	p.ptype = 0
	p.trace = p.trace[:0]
}

// add paths
func (p *Proof) addTrace(hash []byte) {
	p.trace = append(p.trace, hash)
}

func (p *Proof) addDeadend() {
	p.ptype = deadend
}

func (p *Proof) addValue(value []byte) {
	p.ptype = member
	p.value = value
}

func (p *Proof) addCollision(key, val []byte) {
	p.ptype = collision
	p.ckey = key
	p.cval = val
}

func (p *Proof) rootForLeaf(key []byte, leaf []byte) []byte {
	h := hasher()
	rst := make([]byte, HASHSIZE)
	copy(rst, leaf)
	if len(p.trace) == 0 {
		return rst
	}
	last := len(p.trace) - 1
	for i := uint(last); ; i-- {
		sibling := p.trace[i]
		h.Write([]byte{innerNODE})
		if keyBit(key, i) {
			h.Write(sibling)
			h.Write(rst)
		} else {
			h.Write(rst)
			h.Write(sibling)
		}
		rst = h.Sum(rst[:0])
		h.Reset()
		if i == 0 {
			break
		}
	}
	return rst
}

// root this proof commits to for key, nil if the proof is not well formed for key
func (p *Proof) root(key []byte) []byte {
	if len(p.trace) == 0 || uint(len(p.trace)) > keyBits(key) {
		return nil
	}
	keyhash := sum(key)
	switch p.ptype {
	case member:
		rst := sum(p.value)
		return p.rootForLeaf(key, leafHash(keyhash[:], rst[:]))
	case collision:
		if bytes.Equal(p.ckey, key) || uint(len(p.trace)) > keyBits(p.ckey) {
			return nil
		}
		for i := range p.trace { // the other leaf must live on the same path
			if keyBit(p.ckey, uint(i)) != keyBit(key, uint(i)) {
				return nil
			}
		}
		ckeyhash := sum(p.ckey)
		return p.rootForLeaf(key, leafHash(ckeyhash[:], p.cval))
	case deadend:
		return p.rootForLeaf(key, zerosHash[:])
	}
	return nil
}

func (p *Proof) VerifyMembership(root [HASHSIZE]byte, key []byte) bool {
	if p.ptype != member {
		return false
	}
	r := p.root(key)
	return r != nil && bytes.Equal(root[:], r)
}

func (p *Proof) VerifyNonMembership(root [HASHSIZE]byte, key []byte) bool {
	if p.ptype != collision && p.ptype != deadend {
		return false
	}
	r := p.root(key)
	return r != nil && bytes.Equal(root[:], r)
}

// if the proof is for existence for a key, it's associated value can be read here
func (p *Proof) Value() []byte {
	if p.value == nil {
		return []byte{}
	}
	rst := make([]byte, len(p.value))
	copy(rst, p.value)
	return rst
}

// Serialize the proof to a byte array
func (p *Proof) Marshal() []byte {
	var b bytes.Buffer
	p.MarshalTo(&b)
	return b.Bytes()
}

// Serialize the proof to a bytes Buffer
//
//	1 byte for version
//	1 byte for type
//	varint trace length
//	tracebits, one bit per trace entry, bit 1 is set  if hash is not zerohash
//	32 byte(HASHSIZE) * number of trace bits set
//	if collision is there, length prefixed key, 32 byte(HASHSIZE) value hash
//	if member, varint length prefixed value
//	dead end = 0
func (p *Proof) MarshalTo(b *bytes.Buffer) {
	var buf [binary.MaxVarintLen64]byte
	b.WriteByte(1)       // write version
	b.WriteByte(p.ptype) // write proof type

	done := binary.PutUvarint(buf[:], uint64(len(p.trace)))
	b.Write(buf[:done])

	tracebits := make([]byte, (len(p.trace)+7)/8)
	for i := range p.trace {
		if !bytes.Equal(p.trace[i], zerosHash[:]) {
			setBit(tracebits, uint(i))
		}
	}
	b.Write(tracebits)
	for i := range p.trace {
		if isBitSet(tracebits, uint(i)) {
			b.Write(p.trace[i])
		}
	}

	switch p.ptype {
	case collision:
		done := binary.PutUvarint(buf[:], uint64(len(p.ckey)))
		b.Write(buf[:done])
		b.Write(p.ckey)
		b.Write(p.cval) // HASHSIZE len
	case member:
		done := binary.PutUvarint(buf[:], uint64(len(p.value)))
		b.Write(buf[:done])
		b.Write(p.value[:])
	case deadend:
	}
}

// Unmarshal follows reverse of marshal to deserialize the array of bytes to proof for verification.
func (p *Proof) Unmarshal(buf []byte) error {
	p.Reset() // reset complete proof

	invalid := func(what string) error {
		return xerrors.Errorf("%w: %s", ErrProofInvalid, what)
	}

	if len(buf) < 3 {
		return invalid("truncated proof")
	}
	p.version = int64(buf[0])
	if p.version != 1 {
		return invalid("unknown proof version")
	}
	p.ptype = buf[1]
	tracelength, tracelengthsize := binary.Uvarint(buf[2:])
	if tracelengthsize <= 0 || tracelength < 1 || tracelength > MAX_KEY_BITS {
		return invalid("invalid proof tracelength")
	}
	done := 2 + tracelengthsize
	bitslen := (int(tracelength) + 7) / 8
	if len(buf) < done+bitslen {
		return invalid("truncated tracebits")
	}
	tracebits := buf[done : done+bitslen]
	done += bitslen
	for i := uint(tracelength); i < uint(bitslen*8); i++ {
		if isBitSet(tracebits, i) {
			return invalid("tracebits padding is not zero")
		}
	}

	p.trace = make([][]byte, tracelength)
	for i := range p.trace {
		if isBitSet(tracebits, uint(i)) {
			if len(buf) < done+HASHSIZE {
				return invalid("truncated trace")
			}
			p.trace[i] = append([]byte{}, buf[done:done+HASHSIZE]...)
			done += HASHSIZE
		} else {
			p.trace[i] = zerosHash[:] // if any bit is not set, use zerohash
		}
	}

	switch p.ptype {
	case collision:
		keylength, keylengthsize := binary.Uvarint(buf[done:])
		if keylengthsize <= 0 || keylength > MAX_KEYSIZE || uint64(len(buf)-done-keylengthsize) < keylength+HASHSIZE {
			return invalid("invalid collision")
		}
		done += keylengthsize
		p.ckey = append([]byte{}, buf[done:done+int(keylength)]...)
		done += int(keylength)
		p.cval = append([]byte{}, buf[done:done+HASHSIZE]...)
		done += HASHSIZE
	case member:
		valuelength, valuelengthsize := binary.Uvarint(buf[done:])
		if valuelengthsize <= 0 || uint64(len(buf)-done-valuelengthsize) < valuelength {
			return invalid("invalid value")
		}
		done += valuelengthsize
		p.value = append([]byte{}, buf[done:done+int(valuelength)]...)
		done += int(valuelength)
	case deadend:
	default:
		return invalid("unknown proof type")
	}
	if done != len(buf) {
		return invalid("trailing bytes")
	}
	if !bytes.Equal(p.Marshal(), buf) { // zero hashes marked present, overlong varints
		return invalid("non canonical encoding")
	}
	return nil
}
