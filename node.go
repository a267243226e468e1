package grove

import "bytes"

const (
	nullNODE byte = iota
	innerNODE
	leafNODE
)

// we can get away with runtime type detection
func getNodeType(n node) byte {
	switch n.(type) {
	case nil:
		return nullNODE
	case *inner:
		return innerNODE
	case *leaf:
		return leafNODE
	default:
		panic("unknown type")
	}
}

type node interface {
	isDirty() bool
	load_partial(*Store) error
	Hash(*Store) ([]byte, error)
	Sum(*Store) (int64, error)
	Get(*Store, []byte) ([]byte, error)
	Delete(*Store, []byte) (bool, bool, error)
	Position() uint64
	Prove(*Store, []byte, *Proof) error
}

// these will enable processing of all bits collective from MSB to LSB
func setBit(buf []byte, index uint) {
	pos, bit := index/8, index%8
	buf[pos] = (buf[pos] | (1 << (8 - (bit + 1))))
}

func isBitSet(buf []byte, index uint) bool {
	pos, bit := index/8, index%8
	return (buf[pos] & (1 << (8 - (bit + 1)))) > 0
}

// keys are walked through a prefix free encoding, every byte is prefixed with a 1 bit
// and the key is terminated by a 0 bit. the encoding keeps lexicographic order, so an
// in order walk of the trie visits keys sorted.
func keyBit(key []byte, index uint) bool {
	pos, bit := index/9, index%9
	if pos >= uint(len(key)) {
		return false // terminator
	}
	if bit == 0 {
		return true
	}
	return (key[pos] & (1 << (8 - bit))) > 0
}

// number of bits in the encoded key
func keyBits(key []byte) uint {
	return uint(len(key))*9 + 1
}

// compares the encoded key against all encodings starting with prefix (one bit per byte)
// -1 key sorts before all of them, 0 key lives below prefix, 1 key sorts after all of them
func cmpPrefix(key []byte, prefix []byte) int {
	kbits := keyBits(key)
	for i := range prefix {
		if uint(i) >= kbits {
			return -1
		}
		kb := keyBit(key, uint(i))
		pb := prefix[i] != 0
		if kb != pb {
			if pb {
				return -1
			}
			return 1
		}
	}
	return 0
}

// packs a bit path (one bit per byte) to bytes
func packBits(bits []byte) []byte {
	buf := make([]byte, (len(bits)+7)/8)
	for i := range bits {
		if bits[i] != 0 {
			setBit(buf, uint(i))
		}
	}
	return buf
}

func unpackBits(buf []byte, count int) ([]byte, bool) {
	if (count+7)/8 != len(buf) {
		return nil, false
	}
	bits := make([]byte, count)
	for i := range bits {
		if isBitSet(buf, uint(i)) {
			bits[i] = 1
		}
	}
	return bits, true
}

func hasBytePrefix(key, prefix []byte) bool {
	return bytes.HasPrefix(key, prefix)
}
