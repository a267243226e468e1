package grove

import "hash"

//import "crypto/sha256"
import "golang.org/x/crypto/blake2s"

var zerosHash, zeros [HASHSIZE]byte // all empty nodes have this hash

func hasher() hash.Hash {
	//return sha256.New()
	h, _ := blake2s.New256(nil)
	return h
}

func sum(key []byte) (keyhash [HASHSIZE]byte) {
	return blake2s.Sum256(key)
}

// Sum exposes the store hash function, so callers can compare digests.
func Sum(data []byte) [HASHSIZE]byte {
	return sum(data)
}

func init() {
	h := hasher()
	h.Write([]byte{leafNODE})
	h.Write(zeros[:])
	tmp := zerosHash[:0]
	h.Sum(tmp)
}

// root hash of a subtree without any keys
var emptyRootHash [HASHSIZE]byte

func init() {
	h := hasher()
	h.Write([]byte{innerNODE})
	h.Write(zerosHash[:])
	h.Write(zerosHash[:])
	h.Sum(emptyRootHash[:0])
}
