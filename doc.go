/*
Grove in short is "a tree of authenticated trees".

Grove is a pure Go hierarchical key/value store. Every subtree is a binary Merkle trie and the root hash of each
subtree is stored, together with its element, in its parent. A single 32 byte root hash therefore authenticates the
complete store, and any query against any subtree can be proven to a client which only knows that hash.

	Grove is a key value store having
		1) cryptographically authenticated ( a single hash verifies every subtree and every value )
		2) append only
		3) versioning, every commit is a new version which can be visited later
		4) nested subtrees, sum trees which aggregate int64 values, references between elements
		5) transactions with optimistic conflict detection
		6) range queries with limits, offsets and proofs verifiable without the store
		7) state sync, a new store can be filled chunk by chunk from an untrusted peer

	Features

		* Authenticated data store ( all keys, values are backed by blake2s 256 bit checksum)
		* Elements are items, sum items, references, trees and sum trees
		* Paths address subtrees, each path segment is the key of a tree element in its parent
		* Versioning support ( all committed changes are versioned, old versions are found by number or root hash )
		* Transactions, isolated from other writers until commit, replayed on top of concurrent commits
		* Iteration and seeking in key order within a subtree, diff of 2 subtrees in linear time
		* Range queries and cryptographic proofs which prove presence and absence of keys in a range
		* Chunked state sync, every chunk is verified against the source root hash before it is applied
		* Disk based store on pebble, memory based store on goleveldb memdb

Eg. Minimal code, to write and read back a value (error checking is skipped)

	g, _ := Open("/tmp/grovedb")                                      // create a grove in "/tmp/grovedb"
	g.Insert(nil, []byte("root"), EmptyTree(), nil, nil)              // create the subtree "root"
	g.Insert(Path("root"), []byte("key"), NewItem([]byte("value")), nil, nil)
	e, _ := g.Get(Path("root"), []byte("key"), nil)
	value := e.Value()

Eg, Snapshots, see github.com/deroproject/grove/examples/snapshot_example/snapshot_example.go

Eg, Transactions, see github.com/deroproject/grove/examples/transaction_example/transaction_example.go

Eg, State sync, see github.com/deroproject/grove/examples/sync_example/sync_example.go
*/
package grove
