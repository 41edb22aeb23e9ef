// Package randid generates short random identifiers: connection IDs
// and the master replication ID. The reference source generates these
// with nanoid/rand (original_source/apps/redis-clone/src/connection.rs,
// src/utils/mod.rs); spec.md §1 lists random identifier generation as
// an out-of-scope external collaborator, so this package is
// deliberately minimal.
package randid

import (
	"crypto/rand"
)

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// String returns a random alphanumeric string of the given length.
func String(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(err) // crypto/rand is not expected to fail
	}
	out := make([]byte, length)
	for i, c := range b {
		out[i] = alphabet[int(c)%len(alphabet)]
	}
	return string(out)
}
