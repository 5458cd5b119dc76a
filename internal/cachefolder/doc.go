// Package cachefolder assigns each collection deterministically to one
// cache root and derives artifact paths under it.
//
// The assignment hashes the collection id as a string and reduces it
// modulo the number of active folders, taken in id order. Hashing the
// id string rather than any raw numeric value keeps the distribution
// even; id-ordering keeps the assignment stable across restarts and
// across whatever order the store returns folders in.
package cachefolder
