// Package filesystem wraps file operations with retry logic for NFS
// stale file handle errors. Media libraries commonly live on network
// mounts, where a rename or re-export on the server briefly invalidates
// open handles; a short retry rides that out.
package filesystem
