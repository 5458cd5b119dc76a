// Package workers sizes concurrency to the CPUs actually available,
// which in a container is the CPU limit rather than the host count.
package workers
