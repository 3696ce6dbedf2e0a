// Package service orchestrates the topology monitor.
//
// One goroutine, started by Monitor.Run, is the single logical writer: it
// owns the canonical snapshot, the removal coalescer, the learning session
// and the annotation caches. It drains four inputs in one select loop:
// enumeration change hints (rescan), kernel log errors (annotate), the
// pending-removal flush timer, and control requests submitted through do().
//
// Reads never touch the loop: the current snapshot lives behind an atomic
// pointer and is immutable, so HTTP handlers serve from it lock-free while
// the loop prepares the next one.
package service
