// Package topology implements the device topology engine: assembling flat
// enumeration records into rooted trees, diffing successive snapshots into
// minimal event streams, coalescing transient remove/re-add flaps, proposing
// physical hub groups heuristically, and confirming them through the
// interactive learning session.
//
// All functions here are pure or single-owner state machines; the service
// layer serialises every call through one writer goroutine, so nothing in
// this package needs its own locking.
package topology
