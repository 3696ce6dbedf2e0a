// Package handler exposes the topology monitor over HTTP.
//
// REST endpoints serve reads from the lock-free snapshot and route writes
// through the monitor's event loop; /ws upgrades to the live event stream.
// Middleware provides request logging, panic recovery, and CORS support.
package handler
