// Package cli provides the interactive notesync client.
//
// It wires configuration, the local store, the remote adapter, the sync
// engine, the realtime bridge and an interactive REPL. Notes stay usable
// offline: writes land locally and are replayed when the remote is back.
//
// Background loops (connectivity checks, queue draining, device heartbeat,
// the optional HTTP API) run in an errgroup next to the REPL; leaving the
// REPL stops all of them. See App.Run and runREPL.
package cli
