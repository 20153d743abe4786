// Package editor implements the live multi-user document editing engine.
//
// The engine owns the authoritative in-memory copy of every open document,
// tracks who is attached to each one, propagates changes to clients on two
// cadences, flushes dirty documents to disk, and reconciles external on-disk
// changes with live sessions.
//
// ARCHITECTURE:
//
// Actor Per Document:
// Every open path gets one session goroutine. All mutations of a session's
// state (edits, saves, joins, detaches, reconcile decisions) flow through
// that session's command queue and are applied by the loop in arrival
// order. This gives per-path serialization without a global lock: two
// documents never contend, and a slow disk write or render for one path
// cannot delay edits on another.
//
// Command Processing Flow:
//  1. Engine operations (Open, Edit, Save, Close, Snapshot) enqueue a
//     command carrying a reply channel.
//  2. The session loop drains its queue before honoring timers.
//  3. When the queue is empty the loop waits on the queue signal, the
//     content-debounce timer, and the render ticker.
//
// Two-Tier Propagation:
// The fast path broadcasts a compact edit script after ContentDebounce of
// quiet. The slow path re-renders on a fixed RenderInterval ticker, gated
// by a changed-since-last-render flag so idle documents cost two timer
// reads per interval and never touch the renderer.
//
// Shared State Boundaries:
// The presence hub and the sync dispatcher are mutex-guarded registries,
// not actors: presence counters and fan-out lists are cheap bookkeeping
// touched from many loops. Session content is never read or written
// outside its own loop.
//
// Saves always run to completion once started. A client disconnect cancels
// future event deliveries to that client, never an in-flight flush.
package editor
