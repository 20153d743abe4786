// Package harness provides conformance testing for the coedit engine.
//
// The harness loads YAML scenarios, drives a real engine in a temporary
// workspace, records every event each client receives, and validates
// assertions against the recorded traces and the final state.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: two-client-lww
//	timing: { contentDebounceMs: 40, renderIntervalMs: 120 }
//	documents:
//	  - path: docs/guide.md
//	    content: "hello\n"
//	clients: [alice, bob]
//	steps:
//	  - { client: alice, op: open, path: docs/guide.md, await: { kind: presence } }
//	  - { client: alice, op: edit, content: "Hello\n" }
//	  - { op: await, client: alice, kind: text-diff }
//	expect:
//	  - { type: event_count, client: alice, kind: text-diff, count: 2 }
//	  - { type: final_content, path: docs/guide.md, equals: "Hello\n" }
//	golden: true
//
// # Step Operations
//
// The following operations are supported:
//
//   - open: attach a client to a document (path required)
//   - edit: replace the client's live content
//   - cursor: report a cursor position
//   - ping: refresh the client's heartbeat
//   - save: flush the document (expectFlushed checks the return)
//   - close: detach the client deliberately
//   - kill: drop the client's transport without detaching, leaving it
//     to the stale sweep
//   - await: block until the client receives a matching event
//   - settle: sleep for a fixed window (for absence assertions)
//   - external-write / external-remove: mutate the file on disk behind
//     the engine's back
//
// Any step may carry an inline await that runs after the operation. An
// await scans the client's stream from a per-client barrier and, on a
// match, consumes everything up to and including the matched event.
// Sequential awaits for the same kind therefore match distinct events,
// and a `contains` filter skips past earlier events of the same kind.
//
// # Assertion Types
//
//   - event_contains: the client received a matching event
//   - event_order: kinds first appear in the given order
//   - event_count: exact number of matching events
//   - final_content: document content at the end of the run, read from
//     disk after the shutdown flush (or a client's reconstructed copy
//     when `client` is set)
//   - final_state: fields of a session still open when the steps
//     finished (content, dirty, participants)
//
// # Determinism
//
// Every scenario runs a fresh engine against an isolated temp
// workspace with an in-memory journal and a fast file poller. Client
// ids are the scenario's client names, event order per client is the
// delivery order, and keepalive frames are excluded from traces, so a
// scenario that brackets its timing-dependent steps with awaits
// produces identical traces across runs. Those traces back the golden
// snapshots in testdata/golden.
//
// # Usage
//
// Load and run a scenario:
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/two-client-lww.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
//
// RunDir executes a whole directory of scenarios; the coedit CLI's
// `test` command is a thin wrapper around it.
package harness
