// Package routing evaluates ordered routing rules over a session's declared
// attributes and produces the backend candidate chain for that session.
//
// Rules are held in an immutable Table; the Engine swaps whole tables
// atomically so concurrent sessions never see a partial update. A session
// snapshots the table once at open and routes against that snapshot for its
// whole lifetime. The optional Watcher reloads a rules file on change,
// keeping the previous table when the new one fails to parse or validate.
package routing
