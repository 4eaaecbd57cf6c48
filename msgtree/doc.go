// Package msgtree aggregates per-key output lines so that keys producing
// identical line sequences share storage instead of being stored once per
// key. It underlies a Task's stdout/stderr buffers: walking the tree
// rebuilds each distinct equivalence class's lines once, not once per key.
package msgtree
