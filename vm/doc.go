// Package vm implements the Mote interpreter on top of a heap arena.
//
// This package contains:
//   - Tagged object headers with shape-derived child slots
//   - Value constructors for scalars, strings, arrays, lists, dicts, ranges
//   - The scope-stack Environment that supplies collection roots
//   - A four-state mark-and-sweep Collector
//   - A tree-walking interpreter with builtins and methods
//   - CBOR heap snapshots
//
// Every runtime value is a node in the interpreter's heap, addressed by a
// heap.Ref. Collection runs only at safe points: statement boundaries
// outside any function call, where every live value is reachable from a
// binding.
package vm
