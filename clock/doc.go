/*
Package clock implements the per-node vector clocks upon that the causal
ordering guarantees of lattice are built.

CAUTION! Access to the functions this package provides is expected to be
synchronized explicitly by some outside measures, e.g. by wrapping calls to
this package with a mutex lock if concurrent access is possible. This package
does not(!) synchronize access by itself.

A clock maps node names to event counters. A node only ever advances its own
entry via Tick; entries of other nodes are raised exclusively via Fold with a
received clock and never decremented. Compare yields the happened-before
partial order between two clocks: an event a causally precedes an event b if
and only if the clock taken at a compares as OrderBefore against the clock
taken at b.
*/
package clock
