/*
Package engine implements the merge decision engine: the only place where
values from two different nodes are combined. Abelian updates carry the
operation delta and fold into the cell unconditionally; the propagation
layer admits each origin event exactly once, and addition and
multiplication commute, so every contribution counts exactly once on
every replica. Semilattice and generic updates carry the committed cell
value; the engine classifies their clock relation to the locally held
cell state as older, newer or concurrent, discards stale updates, adopts
dominating ones, and merges concurrent semilattice ones through the
algebraic rules. Concurrent writes without an algebraic guarantee are
surfaced as structured conflict records to a caller-supplied sink and
never resolved by guessing.

Cell state is guarded by one exclusion region per cell; commits and incoming
merges against different cells proceed in parallel without shared locks.
*/
package engine
