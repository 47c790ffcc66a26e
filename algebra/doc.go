/*
Package algebra implements the closed set of operation kinds with declared
algebraic properties and the deterministic merge rules between values of
those kinds.

Kinds fall into three families. The semilattice family (Max, Min, SetUnion,
SetIntersect) is commutative, associative and idempotent. The Abelian family
(Sum, Product) is commutative, associative and invertible with an identity
element. The generic family (Overwrite, CondOverwrite) together with the
conservative Unknown default carries no algebraic guarantee, so concurrent
writes of these kinds always surface as a conflict.

The kind-to-rule mapping is an exhaustive match over the closed kind set on
purpose. Adding a kind requires a code change here together with an explicit
argument for its algebraic properties; there is no open plugin registry.

Integer Sum and Product use overflow-checked arithmetic and report a
distinguishable Overflow outcome instead of wrapping. Floating-point Sum and
Product are only approximately associative; exact order-independence is
guaranteed for integer and set-valued kinds only.
*/
package algebra
