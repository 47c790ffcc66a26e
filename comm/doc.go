/*
Package comm implements the anti-entropy propagation layer between lattice
nodes. Locally committed updates are appended to a durable pending log and
drained in batches by a background sender, fully decoupled from the commit
path. The receiver persists incoming updates to its own log before applying
them, uses the node's vector clock to delay causally premature updates, and
purges duplicates without re-applying them. Delivery is at-least-once and
unordered across keys; per origin, updates are applied in causal order.
*/
package comm
