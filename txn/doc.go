/*
Package txn models write operations, the transaction lifecycle and the
admission decision between coordination-free local commit and coordinated
commit.

A transaction is admitted for local commit if and only if every one of its
operations carries a conflict-free kind under the schema's classification.
Mixed transactions coordinate in full; partitioning them into an algebraic
part that commits locally and a generic part that coordinates is a known
future optimization and deliberately not implemented here.
*/
package txn
