// Package transaction applies a list of operations as one atomic unit.
//
// A Transaction moves through Started, Prepared, Committed and Verified.
// RolledBack is reachable from every non-terminal state, either because
// Commit hit a failing operation or because the caller asked for it.
// Verified and RolledBack are terminal. Calling a method from the wrong
// state returns a *StateError, which is a programming error and distinct
// from the operational errors in pkg/errors.
//
// Operations run strictly one at a time, in the order they were added.
// Before each one runs, whatever is needed to undo it is captured into its
// OperationResult, and rollback walks the successful results in reverse.
//
// Typical use:
//
//	tx, err := transaction.Begin(ctx, opts)
//	if err != nil {
//		return err
//	}
//	defer tx.Cleanup()
//	for _, op := range diff.Operations() {
//		_ = tx.AddOperation(op)
//	}
//	if err := tx.Validate(ctx); err != nil {
//		return err
//	}
//	if err := tx.Prepare(ctx); err != nil {
//		return err
//	}
//	if err := tx.Commit(ctx); err != nil {
//		return err
//	}
//	return tx.Verify(ctx)
package transaction
