// Package errors provides the error taxonomy for the connector.
//
// Errors fall into three classes:
//
//   - Transient: the sink rejected a batch, a dependency is unreachable, the
//     metrics sink or notifier timed out. A later attempt may succeed, so the
//     batch stays on disk and the loop tries again on its next tick.
//   - Invalid: a failed-batch file cannot be parsed. It is counted as a
//     failure for that file only and is not retried automatically.
//   - Fatal: configuration or startup failures. These are the only errors
//     allowed to terminate the process.
//
// Wrapping follows the pattern "component.method: action failed: %w":
//
//	if err := os.Rename(src, dst); err != nil {
//	    return errors.WrapTransient(err, "Store", "Archive", "rename batch file")
//	}
//
// Classification works through errors.Is and errors.As, so sentinels survive
// any number of fmt.Errorf("%w") layers:
//
//	if errors.IsInvalid(err) {
//	    logger.Warn("skipping corrupt batch", "batch_id", id, "error", err)
//	}
package errors
