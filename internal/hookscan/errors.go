package hookscan

import "errors"

// Scan errors. Callers classify them with errors.Is.
var (
	// ErrInvalidTarget means the identifier is empty, escapes the content
	// root, or the kind is not plugin or theme.
	ErrInvalidTarget = errors.New("invalid scan target")

	// ErrCollection wraps ErrNotFound or ErrTraversal when planning fails.
	ErrCollection = errors.New("collecting files failed")

	// ErrNotFound means the scan root is neither a file nor a directory.
	ErrNotFound = errors.New("plugin/theme files not found")

	// ErrTraversal means the directory walk hit an I/O error or a symlink cycle.
	ErrTraversal = errors.New("traversing directory failed")

	// ErrUnknownScan means the plan for a scan id is missing or expired.
	ErrUnknownScan = errors.New("unknown or expired scan")

	// ErrInvalidBatchIndex means the requested batch is out of range or out
	// of order, or the stored plan metadata is incomplete.
	ErrInvalidBatchIndex = errors.New("invalid batch")

	// ErrPermissionDenied means the caller lacks the capability to scan.
	ErrPermissionDenied = errors.New("insufficient permissions")
)

// Reason returns a short metric/log label for err.
func Reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidTarget):
		return "invalid_target"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrTraversal):
		return "traversal"
	case errors.Is(err, ErrCollection):
		return "collection"
	case errors.Is(err, ErrUnknownScan):
		return "unknown_scan"
	case errors.Is(err, ErrInvalidBatchIndex):
		return "invalid_batch_index"
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	}
	return "internal"
}
