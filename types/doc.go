// Package types defines the error model shared by the retrieval and
// generation packages.
//
// All cross-package failures are reported as *types.Error carrying a
// stable ErrorCode, so callers can branch on the failure class without
// string matching. Use the constructor helpers (NewNotFound, ...) rather
// than building Error values by hand.
package types
