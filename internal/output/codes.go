// Package output provides JSON/YAML/styled output formatting and error handling.
package output

// Exit codes returned by the tasknest binary.
const (
	ExitOK         = 0 // Success
	ExitUsage      = 1 // Invalid arguments or flags
	ExitNotFound   = 2 // Resource not found
	ExitAuth       = 3 // Not authenticated or session expired
	ExitForbidden  = 4 // Access denied
	ExitNetwork    = 6 // Connection/DNS/timeout error
	ExitAPI        = 7 // Server returned error
	ExitValidation = 9 // Server rejected the input
)

// Error codes for the JSON envelope.
const (
	CodeUsage       = "usage"
	CodeNotFound    = "not_found"
	CodeAuth        = "auth_required"
	CodeAuthExpired = "auth_expired"
	CodeForbidden   = "forbidden"
	CodeNetwork     = "network"
	CodeAPI         = "api_error"
	CodeValidation  = "validation"
)

// ExitCodeFor returns the exit code for a given error code.
func ExitCodeFor(code string) int {
	switch code {
	case CodeUsage:
		return ExitUsage
	case CodeNotFound:
		return ExitNotFound
	case CodeAuth, CodeAuthExpired:
		return ExitAuth
	case CodeForbidden:
		return ExitForbidden
	case CodeNetwork:
		return ExitNetwork
	case CodeValidation:
		return ExitValidation
	default:
		return ExitAPI
	}
}
