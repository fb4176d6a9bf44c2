package utils

// SchemaVersion identifies the CLI output envelope format
const SchemaVersion = "1.0"

// Process exit codes
const (
	ExitOK         = 0
	ExitUnknown    = 1
	ExitUsage      = 2
	ExitConfig     = 3
	ExitCredential = 4
	ExitConnector  = 5
)

// ExitCodeFor maps an error code to a process exit code
func ExitCodeFor(code string) int {
	switch code {
	case "":
		return ExitOK
	case ErrCodeConfigInvalid, ErrCodeProviderUnknown:
		return ExitConfig
	case ErrCodeCredentialMissing, ErrCodeCredentialExpired, ErrCodeCredentialUnreadable:
		return ExitCredential
	case ErrCodeConnectorAuth, ErrCodeConnectorRemote, ErrCodeConnectorNetwork, ErrCodeRateLimited:
		return ExitConnector
	default:
		return ExitUnknown
	}
}
