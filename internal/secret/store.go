package secret

import "os"

// SecretStore keeps credentials out of the AppData cache and config file:
// the remote database password and the invite signing key.
type SecretStore interface {
	// Set stores a secret value under the given key.
	Set(key string, value []byte) error

	// Get retrieves the secret value for the given key.
	// Returns empty slice and nil error if key does not exist.
	Get(key string) ([]byte, error)

	// Delete removes the secret for the given key.
	Delete(key string) error
}

const (
	KeyInviteSigning = "invite-signing-key"
	KeyRemotePass    = "remote-password"
)

// Default picks the keychain on macOS and environment variables elsewhere.
func Default(goos string) SecretStore {
	if goos == "darwin" {
		return NewKeychainStore()
	}
	return NewEnvStore(os.Getenv)
}
