//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"fmt"
	"os"
	"os/user"
)

// Actor identifies who is running the installer on which machine.
// It is logged at the start of every run so the transcript is attributable.
type Actor struct {
	// Hostname is the local machine name.
	Hostname string
	// Username is the OS account running the installer.
	Username string
}

// DetectActor gathers host and user information for the run log.
func DetectActor() (*Actor, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("hostname: %w", err)
	}

	currentUser, err := user.Current()
	if err != nil {
		return nil, fmt.Errorf("current user: %w", err)
	}

	return &Actor{
		Hostname: hostname,
		Username: currentUser.Username,
	}, nil
}
