package config

import "runtime"

// exeName returns the platform-specific executable filename.
func exeName(base string) string {
	if runtime.GOOS == "windows" {
		return base + ".exe"
	}

	return base
}
