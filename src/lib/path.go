package lib

import (
	"fmt"
	"os"
	"strings"
)

// FormatPath normalizes a working-directory path from a session spec. An
// empty path stays empty (the child inherits the server's cwd).
func FormatPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}

	// Handle home directory expansion
	if strings.HasPrefix(path, "~") {
		if os.Getenv("HOME") == "" {
			return "", fmt.Errorf("home directory not found")
		}
		path = os.Getenv("HOME") + path[1:]
	}

	// Clean up double slashes
	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}

	return path, nil
}
