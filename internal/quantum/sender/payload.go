package sender

import (
	"fmt"
	"os"
	"strings"
)

// LoadPayload reads the file to transfer, trying explicit (if non-empty)
// first, then the TEST_FILE and PAYLOAD_FILE environment variables, then the
// fixed fallback locations "/hdd/file.zip" and "file.zip" — the same
// candidate order and fallback paths the reference sender searches. Returns
// ErrPayloadNotFound listing every location tried if none exist.
func LoadPayload(explicit string) ([]byte, string, error) {
	candidates := []string{
		explicit,
		os.Getenv("TEST_FILE"),
		os.Getenv("PAYLOAD_FILE"),
		"/hdd/file.zip",
		"file.zip",
	}

	var tried []string
	for _, path := range candidates {
		if path == "" {
			continue
		}
		expanded, err := expandHome(path)
		if err != nil {
			return nil, "", fmt.Errorf("sender: expand path %q: %w", path, err)
		}
		tried = append(tried, expanded)

		data, err := os.ReadFile(expanded)
		if err == nil {
			return data, expanded, nil
		}
		if !os.IsNotExist(err) {
			return nil, "", fmt.Errorf("sender: read payload %q: %w", expanded, err)
		}
	}

	return nil, "", fmt.Errorf("%w (tried: %s)", ErrPayloadNotFound, strings.Join(tried, ", "))
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	if path == "~" {
		return home, nil
	}
	return home + path[1:], nil
}
