package utils

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"k8s.io/klog/v2"
)

// Sentinel errors for mount run outcomes.
// Use errors.Is() to check for these rather than string matching.
var (
	// ErrSpawnFailed indicates the privileged process never started
	// (elevation denied, script or shell missing, exec unavailable)
	ErrSpawnFailed = errors.New("spawn failed")

	// ErrRunTimeout indicates the process was killed after the run timeout
	ErrRunTimeout = errors.New("run timed out")

	// ErrNonZeroExit indicates the mount script ran and reported failure
	ErrNonZeroExit = errors.New("non-zero exit")

	// ErrMountMissing indicates an expected mount point was absent after the run
	ErrMountMissing = errors.New("expected mount missing")

	// ErrStatusUpdate indicates the status indicator could not be posted
	ErrStatusUpdate = errors.New("status update failed")
)

// Regular expressions for sanitization
var (
	// Match IPv4 addresses (e.g., 192.168.1.1, 10.0.0.1)
	ipv4Pattern = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)

	// Match IPv6 addresses (basic pattern)
	ipv6Pattern = regexp.MustCompile(`\b(?:[0-9a-fA-F]{1,4}:){7}[0-9a-fA-F]{1,4}\b`)

	// Unix: starts with / and contains at least one more path component
	unixPathPattern = regexp.MustCompile(`/[a-zA-Z0-9_\-]+(?:/[a-zA-Z0-9_.\-]+)*`)

	// Match error messages with stack traces
	stackTracePattern = regexp.MustCompile(`\n\s+at\s+.*|goroutine\s+\d+.*`)

	whitespacePattern = regexp.MustCompile(`\s+`)
)

// SanitizeErrorMessage removes host details from a message before it is
// shown on the status indicator. Full errors still go to the log.
func SanitizeErrorMessage(msg string) string {
	msg = ipv4Pattern.ReplaceAllString(msg, "[IP-ADDRESS]")
	msg = ipv6Pattern.ReplaceAllString(msg, "[IP-ADDRESS]")

	// Remove stack traces before paths so goroutine dumps go away whole
	msg = stackTracePattern.ReplaceAllString(msg, "")

	msg = sanitizePaths(msg)

	msg = whitespacePattern.ReplaceAllString(msg, " ")
	return strings.TrimSpace(msg)
}

// sanitizePaths reduces absolute paths to their basename
func sanitizePaths(msg string) string {
	return unixPathPattern.ReplaceAllStringFunc(msg, func(path string) string {
		// Keep /dev/ and /proc/ paths, they are not host specific
		if strings.HasPrefix(path, "/dev/") || strings.HasPrefix(path, "/proc/") {
			return path
		}

		base := filepath.Base(path)
		if base != "." && base != "/" {
			return fmt.Sprintf("[PATH]/%s", base)
		}
		return "[PATH]"
	})
}

// GetSanitizedMessage extracts a sanitized message from any error
func GetSanitizedMessage(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeErrorMessage(err.Error())
}

// LogErrorDetails logs the unsanitized error at V(4). User-facing messages
// carry only the sanitized form.
func LogErrorDetails(op string, err error) {
	if err == nil {
		return
	}
	klog.V(4).Infof("%s error details: %v", op, err)
}
