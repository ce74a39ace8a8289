package service

import "strings"

// NormalizePath validates a page path and strips surrounding slashes.
// Paths may not contain dots, spaces, backslashes or empty segments.
func NormalizePath(path string) (string, error) {
	if strings.Contains(path, ".") || strings.Contains(path, " ") ||
		strings.Contains(path, `\`) || strings.Contains(path, "//") {
		return "", ErrPageIllegalPath
	}
	path = strings.Trim(path, "/")
	if path == "" {
		return "", ErrPageIllegalPath
	}
	return path, nil
}

// NormalizeFolderPath validates a manual folder path. Folder input arrives
// from pickers that may use backslashes, so those are folded to slashes
// before the per-segment checks.
func NormalizeFolderPath(path string) (string, error) {
	path = strings.ReplaceAll(path, `\`, "/")
	segments := make([]string, 0, 4)
	for _, segment := range strings.Split(strings.Trim(path, "/"), "/") {
		if segment == "" {
			continue
		}
		if strings.Contains(segment, ".") || strings.Contains(segment, " ") {
			return "", ErrPageIllegalPath
		}
		segments = append(segments, segment)
	}
	if len(segments) == 0 {
		return "", ErrPageIllegalPath
	}
	return strings.Join(segments, "/"), nil
}
