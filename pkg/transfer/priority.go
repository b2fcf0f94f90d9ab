package transfer

import "strings"

var executableExtensions = map[string]bool{
	".exe": true, ".bin": true, ".sh": true, ".bat": true, ".com": true, ".msi": true, ".run": true,
}

var textExtensions = map[string]bool{
	".txt": true, ".md": true, ".csv": true, ".json": true, ".yaml": true, ".yml": true,
	".log": true, ".xml": true, ".html": true, ".ini": true, ".conf": true,
}

// derivePriority implements spec.md §4.J "priority derived from metadata;
// explicit priority property dominates; otherwise heuristics: executables
// +1, text -1". The base priority is 128.
func derivePriority(path string, metadata map[string]interface{}) byte {
	if metadata != nil {
		if raw, ok := metadata["priority"]; ok {
			if p, ok := toPriority(raw); ok {
				return p
			}
		}
	}

	const defaultPriority = 128
	base := defaultPriority
	ext := extensionOf(path)
	switch {
	case executableExtensions[ext]:
		base++
	case textExtensions[ext]:
		base--
	}
	return clampPriority(base)
}

func toPriority(v interface{}) (byte, bool) {
	switch n := v.(type) {
	case byte:
		return n, true
	case int:
		return clampPriority(n), true
	case int64:
		return clampPriority(int(n)), true
	case float64:
		return clampPriority(int(n)), true
	default:
		return 0, false
	}
}

func clampPriority(n int) byte {
	if n < 0 {
		return 0
	}
	if n > 255 {
		return 255
	}
	return byte(n)
}

func extensionOf(path string) string {
	idx := strings.LastIndexByte(path, '.')
	if idx < 0 {
		return ""
	}
	return strings.ToLower(path[idx:])
}
