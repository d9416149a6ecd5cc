package container

import "strings"

// TranslateHostPath converts a Windows drive path into its mount point under
// prefix on the daemon host: with prefix /mnt, C:\x\y becomes /mnt/c/x/y.
// Paths that do not start with a drive letter, or an empty prefix, pass
// through unchanged.
func TranslateHostPath(prefix, path string) string {
	if prefix == "" || len(path) < 2 || path[1] != ':' {
		return path
	}
	drive := path[0]
	switch {
	case drive >= 'A' && drive <= 'Z':
		drive += 'a' - 'A'
	case drive >= 'a' && drive <= 'z':
	default:
		return path
	}

	rest := strings.ReplaceAll(path[2:], `\`, "/")
	rest = strings.TrimPrefix(rest, "/")
	out := strings.TrimSuffix(prefix, "/") + "/" + string(drive)
	if rest != "" {
		out += "/" + rest
	}
	return out
}
