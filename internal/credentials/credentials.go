// Package credentials locates the host-side agent credentials that session
// containers receive as a read-only bind mount. Refreshing the credentials
// is an external concern; this package only discovers them.
package credentials

import (
	"os"
	"path/filepath"
)

const credentialsFile = ".credentials.json"

// Info describes the discovered credential store.
type Info struct {
	// Dir is the claude config directory on the host.
	Dir string
	// FilePath is the credentials file inside Dir.
	FilePath string
}

// Discover returns the credentials file location, preferring $CLAUDE_HOME
// over $HOME/.claude. The second return is false when no credentials file
// exists, in which case sessions start without the bind mount.
func Discover() (Info, bool) {
	dir := os.Getenv("CLAUDE_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Info{}, false
		}
		dir = filepath.Join(home, ".claude")
	}

	path := filepath.Join(dir, credentialsFile)
	if _, err := os.Stat(path); err != nil {
		return Info{}, false
	}
	return Info{Dir: dir, FilePath: path}, true
}
