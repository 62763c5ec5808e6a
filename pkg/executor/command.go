package executor

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const DefaultSudoPrefix = "sudo -n -H"

// ErrUnsafePath is returned for paths that cannot be placed in a remote
// command line unquoted.
var ErrUnsafePath = errors.New("path contains characters not allowed in a remote command")

var safePath = regexp.MustCompile(`^[A-Za-z0-9._/+@,:=-]+$`)

// CheckPath accepts paths made of letters, digits and ._/+@,:=- only, not
// starting with a dash. Such a path needs no quoting in a POSIX shell.
func CheckPath(p string) error {
	if !safePath.MatchString(p) || strings.HasPrefix(p, "-") {
		return fmt.Errorf("%w: %q", ErrUnsafePath, p)
	}
	return nil
}

// Elevate wraps command so that it runs under prefix (sudo by default)
// in a fresh shell, keeping compound commands like "cd x; rake y" intact.
func Elevate(prefix, command string) string {
	if strings.TrimSpace(prefix) == "" {
		prefix = DefaultSudoPrefix
	}
	return prefix + " sh -c " + Quote(command)
}

// Quote single-quotes s for a POSIX shell.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
