// Package paths converts user and API supplied strings into the directory
// keys used as storage prefixes.
//
// A directory key is either "" (the root) or a string ending in exactly one
// "/" with no leading "/" or "./".
package paths

import (
	"regexp"
	"strings"
)

// validKey mirrors the characters object stores accept without special
// handling: word characters, "/" and ! - . * ' ( ) space & $ @ = ; : + , ?
var validKey = regexp.MustCompile(`^[\w/!\-.*'() &$@=;:+,?]*$`)

// Normalize returns the directory key for raw. If the last segment looks like
// a file name (contains a "."), it is dropped, so a file path yields the
// directory holding it. "/" and "./" both normalize to the root "".
func Normalize(raw string) string {
	segments := strings.Split(raw, "/")
	if strings.Contains(segments[len(segments)-1], ".") {
		segments = segments[:len(segments)-1]
	}

	p := strings.Join(segments, "/")
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}

	// A single pass strips one "/" and then one "./". Repeating until neither
	// prefix remains keeps inputs like "//a" and "././a" idempotent.
	for {
		switch {
		case strings.HasPrefix(p, "/"):
			p = p[1:]
		case strings.HasPrefix(p, "./"):
			p = p[2:]
		default:
			return p
		}
	}
}

// ValidKey reports whether key only uses characters the backend accepts.
func ValidKey(key string) bool {
	return validKey.MatchString(key)
}

// Join appends name to an already normalized directory key.
func Join(dir, name string) string {
	return dir + strings.TrimPrefix(name, "/")
}

// Parent returns the directory key of an object key.
func Parent(key string) string {
	i := strings.LastIndex(key, "/")
	if i < 0 {
		return ""
	}
	return Normalize(key[:i+1])
}

// Up returns the parent of a directory key. The root is its own parent.
func Up(dir string) string {
	trimmed := strings.TrimSuffix(dir, "/")
	if trimmed == "" {
		return ""
	}
	return Parent(trimmed)
}

// Segments splits a directory key into its folder names, for breadcrumbs.
func Segments(dir string) []string {
	trimmed := strings.TrimSuffix(dir, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
