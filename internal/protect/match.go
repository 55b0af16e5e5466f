package protect

import (
	"path"
	"strings"
)

// matchKey matches a resource key against a glob pattern.
// "**" spans any number of segments; other segments use path.Match syntax.
// A pattern without a slash matches the key's last segment, so "go.mod"
// protects every go.mod in the tree.
func matchKey(key, pattern string) bool {
	key = strings.Trim(key, "/")
	pattern = strings.Trim(pattern, "/")
	if !strings.Contains(pattern, "/") {
		ok, _ := path.Match(pattern, path.Base(key))
		return ok
	}
	return matchSegments(strings.Split(key, "/"), strings.Split(pattern, "/"))
}

func matchSegments(key, pattern []string) bool {
	if len(pattern) == 0 {
		return len(key) == 0
	}
	head, rest := pattern[0], pattern[1:]
	if head == "**" {
		if len(rest) == 0 {
			return true
		}
		for i := 0; i <= len(key); i++ {
			if matchSegments(key[i:], rest) {
				return true
			}
		}
		return false
	}
	if len(key) == 0 {
		return false
	}
	if ok, err := path.Match(head, key[0]); err != nil || !ok {
		return false
	}
	return matchSegments(key[1:], rest)
}
