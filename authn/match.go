package authn

import "strings"

// MatchPath reports whether path matches a glob-style pattern. A `*` matches
// within a single path segment, `**` matches any number of segments,
// including none: `/api/public/**` covers both `/api/public` and
// `/api/public/a/b`.
func MatchPath(pattern, path string) bool {
	return matchSegments(splitPath(pattern), splitPath(path))
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func matchSegments(pattern, path []string) bool {
	if len(pattern) == 0 {
		return len(path) == 0
	}
	head, rest := pattern[0], pattern[1:]
	if head == "**" {
		for i := 0; i <= len(path); i++ {
			if matchSegments(rest, path[i:]) {
				return true
			}
		}
		return false
	}
	if len(path) == 0 {
		return false
	}
	if !matchSegment(head, path[0]) {
		return false
	}
	return matchSegments(rest, path[1:])
}

func matchSegment(pattern, segment string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return pattern == segment
	}
	parts := strings.Split(pattern, "*")
	if !strings.HasPrefix(segment, parts[0]) {
		return false
	}
	segment = segment[len(parts[0]):]
	for i := 1; i < len(parts)-1; i++ {
		idx := strings.Index(segment, parts[i])
		if idx < 0 {
			return false
		}
		segment = segment[idx+len(parts[i]):]
	}
	last := parts[len(parts)-1]
	return strings.HasSuffix(segment, last)
}
