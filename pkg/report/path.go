package report

import (
	"strconv"
	"strings"
)

// RootPath is the step path of a scenario's root step.
const RootPath = "0"

// ChildPath returns the path of the i-th child of parent.
func ChildPath(parent string, i int) string {
	return parent + "/" + strconv.Itoa(i)
}

// SplitPath returns the parent path and child index of path.
// ok is false for the root and for malformed paths.
func SplitPath(path string) (parent string, index int, ok bool) {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return "", 0, false
	}
	n, err := strconv.Atoi(path[i+1:])
	if err != nil || n < 0 {
		return "", 0, false
	}
	return path[:i], n, true
}

// Depth returns the nesting level of path; the root is at depth 0.
func Depth(path string) int {
	return strings.Count(path, "/")
}
