package domain

import "strings"

// DerivedSuffix is appended to a document path to name its derived representation.
const DerivedSuffix = ".vec.json"

// Document is a file in an account's upload folder.
type Document struct {
	Name string
	Path string
}

// Derived reports whether the document is a derived representation.
func (d Document) Derived() bool {
	return strings.HasSuffix(d.Name, DerivedSuffix)
}

// DerivedPath returns the sibling path holding the derived representation of path.
func DerivedPath(path string) string {
	return path + DerivedSuffix
}
