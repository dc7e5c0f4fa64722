package enums

import "fmt"

// Library is the top-level namespace a media item belongs to.
type Library string

const (
	LibraryGlobal Library = "global"
	LibraryUser   Library = "user"
	LibraryWeb    Library = "web"
)

var validLibraries = []Library{
	LibraryGlobal,
	LibraryUser,
	LibraryWeb,
}

// String returns the literal string for the library.
func (l Library) String() string {
	return string(l)
}

// IsValid reports whether the library is known.
func (l Library) IsValid() bool {
	for _, candidate := range validLibraries {
		if candidate == l {
			return true
		}
	}
	return false
}

// ParseLibrary converts raw input into a Library.
func ParseLibrary(value string) (Library, error) {
	for _, candidate := range validLibraries {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid library %q", value)
}
