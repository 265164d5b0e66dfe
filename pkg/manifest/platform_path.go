package manifest

import (
	"fmt"
	"runtime"
)

// PlatformPath is either one path for every OS or a windows/unix pair.
// Exactly one of the two representations is populated.
type PlatformPath struct {
	single  string
	windows string
	unix    string
}

// NewPlatformPath builds a path shared by all platforms
func NewPlatformPath(path string) PlatformPath {
	return PlatformPath{single: path}
}

// NewPlatformPathPair builds an OS-specific path pair
func NewPlatformPathPair(windows, unix string) PlatformPath {
	return PlatformPath{windows: windows, unix: unix}
}

// IsZero reports whether neither representation is set
func (p PlatformPath) IsZero() bool {
	return p.single == "" && p.windows == "" && p.unix == ""
}

// IsPair reports whether the OS-specific representation is populated
func (p PlatformPath) IsPair() bool {
	return p.single == "" && (p.windows != "" || p.unix != "")
}

// Resolve returns the variant for goos
func (p PlatformPath) Resolve(goos string) string {
	if p.single != "" {
		return p.single
	}
	if goos == "windows" {
		return p.windows
	}
	return p.unix
}

// Host returns the variant for the running OS
func (p PlatformPath) Host() string {
	return p.Resolve(runtime.GOOS)
}

func (p PlatformPath) String() string {
	if p.IsPair() {
		return fmt.Sprintf("{windows: %q, unix: %q}", p.windows, p.unix)
	}
	return p.single
}

// platformPathFromTOML accepts a plain string or a { windows, unix } table
func platformPathFromTOML(v interface{}) (PlatformPath, error) {
	switch x := v.(type) {
	case nil:
		return PlatformPath{}, nil
	case string:
		return NewPlatformPath(x), nil
	case map[string]interface{}:
		var pair [2]string
		for key, value := range x {
			s, ok := value.(string)
			if !ok {
				return PlatformPath{}, fmt.Errorf("platform path %q must be a string", key)
			}
			switch key {
			case "windows":
				pair[0] = s
			case "unix":
				pair[1] = s
			default:
				return PlatformPath{}, fmt.Errorf("unknown platform path key %q (expected windows or unix)", key)
			}
		}
		if pair[0] == "" || pair[1] == "" {
			return PlatformPath{}, fmt.Errorf("platform path table needs both windows and unix")
		}
		return NewPlatformPathPair(pair[0], pair[1]), nil
	default:
		return PlatformPath{}, fmt.Errorf("platform path must be a string or a table, got %T", v)
	}
}
