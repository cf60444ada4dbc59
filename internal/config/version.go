package config

import (
	"os"
	"strings"
)

// ResolveVersion expands ${name} and $name references in a project version.
// Names are looked up in vars first, so that build inputs such as
// "git.commit" can be referenced, and then in the environment.
func ResolveVersion(version string, vars map[string]string) string {
	if version == "" || !strings.Contains(version, "$") {
		return version
	}

	return os.Expand(version, func(name string) string {
		if v, ok := vars[name]; ok {
			return v
		}
		return os.Getenv(name)
	})
}
