package config

import "testing"

func TestResolveVersion(t *testing.T) {
	t.Setenv("BUILD_NUMBER", "42")

	tests := []struct {
		note    string
		version string
		vars    map[string]string
		want    string
	}{
		{note: "empty", version: "", want: ""},
		{note: "static", version: "1.2.3-alpha", want: "1.2.3-alpha"},
		{note: "env braces", version: "1.0.${BUILD_NUMBER}", want: "1.0.42"},
		{note: "env bare", version: "$BUILD_NUMBER", want: "42"},
		{note: "unset", version: "1.0${GWBUNDLE_UNSET_VAR}", want: "1.0"},
		{note: "vars first", version: "${BUILD_NUMBER}", vars: map[string]string{"BUILD_NUMBER": "7"}, want: "7"},
		{note: "dotted var", version: "1.0-${git.commit}", vars: map[string]string{"git.commit": "abc1234"}, want: "1.0-abc1234"},
	}

	for _, tc := range tests {
		t.Run(tc.note, func(t *testing.T) {
			if got := ResolveVersion(tc.version, tc.vars); got != tc.want {
				t.Errorf("ResolveVersion(%q) = %q, want %q", tc.version, got, tc.want)
			}
		})
	}
}
