package fs

import (
	"io/fs"
	"testing"
	"testing/fstest"

	"github.com/google/go-cmp/cmp"
)

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"config/policies.yml":        {Data: []byte("a: {}")},
		"config/policies.yml.bak":    {Data: []byte("old")},
		"src/api/orders.xml":         {Data: []byte("<wsp:Policy/>")},
		"src/api/notes.txt":          {Data: []byte("notes")},
		"src/api/v2/orders.xml":      {Data: []byte("<wsp:Policy/>")},
		"config/privateKeys/ssl.p12": {Data: []byte{0x30, 0x82}},
	}
}

func walk(t *testing.T, fsys fs.FS) []string {
	t.Helper()
	var files []string
	if err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, p)
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	return files
}

func TestFilterFS(t *testing.T) {
	cases := []struct {
		note     string
		included []string
		excluded []string
		exp      []string
	}{
		{
			note: "no patterns",
			exp: []string{
				"config/policies.yml",
				"config/policies.yml.bak",
				"config/privateKeys/ssl.p12",
				"src/api/notes.txt",
				"src/api/orders.xml",
				"src/api/v2/orders.xml",
			},
		},
		{
			note:     "exclude",
			excluded: []string{"**.bak", "**.txt"},
			exp: []string{
				"config/policies.yml",
				"config/privateKeys/ssl.p12",
				"src/api/orders.xml",
				"src/api/v2/orders.xml",
			},
		},
		{
			note:     "include one directory level",
			included: []string{"src/api/*.xml"},
			exp:      []string{"src/api/orders.xml"},
		},
		{
			note:     "include and exclude",
			included: []string{"src/**"},
			excluded: []string{"src/api/v2/**"},
			exp:      []string{"src/api/notes.txt", "src/api/orders.xml"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.note, func(t *testing.T) {
			f, err := NewFilterFS(testFS(), tc.included, tc.excluded)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tc.exp, walk(t, f)); diff != "" {
				t.Errorf("files (-want,+got):\n%s", diff)
			}
		})
	}
}

func TestFilterFSHidesExcluded(t *testing.T) {
	f, err := NewFilterFS(testFS(), nil, []string{"**.bak"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fs.ReadFile(f, "config/policies.yml.bak"); err == nil {
		t.Fatal("expected excluded file to be hidden from ReadFile")
	}
	if _, err := f.Open("config/policies.yml.bak"); err == nil {
		t.Fatal("expected excluded file to be hidden from Open")
	}
	if _, err := fs.Stat(f, "config/policies.yml.bak"); err == nil {
		t.Fatal("expected excluded file to be hidden from Stat")
	}
	if _, err := fs.ReadFile(f, "config/policies.yml"); err != nil {
		t.Fatalf("expected visible file: %v", err)
	}
}

func TestFilterFSBadPattern(t *testing.T) {
	if _, err := NewFilterFS(testFS(), []string{"[a-"}, nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestCompilePattern(t *testing.T) {
	tests := []struct {
		note    string
		pattern string
		name    string
		match   bool
	}{
		{note: "star in directory", pattern: "src/*.xml", name: "src/orders.xml", match: true},
		{note: "star stops at separator", pattern: "src/*.xml", name: "src/api/orders.xml"},
		{note: "double star crosses separators", pattern: "src/**.xml", name: "src/api/v2/orders.xml", match: true},
		{note: "question mark stops at separator", pattern: "src?api/*.xml", name: "src/api/orders.xml"},
	}
	for _, tc := range tests {
		t.Run(tc.note, func(t *testing.T) {
			g, err := CompilePattern(tc.pattern)
			if err != nil {
				t.Fatal(err)
			}
			if got := g.Match(tc.name); got != tc.match {
				t.Fatalf("%q matching %q: got %v, want %v", tc.pattern, tc.name, got, tc.match)
			}
		})
	}
}

func TestContainsFiles(t *testing.T) {
	ok, err := ContainsFiles(testFS())
	if err != nil || !ok {
		t.Fatalf("expected files, got %v %v", ok, err)
	}

	ok, err = ContainsFiles(fstest.MapFS{"empty": {Mode: fs.ModeDir}})
	if err != nil || ok {
		t.Fatalf("expected no files, got %v %v", ok, err)
	}

	f, err := NewFilterFS(testFS(), []string{"*.json"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if ok, err := ContainsFiles(f); err != nil || ok {
		t.Fatalf("expected filtered fs without files, got %v %v", ok, err)
	}
}

func TestEscapeName(t *testing.T) {
	cases := []struct {
		note string
		name string
		exp  string
	}{
		{note: "plain", name: "orders", exp: "orders"},
		{note: "slash", name: "a/b", exp: "a%2Fb"},
		{note: "reserved", name: "50% off: now?", exp: "50%25 off%3A now%3F"},
		{note: "escaped input", name: "%2F", exp: "%252F"},
	}
	for _, tc := range cases {
		t.Run(tc.note, func(t *testing.T) {
			act := EscapeName(tc.name)
			if act != tc.exp {
				t.Fatalf("expected %q, got %q", tc.exp, act)
			}
			if back := UnescapeName(act); back != tc.name {
				t.Fatalf("round trip gave %q", back)
			}
		})
	}
}
