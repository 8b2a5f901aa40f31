package tree

import (
	"reflect"
	"testing"
)

func TestSplitPathCollapsesEmptyComponents(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"/", nil},
		{"", nil},
		{"//", nil},
		{"/a", []string{"a"}},
		{"/a/b/c", []string{"a", "b", "c"}},
		{"a/b/", []string{"a", "b"}},
		{"//a///b//", []string{"a", "b"}},
	}
	for _, c := range cases {
		got := splitPath(c.in)
		if len(got) == 0 && len(c.want) == 0 {
			continue
		}
		if !reflect.DeepEqual(got, c.want) {
			t.Errorf("splitPath(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestParentPathFullPath(t *testing.T) {
	root := &parentPath{}
	a := &parentPath{name: "a", parent: root}
	b := &parentPath{name: "b", parent: a}

	if got := root.fullPath(); got != "/" {
		t.Errorf("root fullPath = %q", got)
	}
	if got := a.fullPath(); got != "/a" {
		t.Errorf("fullPath = %q, want /a", got)
	}
	if got := b.fullPath(); got != "/a/b" {
		t.Errorf("fullPath = %q, want /a/b", got)
	}
}

func TestJoinPath(t *testing.T) {
	if got := joinPath("/", "x"); got != "/x" {
		t.Errorf("joinPath(/, x) = %q", got)
	}
	if got := joinPath("/a/b", "c"); got != "/a/b/c" {
		t.Errorf("joinPath(/a/b, c) = %q", got)
	}
}
