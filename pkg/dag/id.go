// Package dag implements the node-revision DAG: opaque handles over node
// revisions, copy-on-write cloning ("succession"), directory entry
// mutation, file content streams, and ancestry queries.
package dag

import (
	"fmt"
	"strconv"
	"strings"
)

// ID is a node revision identifier: an alternating node-number /
// revision-number sequence, e.g. "0.0" for the filesystem root or
// "0.0.1.2" for the 2nd revision on branch 1 of node 0.0.
//
// Mutability is not encoded in the integer sequence itself. The owning
// transaction is recorded in the node revision's Header (see node.go) —
// a node is mutable in transaction T iff its stored Header.Txn equals
// T's id. See DESIGN.md.
type ID struct {
	parts []int64
}

// RootID is the id of revision 0's root directory, created once at
// filesystem initialization.
func RootID() ID { return ID{parts: []int64{0, 0}} }

// New builds an ID from its integer parts. len(parts) must be even and >= 2.
func New(parts ...int64) ID {
	cp := make([]int64, len(parts))
	copy(cp, parts)
	return ID{parts: cp}
}

// Parse reads the dot-joined decimal form produced by String.
func Parse(s string) (ID, error) {
	fields := strings.Split(s, ".")
	if len(fields) < 2 || len(fields)%2 != 0 {
		return ID{}, fmt.Errorf("dag: malformed node id %q", s)
	}
	parts := make([]int64, len(fields))
	for i, f := range fields {
		n, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return ID{}, fmt.Errorf("dag: malformed node id %q: %w", s, err)
		}
		parts[i] = n
	}
	return ID{parts: parts}, nil
}

// String renders the canonical dot-joined decimal form, used both as the
// nodes-table key and as the wire form referenced by copied_from/predecessor
// fields.
func (id ID) String() string {
	parts := make([]string, len(id.parts))
	for i, n := range id.parts {
		parts[i] = strconv.FormatInt(n, 10)
	}
	return strings.Join(parts, ".")
}

// IsZero reports whether id has never been assigned a value.
func (id ID) IsZero() bool { return len(id.parts) == 0 }

// Equal is id equality by value.
func (id ID) Equal(other ID) bool {
	if len(id.parts) != len(other.parts) {
		return false
	}
	for i := range id.parts {
		if id.parts[i] != other.parts[i] {
			return false
		}
	}
	return true
}

// NodeNumber is the original node number n0, shared by every revision and
// branch of this node.
func (id ID) NodeNumber() int64 {
	if len(id.parts) == 0 {
		return 0
	}
	return id.parts[0]
}

// BranchKey is the id with its trailing revision-number component
// stripped — every successor sharing the same branch shares this key, used
// by the per-branch youngest-revision counter in the nodes table.
func (id ID) BranchKey() string {
	if len(id.parts) < 2 {
		return id.String()
	}
	parts := make([]string, len(id.parts)-1)
	for i, n := range id.parts[:len(id.parts)-1] {
		parts[i] = strconv.FormatInt(n, 10)
	}
	return strings.Join(parts, ".")
}

// BranchRevision is the trailing revision-number component of the id.
func (id ID) BranchRevision() int64 {
	if len(id.parts) == 0 {
		return 0
	}
	return id.parts[len(id.parts)-1]
}

// WithRevision replaces the trailing revision-number component, staying on
// the same branch.
func (id ID) WithRevision(rev int64) ID {
	parts := make([]int64, len(id.parts))
	copy(parts, id.parts)
	parts[len(parts)-1] = rev
	return ID{parts: parts}
}

// WithBranch appends a new (branchNumber, rev) pair, starting a new branch
// off this id.
func (id ID) WithBranch(branchNumber, rev int64) ID {
	parts := make([]int64, len(id.parts), len(id.parts)+2)
	copy(parts, id.parts)
	parts = append(parts, branchNumber, rev)
	return ID{parts: parts}
}

// IsAncestorOf reports whether other is reachable from id by zero or more
// successions or branchings: id's branch path must prefix other's, and at
// id's final component other must sit at the same or a later revision —
// a later revision on the same branch, or a branch forked at or after
// id's revision.
func (id ID) IsAncestorOf(other ID) bool {
	if len(id.parts) == 0 || len(id.parts) > len(other.parts) {
		return false
	}
	last := len(id.parts) - 1
	for i, n := range id.parts[:last] {
		if other.parts[i] != n {
			return false
		}
	}
	return id.parts[last] <= other.parts[last]
}
