package crdt

import (
	"strings"
	"testing"

	"github.com/amaydixit11/meld/idgen"
)

func TestRGAInsertAtBuildsSequence(t *testing.T) {
	a := NewRGA("doc", idgen.NewSequence(1, 0))
	a.InsertAt(0, "H")
	a.InsertAt(1, "i")

	if got := strings.Join(a.Values(), ""); got != "Hi" {
		t.Fatalf("expected \"Hi\", got %q", got)
	}
}

func TestRGAInsertTextAndDeleteRange(t *testing.T) {
	a := NewRGA("doc", idgen.NewSequence(1, 0))
	if err := a.InsertText(0, "hello"); err != nil {
		t.Fatalf("InsertText: %v", err)
	}
	if got := strings.Join(a.Values(), ""); got != "hello" {
		t.Fatalf("expected \"hello\", got %q", got)
	}

	if err := a.DeleteRange(1, 3); err != nil { // remove "ell"
		t.Fatalf("DeleteRange: %v", err)
	}
	if got := strings.Join(a.Values(), ""); got != "ho" {
		t.Fatalf("expected \"ho\", got %q", got)
	}
}

func TestRGAInsertAtOutOfRange(t *testing.T) {
	a := NewRGA("doc", idgen.NewSequence(1, 0))
	if _, err := a.InsertAt(5, "x"); err == nil {
		t.Fatal("expected OutOfRangeError")
	}
}

func TestRGADeleteAtOutOfRange(t *testing.T) {
	a := NewRGA("doc", idgen.NewSequence(1, 0))
	if err := a.DeleteAt(0); err == nil {
		t.Fatal("expected OutOfRangeError on empty sequence")
	}
}

func TestRGAConcurrentInsertAtHeadConverges(t *testing.T) {
	base := NewRGA("doc", idgen.NewSequence(1, 0))
	base.InsertAt(0, "b")
	base.InsertAt(1, "a")
	base.InsertAt(2, "s")
	base.InsertAt(3, "e")

	a := NewRGA("doc", idgen.NewSequence(2, 0))
	a.Merge(base.Snapshot())
	a.InsertAfter("", "X", "ua", 500, "replica-a") // concurrent insert at head

	b := NewRGA("doc", idgen.NewSequence(3, 0))
	b.Merge(base.Snapshot())
	b.InsertAfter("", "Y", "ub", 500, "replica-b") // concurrent insert at head, same anchor

	merged := NewRGA("doc", idgen.NewSequence(4, 0))
	merged.Merge(a.Snapshot())
	merged.Merge(b.Snapshot())

	other := NewRGA("doc", idgen.NewSequence(5, 0))
	other.Merge(b.Snapshot())
	other.Merge(a.Snapshot())

	got := strings.Join(merged.Values(), "")
	gotOther := strings.Join(other.Values(), "")
	if got != gotOther {
		t.Fatalf("merge order affected convergence: %q != %q", got, gotOther)
	}
	// Both X and Y must appear exactly once, ahead of "base".
	if strings.Count(got, "X") != 1 || strings.Count(got, "Y") != 1 || !strings.HasSuffix(got, "base") {
		t.Fatalf("expected X and Y once each, ahead of \"base\", got %q", got)
	}
}

func TestRGADeleteIsIdempotentAcrossMerge(t *testing.T) {
	a := NewRGA("doc", idgen.NewSequence(1, 0))
	a.InsertText(0, "abc")
	uids := make([]string, 0)
	for uid := range a.nodes {
		uids = append(uids, uid)
	}
	a.Delete(uids[0])

	b := NewRGA("doc", idgen.NewSequence(2, 0))
	b.Merge(a.Snapshot())
	b.Merge(a.Snapshot()) // idempotent re-merge

	if len(b.Values()) != len(a.Values()) {
		t.Fatalf("expected idempotent merge, got %v vs %v", b.Values(), a.Values())
	}
}

func TestRGACreateOpResolvesInsertIndexToAnchor(t *testing.T) {
	a := NewRGA("doc", idgen.NewSequence(1, 0))
	a.InsertText(0, "ac")

	op, err := a.CreateOp("insert", map[string]any{"index": 1, "value": "b"}, "r1", 1000)
	if err != nil {
		t.Fatalf("CreateOp: %v", err)
	}
	if _, ok := op.Data["index"]; ok {
		t.Fatal("expected \"index\" to be resolved away before the op is broadcast")
	}
	if _, ok := op.Data["afterUid"]; !ok {
		t.Fatal("expected CreateOp to fill \"afterUid\"")
	}

	if err := a.ApplyOp(op); err != nil {
		t.Fatalf("ApplyOp: %v", err)
	}
	if got := strings.Join(a.Values(), ""); got != "abc" {
		t.Fatalf("expected \"abc\", got %q", got)
	}
}

func TestRGACreateOpInsertIndexOutOfRange(t *testing.T) {
	a := NewRGA("doc", idgen.NewSequence(1, 0))
	if _, err := a.CreateOp("insert", map[string]any{"index": 5, "value": "x"}, "r1", 1000); err == nil {
		t.Fatal("expected OutOfRangeError for an insert index past the visible length")
	}
}

func TestRGACreateOpResolvesDeleteIndexToUID(t *testing.T) {
	a := NewRGA("doc", idgen.NewSequence(1, 0))
	a.InsertText(0, "abc")

	op, err := a.CreateOp("delete", map[string]any{"index": 1}, "r1", 1000)
	if err != nil {
		t.Fatalf("CreateOp: %v", err)
	}
	if op.Data["uid"] == "" {
		t.Fatal("expected CreateOp to fill \"uid\"")
	}
	if err := a.ApplyOp(op); err != nil {
		t.Fatalf("ApplyOp: %v", err)
	}
	if got := strings.Join(a.Values(), ""); got != "ac" {
		t.Fatalf("expected \"ac\" after deleting index 1, got %q", got)
	}
}

func TestRGACreateOpDeleteIndexOutOfRange(t *testing.T) {
	a := NewRGA("doc", idgen.NewSequence(1, 0))
	if _, err := a.CreateOp("delete", map[string]any{"index": 0}, "r1", 1000); err == nil {
		t.Fatal("expected OutOfRangeError for delete index on an empty sequence")
	}
}

func TestRGAValidateDetectsUnknownParent(t *testing.T) {
	a := NewRGA("doc", idgen.NewSequence(1, 0))
	snap := Snapshot{
		"type": string(TypeRGAArray),
		"id":   "doc",
		"nodes": map[string]any{
			"u1": map[string]any{"parent": "missing-parent", "value": "x", "tombstone": false, "timestamp": int64(1), "replica": "r1"},
		},
	}
	if err := a.Merge(snap); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if err := a.Validate(); err == nil {
		t.Fatal("expected InvariantViolatedError for dangling parent reference")
	}
}
