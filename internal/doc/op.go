package doc

import (
	"fmt"
	"unicode/utf8"

	"github.com/roach88/codesync/internal/crdt"
)

// Kind tags a tree node. Unknown kinds (from a newer peer) are kept in the
// tree but surface as Malformed entries.
type Kind uint8

const (
	KindFile Kind = iota + 1
	KindFolder
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindFolder:
		return "folder"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// OpKind identifies an op.
type OpKind uint8

const (
	OpInsertNode OpKind = iota + 1
	OpRemoveNode
	OpRename
	OpSetContent
	OpDeleteContent
	OpInsertText
	OpDeleteText
)

func (k OpKind) String() string {
	switch k {
	case OpInsertNode:
		return "insert_node"
	case OpRemoveNode:
		return "remove_node"
	case OpRename:
		return "rename"
	case OpSetContent:
		return "set_content"
	case OpDeleteContent:
		return "delete_content"
	case OpInsertText:
		return "insert_text"
	case OpDeleteText:
		return "delete_text"
	default:
		return fmt.Sprintf("op(%d)", uint8(k))
	}
}

func (k OpKind) valid() bool {
	return k >= OpInsertNode && k <= OpDeleteText
}

// Op is a single replicated mutation. ID is unique per op; for inserts it is
// also the id of the inserted element (or of the first rune of a text run)
// and for OpSetContent it names the new text container.
//
// Field use by kind:
//
//	OpInsertNode    Parent, Origin, NodeID, Name, NodeKind
//	OpRemoveNode    Parent, Target (element id)
//	OpRename        NodeID, Name
//	OpSetContent    Key
//	OpDeleteContent Key
//	OpInsertText    Key, Target (text id), Origin, Text
//	OpDeleteText    Key, Target (text id), Targets (rune ids)
type Op struct {
	Kind     OpKind
	ID       crdt.ID
	Parent   string
	Origin   crdt.ID
	Target   crdt.ID
	NodeID   string
	Name     string
	NodeKind Kind
	Key      string
	Text     string
	Targets  []crdt.ID
}

// lastID is the highest ID the op consumes.
func (op Op) lastID() crdt.ID {
	if op.Kind == OpInsertText {
		if n := utf8.RuneCountInString(op.Text); n > 1 {
			return op.ID.Next(uint64(n - 1))
		}
	}
	return op.ID
}

// Update is the ops of one committed transaction, or a full state dump.
// Origin is the replica that produced it.
type Update struct {
	Origin string
	Ops    []Op
}

// Empty reports whether the update carries no ops.
func (u *Update) Empty() bool {
	return u == nil || len(u.Ops) == 0
}
