package doc

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/roach88/codesync/internal/crdt"
)

// Updates travel in protobuf wire format so that peers written against a
// .proto schema can read them:
//
//	message Update { string origin = 1; repeated Op ops = 2; }
//	message ID     { string replica = 1; uint64 clock = 2; }
//	message Op {
//	  uint32 kind = 1;  ID id = 2;      string parent = 4;
//	  ID origin = 5;    ID target = 7;  string node_id = 9;
//	  string name = 10; uint32 node_kind = 11; string key = 12;
//	  string text = 13; repeated ID targets = 14;
//	}
const (
	fieldUpdateOrigin = 1
	fieldUpdateOps    = 2

	fieldIDReplica = 1
	fieldIDClock   = 2

	fieldOpKind     = 1
	fieldOpID       = 2
	fieldOpParent   = 4
	fieldOpOrigin   = 5
	fieldOpTarget   = 7
	fieldOpNodeID   = 9
	fieldOpName     = 10
	fieldOpNodeKind = 11
	fieldOpKey      = 12
	fieldOpText     = 13
	fieldOpTargets  = 14
)

// EncodeUpdate serializes u. Zero fields are omitted.
func EncodeUpdate(u *Update) []byte {
	var b []byte
	if u == nil {
		return b
	}
	b = appendString(b, fieldUpdateOrigin, u.Origin)
	for _, op := range u.Ops {
		b = protowire.AppendTag(b, fieldUpdateOps, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeOp(op))
	}
	return b
}

func encodeOp(op Op) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldOpKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(op.Kind))
	b = appendID(b, fieldOpID, op.ID)
	b = appendString(b, fieldOpParent, op.Parent)
	b = appendID(b, fieldOpOrigin, op.Origin)
	b = appendID(b, fieldOpTarget, op.Target)
	b = appendString(b, fieldOpNodeID, op.NodeID)
	b = appendString(b, fieldOpName, op.Name)
	if op.NodeKind != 0 {
		b = protowire.AppendTag(b, fieldOpNodeKind, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(op.NodeKind))
	}
	b = appendString(b, fieldOpKey, op.Key)
	b = appendString(b, fieldOpText, op.Text)
	for _, id := range op.Targets {
		b = protowire.AppendTag(b, fieldOpTargets, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeID(id))
	}
	return b
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendID(b []byte, num protowire.Number, id crdt.ID) []byte {
	if id.IsZero() {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, encodeID(id))
}

func encodeID(id crdt.ID) []byte {
	var b []byte
	b = appendString(b, fieldIDReplica, id.Replica)
	if id.Clock != 0 {
		b = protowire.AppendTag(b, fieldIDClock, protowire.VarintType)
		b = protowire.AppendVarint(b, id.Clock)
	}
	return b
}

// DecodeUpdate parses an encoded update. Unknown fields are skipped; an op
// with an unknown op kind fails the whole update with ErrCodeMalformedUpdate.
func DecodeUpdate(b []byte) (*Update, error) {
	u := &Update{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
		switch {
		case num == fieldUpdateOrigin && typ == protowire.BytesType:
			u.Origin = string(v)
		case num == fieldUpdateOps && typ == protowire.BytesType:
			op, err := decodeOp(v)
			if err != nil {
				return err
			}
			u.Ops = append(u.Ops, op)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

func decodeOp(b []byte) (Op, error) {
	var op Op
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error {
		var err error
		switch {
		case typ == protowire.VarintType && (num == fieldOpKind || num == fieldOpNodeKind):
			if x > math.MaxUint8 {
				return malformed("field %d: kind %d out of range", num, x)
			}
			if num == fieldOpKind {
				op.Kind = OpKind(x)
			} else {
				op.NodeKind = Kind(x)
			}
		case typ != protowire.BytesType:
		case num == fieldOpID:
			op.ID, err = decodeID(v)
		case num == fieldOpParent:
			op.Parent = string(v)
		case num == fieldOpOrigin:
			op.Origin, err = decodeID(v)
		case num == fieldOpTarget:
			op.Target, err = decodeID(v)
		case num == fieldOpNodeID:
			op.NodeID = string(v)
		case num == fieldOpName:
			op.Name = string(v)
		case num == fieldOpKey:
			op.Key = string(v)
		case num == fieldOpText:
			op.Text = string(v)
		case num == fieldOpTargets:
			var id crdt.ID
			id, err = decodeID(v)
			op.Targets = append(op.Targets, id)
		}
		return err
	})
	if err != nil {
		return Op{}, err
	}
	if !op.Kind.valid() {
		return Op{}, malformed("unknown op kind %d", uint8(op.Kind))
	}
	return op, nil
}

func decodeID(b []byte) (crdt.ID, error) {
	var id crdt.ID
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error {
		switch {
		case num == fieldIDReplica && typ == protowire.BytesType:
			id.Replica = string(v)
		case num == fieldIDClock && typ == protowire.VarintType:
			id.Clock = x
		}
		return nil
	})
	return id, err
}

// walk calls fn for every field in b. Bytes fields pass their payload in v,
// varint fields their value in x. Other wire types are skipped.
func walk(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return &Error{Code: ErrCodeMalformedUpdate, Message: "bad tag", Err: protowire.ParseError(n)}
		}
		b = b[n:]

		var (
			v []byte
			x uint64
		)
		switch typ {
		case protowire.BytesType:
			v, n = protowire.ConsumeBytes(b)
		case protowire.VarintType:
			x, n = protowire.ConsumeVarint(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return &Error{
				Code:    ErrCodeMalformedUpdate,
				Message: fmt.Sprintf("field %d", num),
				Err:     protowire.ParseError(n),
			}
		}
		b = b[n:]
		if typ != protowire.BytesType && typ != protowire.VarintType {
			continue
		}
		if err := fn(num, typ, v, x); err != nil {
			return err
		}
	}
	return nil
}
