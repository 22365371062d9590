// Package abi implements the tagged value representation used for escrow
// contract arguments, return values and stored records.
package abi

import (
	"fmt"

	errorsmod "cosmossdk.io/errors"

	"rewardrails/internal/address"
)

// Tag identifies the type of a Val. Tag numbers are wire contract.
type Tag uint32

const (
	TagVoid    Tag = 0
	TagBool    Tag = 1
	TagU32     Tag = 2
	TagI64     Tag = 3
	TagU64     Tag = 4
	TagString  Tag = 5
	TagSymbol  Tag = 6
	TagBytes   Tag = 7
	TagVec     Tag = 8
	TagAddress Tag = 9
)

var tagNames = map[Tag]string{
	TagVoid:    "void",
	TagBool:    "bool",
	TagU32:     "u32",
	TagI64:     "i64",
	TagU64:     "u64",
	TagString:  "string",
	TagSymbol:  "symbol",
	TagBytes:   "bytes",
	TagVec:     "vec",
	TagAddress: "address",
}

func (t Tag) String() string {
	if name, ok := tagNames[t]; ok {
		return name
	}
	return fmt.Sprintf("tag(%d)", uint32(t))
}

// Limits enforced on both encode and decode.
const (
	MaxVecLen    = 256
	MaxSymbolLen = 32
	MaxBytesLen  = 64 << 10
)

// Val is one tagged value. The zero Val is Void.
type Val struct {
	tag  Tag
	num  uint64
	str  string
	raw  []byte
	vec  []Val
	addr address.Address
}

func (v Val) Tag() Tag { return v.tag }

func Void() Val { return Val{tag: TagVoid} }

func (v Val) IsVoid() bool { return v.tag == TagVoid }

func (v Val) expect(tag Tag) error {
	if v.tag != tag {
		return errorsmod.Wrapf(ErrTypeMismatch, "expected %s, got %s", tag, v.tag)
	}
	return nil
}

func (v Val) AsBool() (bool, error) {
	if err := v.expect(TagBool); err != nil {
		return false, err
	}
	return v.num != 0, nil
}

func (v Val) AsU32() (uint32, error) {
	if err := v.expect(TagU32); err != nil {
		return 0, err
	}
	return uint32(v.num), nil
}

func (v Val) AsText() (string, error) {
	if err := v.expect(TagString); err != nil {
		return "", err
	}
	return v.str, nil
}

func (v Val) AsSymbol() (Symbol, error) {
	if err := v.expect(TagSymbol); err != nil {
		return "", err
	}
	return Symbol(v.str), nil
}

func (v Val) AsBytes() ([]byte, error) {
	if err := v.expect(TagBytes); err != nil {
		return nil, err
	}
	return v.raw, nil
}

func (v Val) AsVec() ([]Val, error) {
	if err := v.expect(TagVec); err != nil {
		return nil, err
	}
	return v.vec, nil
}

func (v Val) AsAddress() (address.Address, error) {
	if err := v.expect(TagAddress); err != nil {
		return nil, err
	}
	return v.addr, nil
}

// Equal compares two values structurally.
func (v Val) Equal(o Val) bool {
	if v.tag != o.tag {
		return false
	}
	switch v.tag {
	case TagVoid:
		return true
	case TagBool, TagU32, TagI64, TagU64:
		return v.num == o.num
	case TagString, TagSymbol:
		return v.str == o.str
	case TagBytes:
		return string(v.raw) == string(o.raw)
	case TagAddress:
		return address.Equal(v.addr, o.addr)
	case TagVec:
		if len(v.vec) != len(o.vec) {
			return false
		}
		for i := range v.vec {
			if !v.vec[i].Equal(o.vec[i]) {
				return false
			}
		}
		return true
	}
	return false
}

func (v Val) String() string {
	switch v.tag {
	case TagVoid:
		return "void"
	case TagBool:
		return fmt.Sprintf("%t", v.num != 0)
	case TagU32, TagU64:
		return fmt.Sprintf("%d", v.num)
	case TagI64:
		return fmt.Sprintf("%d", int64(v.num))
	case TagString:
		return fmt.Sprintf("%q", v.str)
	case TagSymbol:
		return v.str
	case TagBytes:
		return fmt.Sprintf("0x%x", v.raw)
	case TagAddress:
		return v.addr.String()
	case TagVec:
		s := "["
		for i, e := range v.vec {
			if i > 0 {
				s += ", "
			}
			s += e.String()
		}
		return s + "]"
	}
	return v.tag.String()
}
