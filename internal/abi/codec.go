package abi

import (
	"bytes"
	"encoding/binary"

	errorsmod "cosmossdk.io/errors"

	"rewardrails/internal/address"
)

// Marshal produces the binary form of v. Limits are enforced here as well as
// in the constructors because Vals can be assembled from decoded input.
func Marshal(v Val) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeVal(&buf, v, 0); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MustMarshal is for values built from already validated input.
func MustMarshal(v Val) []byte {
	b, err := Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// Unmarshal decodes exactly one value and rejects trailing bytes.
func Unmarshal(data []byte) (Val, error) {
	r := bytes.NewReader(data)
	v, err := readVal(r, 0)
	if err != nil {
		return Val{}, err
	}
	if r.Len() != 0 {
		return Val{}, errorsmod.Wrapf(ErrDecode, "%d trailing bytes", r.Len())
	}
	return v, nil
}

const maxDepth = 16

func putU32(buf *bytes.Buffer, n uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], n)
	buf.Write(b[:])
}

func putU64(buf *bytes.Buffer, n uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], n)
	buf.Write(b[:])
}

func writeVal(buf *bytes.Buffer, v Val, depth int) error {
	if depth > maxDepth {
		return errorsmod.Wrap(ErrValueTooLarge, "nesting too deep")
	}
	putU32(buf, uint32(v.tag))
	switch v.tag {
	case TagVoid:
	case TagBool:
		buf.WriteByte(byte(v.num))
	case TagU32:
		putU32(buf, uint32(v.num))
	case TagI64, TagU64:
		putU64(buf, v.num)
	case TagString, TagBytes, TagSymbol:
		data := v.raw
		if v.tag != TagBytes {
			data = []byte(v.str)
		}
		if v.tag == TagSymbol {
			if err := Symbol(v.str).Validate(); err != nil {
				return err
			}
		}
		if len(data) > MaxBytesLen {
			return errorsmod.Wrapf(ErrValueTooLarge, "%s of %d bytes", v.tag, len(data))
		}
		putU32(buf, uint32(len(data)))
		buf.Write(data)
	case TagVec:
		if len(v.vec) > MaxVecLen {
			return errorsmod.Wrapf(ErrListTooLarge, "%d elements, limit %d", len(v.vec), MaxVecLen)
		}
		putU32(buf, uint32(len(v.vec)))
		for _, e := range v.vec {
			if err := writeVal(buf, e, depth+1); err != nil {
				return err
			}
		}
	case TagAddress:
		if v.addr == nil {
			return errorsmod.Wrap(ErrInvalidAddress, "nil address")
		}
		putU32(buf, uint32(v.addr.Kind()))
		buf.Write(v.addr.Bytes())
	default:
		return errorsmod.Wrapf(ErrDecode, "unknown tag %d", uint32(v.tag))
	}
	return nil
}

func readN(r *bytes.Reader, n int) ([]byte, error) {
	if n > r.Len() {
		return nil, errorsmod.Wrapf(ErrDecode, "need %d bytes, have %d", n, r.Len())
	}
	out := make([]byte, n)
	_, _ = r.Read(out)
	return out, nil
}

func readU32(r *bytes.Reader) (uint32, error) {
	b, err := readN(r, 4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func readU64(r *bytes.Reader) (uint64, error) {
	b, err := readN(r, 8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func readVal(r *bytes.Reader, depth int) (Val, error) {
	if depth > maxDepth {
		return Val{}, errorsmod.Wrap(ErrValueTooLarge, "nesting too deep")
	}
	t, err := readU32(r)
	if err != nil {
		return Val{}, err
	}
	v := Val{tag: Tag(t)}
	switch v.tag {
	case TagVoid:
	case TagBool:
		b, err := readN(r, 1)
		if err != nil {
			return Val{}, err
		}
		if b[0] > 1 {
			return Val{}, errorsmod.Wrapf(ErrDecode, "bool byte %d", b[0])
		}
		v.num = uint64(b[0])
	case TagU32:
		n, err := readU32(r)
		if err != nil {
			return Val{}, err
		}
		v.num = uint64(n)
	case TagI64, TagU64:
		if v.num, err = readU64(r); err != nil {
			return Val{}, err
		}
	case TagString, TagBytes, TagSymbol:
		n, err := readU32(r)
		if err != nil {
			return Val{}, err
		}
		if n > MaxBytesLen {
			return Val{}, errorsmod.Wrapf(ErrValueTooLarge, "%s of %d bytes", v.tag, n)
		}
		data, err := readN(r, int(n))
		if err != nil {
			return Val{}, err
		}
		if v.tag == TagBytes {
			v.raw = data
		} else {
			v.str = string(data)
		}
		if v.tag == TagSymbol {
			if err := Symbol(v.str).Validate(); err != nil {
				return Val{}, err
			}
		}
	case TagVec:
		n, err := readU32(r)
		if err != nil {
			return Val{}, err
		}
		if n > MaxVecLen {
			return Val{}, errorsmod.Wrapf(ErrListTooLarge, "%d elements, limit %d", n, MaxVecLen)
		}
		v.vec = make([]Val, 0, n)
		for i := uint32(0); i < n; i++ {
			e, err := readVal(r, depth+1)
			if err != nil {
				return Val{}, err
			}
			v.vec = append(v.vec, e)
		}
	case TagAddress:
		k, err := readU32(r)
		if err != nil {
			return Val{}, err
		}
		size := address.AccountLen
		if address.Kind(k) == address.KindContract {
			size = address.ContractLen
		}
		raw, err := readN(r, size)
		if err != nil {
			return Val{}, err
		}
		if v.addr, err = address.FromRaw(address.Kind(k), raw); err != nil {
			return Val{}, err
		}
	default:
		return Val{}, errorsmod.Wrapf(ErrDecode, "unknown tag %d", t)
	}
	return v, nil
}
