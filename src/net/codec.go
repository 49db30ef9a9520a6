package net

import (
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/ugorji/go/codec"
)

const (
	// MsgpackCodec is the name of the default wire codec.
	MsgpackCodec = "msgpack"
	// CBORCodec ...
	CBORCodec = "cbor"
)

// Encoder writes values to a stream.
type Encoder interface {
	Encode(v interface{}) error
}

// Decoder reads values from a stream.
type Decoder interface {
	Decode(v interface{}) error
}

// Codec creates the encoders and decoders used on TCP links. Both ends of a
// link must use the same codec.
type Codec interface {
	Name() string
	NewEncoder(w io.Writer) Encoder
	NewDecoder(r io.Reader) Decoder
}

// NewCodec returns the codec registered under name. An empty name selects
// msgpack.
func NewCodec(name string) (Codec, error) {
	switch name {
	case "", MsgpackCodec:
		return newMsgpackCodec(), nil
	case CBORCodec:
		return newCBORCodec()
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

type msgpackCodec struct {
	handle *codec.MsgpackHandle
}

func newMsgpackCodec() *msgpackCodec {
	h := new(codec.MsgpackHandle)
	h.RawToString = true
	h.WriteExt = true
	return &msgpackCodec{handle: h}
}

func (c *msgpackCodec) Name() string {
	return MsgpackCodec
}

func (c *msgpackCodec) NewEncoder(w io.Writer) Encoder {
	return codec.NewEncoder(w, c.handle)
}

func (c *msgpackCodec) NewDecoder(r io.Reader) Decoder {
	return codec.NewDecoder(r, c.handle)
}

type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func newCBORCodec() (*cborCodec, error) {
	enc, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, err
	}

	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return nil, err
	}

	return &cborCodec{enc: enc, dec: dec}, nil
}

func (c *cborCodec) Name() string {
	return CBORCodec
}

func (c *cborCodec) NewEncoder(w io.Writer) Encoder {
	return c.enc.NewEncoder(w)
}

func (c *cborCodec) NewDecoder(r io.Reader) Decoder {
	return c.dec.NewDecoder(r)
}
