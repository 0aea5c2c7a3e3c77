// Package remotedep implements the remote-dep protocol (C8): the
// three-phase ACTIVATE / GET_DATA / PUT_DATA exchange between ranks,
// with one fixed-size window bounding in-flight ACTIVATE sends (see
// DefaultWindow).
//
// Grounded directly on original_source/remote_dep_mpi.c: the original
// engine keeps one persistent MPI_Recv_init request per window slot for
// ACTIVATE and for GET_DATA, and drives PUT_DATA via MPI_Isend/MPI_Irecv
// pairs once a GET_DATA has been answered. ptgrt's Transport abstracts
// the reliable, in-order, per-peer-pair channel the original assumes MPI
// gives it; the shipped Transport is a length-prefixed framed codec over
// net.Conn (see transport.go) rather than grpc/protobuf, since
// hand-authoring wire-compatible generated protobuf code without running
// protoc or the Go toolchain to verify it is not reliable — see
// DESIGN.md.
package remotedep

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MsgType is the wire tag distinguishing the three phases.
type MsgType uint8

const (
	MsgActivate MsgType = iota + 1
	MsgGetData
	MsgPutData
)

// Header is the fixed-size prefix of every remote-dep message.
type Header struct {
	Type      MsgType
	Tag       uint32 // class id on PUT_DATA; zero on ACTIVATE and GET_DATA
	SrcRank   int32
	DestRank  int32
	BodyLen   uint32
}

const headerSize = 1 + 4 + 4 + 4 + 4

func (h Header) marshal() []byte {
	buf := make([]byte, headerSize)
	buf[0] = byte(h.Type)
	binary.BigEndian.PutUint32(buf[1:5], h.Tag)
	binary.BigEndian.PutUint32(buf[5:9], uint32(h.SrcRank))
	binary.BigEndian.PutUint32(buf[9:13], uint32(h.DestRank))
	binary.BigEndian.PutUint32(buf[13:17], h.BodyLen)
	return buf
}

func unmarshalHeader(buf []byte) (Header, error) {
	if len(buf) != headerSize {
		return Header{}, fmt.Errorf("remotedep: short header (%d bytes)", len(buf))
	}
	return Header{
		Type:     MsgType(buf[0]),
		Tag:      binary.BigEndian.Uint32(buf[1:5]),
		SrcRank:  int32(binary.BigEndian.Uint32(buf[5:9])),
		DestRank: int32(binary.BigEndian.Uint32(buf[9:13])),
		BodyLen:  binary.BigEndian.Uint32(buf[13:17]),
	}, nil
}

// ActivateBody carries the destination class id, locals, and the OR of
// every local flow bit this ACTIVATE batch satisfies at the receiver —
// the remote-dep equivalent of a mask-encoding delta.
type ActivateBody struct {
	ClassID      uint32
	Locals       []int32
	FlowBitmask  uint32
	MaxPriority  int32
}

func (b ActivateBody) marshal() []byte {
	buf := make([]byte, 4+4+4+4+4*len(b.Locals))
	binary.BigEndian.PutUint32(buf[0:4], b.ClassID)
	binary.BigEndian.PutUint32(buf[4:8], b.FlowBitmask)
	binary.BigEndian.PutUint32(buf[8:12], uint32(b.MaxPriority))
	binary.BigEndian.PutUint32(buf[12:16], uint32(len(b.Locals)))
	for i, l := range b.Locals {
		binary.BigEndian.PutUint32(buf[16+4*i:20+4*i], uint32(l))
	}
	return buf
}

func unmarshalActivateBody(buf []byte) (ActivateBody, error) {
	if len(buf) < 16 {
		return ActivateBody{}, fmt.Errorf("remotedep: short ACTIVATE body")
	}
	b := ActivateBody{
		ClassID:     binary.BigEndian.Uint32(buf[0:4]),
		FlowBitmask: binary.BigEndian.Uint32(buf[4:8]),
		MaxPriority: int32(binary.BigEndian.Uint32(buf[8:12])),
	}
	n := binary.BigEndian.Uint32(buf[12:16])
	if len(buf) != int(16+4*n) {
		return ActivateBody{}, fmt.Errorf("remotedep: ACTIVATE locals length mismatch")
	}
	b.Locals = make([]int32, n)
	for i := range b.Locals {
		b.Locals[i] = int32(binary.BigEndian.Uint32(buf[16+4*i : 20+4*i]))
	}
	return b, nil
}

// PutDataBody carries the answer to a GET_DATA request: the class,
// locals, and flow bitmask the requester's ACTIVATE named, plus the data
// chunk itself. Carrying locals and the flow bitmask on PUT_DATA (rather
// than just the class id in the header tag) is what lets handlePutData
// resolve the exact data-repo key and fire OnRemoteReady only once the
// chunk has actually arrived, per spec.md §4.7 step 4.
type PutDataBody struct {
	ClassID     uint32
	Locals      []int32
	FlowBitmask uint32
	Chunk       []byte
}

func (b PutDataBody) marshal() []byte {
	buf := make([]byte, 4+4+4+4*len(b.Locals)+4+len(b.Chunk))
	binary.BigEndian.PutUint32(buf[0:4], b.ClassID)
	binary.BigEndian.PutUint32(buf[4:8], b.FlowBitmask)
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(b.Locals)))
	off := 12
	for _, l := range b.Locals {
		binary.BigEndian.PutUint32(buf[off:off+4], uint32(l))
		off += 4
	}
	binary.BigEndian.PutUint32(buf[off:off+4], uint32(len(b.Chunk)))
	off += 4
	copy(buf[off:], b.Chunk)
	return buf
}

func unmarshalPutDataBody(buf []byte) (PutDataBody, error) {
	if len(buf) < 12 {
		return PutDataBody{}, fmt.Errorf("remotedep: short PUT_DATA body")
	}
	b := PutDataBody{
		ClassID:     binary.BigEndian.Uint32(buf[0:4]),
		FlowBitmask: binary.BigEndian.Uint32(buf[4:8]),
	}
	n := binary.BigEndian.Uint32(buf[8:12])
	off := 12
	if len(buf) < off+4*int(n)+4 {
		return PutDataBody{}, fmt.Errorf("remotedep: PUT_DATA locals length mismatch")
	}
	b.Locals = make([]int32, n)
	for i := range b.Locals {
		b.Locals[i] = int32(binary.BigEndian.Uint32(buf[off : off+4]))
		off += 4
	}
	chunkLen := binary.BigEndian.Uint32(buf[off : off+4])
	off += 4
	if len(buf) != off+int(chunkLen) {
		return PutDataBody{}, fmt.Errorf("remotedep: PUT_DATA chunk length mismatch")
	}
	b.Chunk = buf[off : off+int(chunkLen)]
	return b, nil
}

// writeMessage and readMessage frame a header+body pair onto w/r. Every
// Transport implementation in this package is built on these two
// functions so the wire format stays in one place.
func writeMessage(w io.Writer, h Header, body []byte) error {
	h.BodyLen = uint32(len(body))
	if _, err := w.Write(h.marshal()); err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	_, err := w.Write(body)
	return err
}

func readMessage(r io.Reader) (Header, []byte, error) {
	hbuf := make([]byte, headerSize)
	if _, err := io.ReadFull(r, hbuf); err != nil {
		return Header{}, nil, err
	}
	h, err := unmarshalHeader(hbuf)
	if err != nil {
		return Header{}, nil, err
	}
	if h.BodyLen == 0 {
		return h, nil, nil
	}
	body := make([]byte, h.BodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return Header{}, nil, err
	}
	return h, body, nil
}
