package session

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"

	"github.com/jmcleod/semigate/semi"
)

// Key is the composite identity that correlates an inbound message to its
// owning session. Two keys built independently from two decodings of the
// same dialog instance are equal and hash identically, so keys must only be
// constructed through NewKey and NewMetaKey.
type Key struct {
	source  Endpoint
	dialog  semi.DialogID
	group   int32
	request int32
	meta    bool
	hash    uint64
}

// NewKey builds the correlation key for one dialog exchange.
func NewKey(source Endpoint, dialog semi.DialogID, group, request int32) Key {
	return newKey(source, dialog, group, request, false)
}

// NewMetaKey builds the key of the meta-session holding per-(source, dialog)
// trust context. Group and request identifiers are zero by construction.
func NewMetaKey(source Endpoint, dialog semi.DialogID) Key {
	return newKey(source, dialog, 0, 0, true)
}

func newKey(source Endpoint, dialog semi.DialogID, group, request int32, meta bool) Key {
	k := Key{
		source:  source,
		dialog:  dialog,
		group:   group,
		request: request,
		meta:    meta,
	}
	k.hash = k.structuralHash()
	return k
}

func (k Key) Source() Endpoint       { return k.source }
func (k Key) Dialog() semi.DialogID  { return k.dialog }
func (k Key) GroupID() int32         { return k.group }
func (k Key) RequestID() int32       { return k.request }
func (k Key) IsMeta() bool           { return k.meta }

// Hash is the precomputed structural hash, a pure function of the identity
// fields.
func (k Key) Hash() uint64 { return k.hash }

func (k Key) structuralHash() uint64 {
	h := fnv.New64a()
	var buf [4]byte
	binary.BigEndian.PutUint16(buf[:2], k.source.port)
	h.Write(buf[:2])
	if k.source.forward {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	h.Write(k.source.addr[:k.source.addrLen])
	binary.BigEndian.PutUint32(buf[:], uint32(k.dialog))
	h.Write(buf[:])
	binary.BigEndian.PutUint32(buf[:], uint32(k.group))
	h.Write(buf[:])
	binary.BigEndian.PutUint32(buf[:], uint32(k.request))
	h.Write(buf[:])
	if k.meta {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	return h.Sum64()
}

func (k Key) String() string {
	return fmt.Sprintf("Key{source=%s dialog=%s group=%d (0x%x) request=%d (0x%x) meta=%t hash=0x%x}",
		k.source, k.dialog, k.group, uint32(k.group), k.request, uint32(k.request), k.meta, k.hash)
}
