package semi

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Codec translates PDUs to and from datagram payload bytes.
type Codec interface {
	Decode(raw []byte) (PDU, error)
	Encode(pdu PDU) ([]byte, error)
}

var (
	// ErrTruncated indicates the payload ended before the fixed layout did.
	ErrTruncated = errors.New("semi: truncated payload")
	// ErrUnknownKind indicates a kind byte outside the closed PDU set.
	ErrUnknownKind = errors.New("semi: unknown message kind")
	// ErrBadVersion indicates an unsupported wire version.
	ErrBadVersion = errors.New("semi: unsupported wire version")
)

const (
	wireVersion = 1

	kindServiceRequest  = 1
	kindServiceResponse = 2
	kindDataRequest     = 3
	kindDiscoveryReq    = 4
	kindDataDelivery    = 5
	kindRegistration    = 6
	kindAcceptance      = 7
	kindConfirmation    = 8
	kindDataReceipt     = 9
	kindSubscriptionReq = 10
	kindSubscriptionCan = 11
	kindVehicleData     = 12

	flagHasRequestID   = 1 << 0
	flagHasDestination = 1 << 1

	headerLen = 15 // version, kind, dialog, group, request, flags
)

// BinaryCodec is the fixed-layout big-endian wire codec. All PDUs share a
// common header {version, kind, dialog, group, request, flags} followed by
// kind-specific fields.
type BinaryCodec struct{}

var _ Codec = BinaryCodec{}

type header struct {
	kind    byte
	dialog  DialogID
	group   int32
	request int32
	flags   byte
}

func putHeader(buf []byte, kind byte, dialog DialogID, group, request int32, flags byte) {
	buf[0] = wireVersion
	buf[1] = kind
	binary.BigEndian.PutUint32(buf[2:], uint32(dialog))
	binary.BigEndian.PutUint32(buf[6:], uint32(group))
	binary.BigEndian.PutUint32(buf[10:], uint32(request))
	buf[14] = flags
}

func parseHeader(raw []byte) (header, []byte, error) {
	if len(raw) < headerLen {
		return header{}, nil, ErrTruncated
	}
	if raw[0] != wireVersion {
		return header{}, nil, fmt.Errorf("%w: %d", ErrBadVersion, raw[0])
	}
	h := header{
		kind:    raw[1],
		dialog:  DialogID(binary.BigEndian.Uint32(raw[2:])),
		group:   int32(binary.BigEndian.Uint32(raw[6:])),
		request: int32(binary.BigEndian.Uint32(raw[10:])),
		flags:   raw[14],
	}
	return h, raw[headerLen:], nil
}

func (BinaryCodec) Decode(raw []byte) (PDU, error) {
	h, rest, err := parseHeader(raw)
	if err != nil {
		return nil, err
	}
	switch h.kind {
	case kindServiceRequest:
		p := &ServiceRequest{
			DialogID:     h.dialog,
			GroupID:      h.group,
			RequestID:    h.request,
			HasRequestID: h.flags&flagHasRequestID != 0,
		}
		if h.flags&flagHasDestination != 0 {
			cp, err := parseConnectionPoint(rest)
			if err != nil {
				return nil, err
			}
			p.Destination = cp
		}
		return p, nil
	case kindServiceResponse:
		if len(rest) < 8+16+32 {
			return nil, ErrTruncated
		}
		p := &ServiceResponse{
			DialogID:  h.dialog,
			GroupID:   h.group,
			RequestID: h.request,
			Expiry:    int64(binary.BigEndian.Uint64(rest)),
			Region: ServiceRegion{
				NWLatitude:  int32(binary.BigEndian.Uint32(rest[8:])),
				NWLongitude: int32(binary.BigEndian.Uint32(rest[12:])),
				SELatitude:  int32(binary.BigEndian.Uint32(rest[16:])),
				SELongitude: int32(binary.BigEndian.Uint32(rest[20:])),
			},
		}
		copy(p.Hash[:], rest[24:])
		return p, nil
	case kindDataRequest:
		return &DataRequest{DialogID: h.dialog, GroupID: h.group, RequestID: h.request}, nil
	case kindDiscoveryReq:
		return &DiscoveryRequest{GroupID: h.group, RequestID: h.request}, nil
	case kindDataDelivery:
		return &DataDelivery{
			DialogID:  h.dialog,
			GroupID:   h.group,
			RequestID: h.request,
			Data:      append([]byte(nil), rest...),
		}, nil
	case kindRegistration:
		return &RegistrationData{
			GroupID:   h.group,
			RequestID: h.request,
			Data:      append([]byte(nil), rest...),
		}, nil
	case kindAcceptance:
		if len(rest) < 4 {
			return nil, ErrTruncated
		}
		return &Acceptance{
			DialogID:     h.dialog,
			GroupID:      h.group,
			RequestID:    h.request,
			HasRequestID: h.flags&flagHasRequestID != 0,
			RecordsSent:  int32(binary.BigEndian.Uint32(rest)),
		}, nil
	case kindConfirmation:
		if len(rest) < 32 {
			return nil, ErrTruncated
		}
		p := &Confirmation{DialogID: h.dialog, GroupID: h.group, RequestID: h.request}
		copy(p.Hash[:], rest)
		return p, nil
	case kindDataReceipt:
		return &DataReceipt{DialogID: h.dialog, GroupID: h.group, RequestID: h.request}, nil
	case kindSubscriptionReq:
		return &SubscriptionRequest{
			GroupID:   h.group,
			RequestID: h.request,
			Data:      append([]byte(nil), rest...),
		}, nil
	case kindSubscriptionCan:
		return &SubscriptionCancel{GroupID: h.group, RequestID: h.request}, nil
	case kindVehicleData:
		return &VehicleData{Data: append([]byte(nil), rest...)}, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownKind, h.kind)
}

func parseConnectionPoint(rest []byte) (*ConnectionPoint, error) {
	if len(rest) < 1 {
		return nil, ErrTruncated
	}
	addrLen := int(rest[0])
	if addrLen != 0 && addrLen != 4 && addrLen != 16 {
		return nil, fmt.Errorf("semi: invalid destination address length %d", addrLen)
	}
	if len(rest) < 1+addrLen+2 {
		return nil, ErrTruncated
	}
	cp := &ConnectionPoint{
		Port: binary.BigEndian.Uint16(rest[1+addrLen:]),
	}
	if addrLen > 0 {
		cp.Address = append([]byte(nil), rest[1:1+addrLen]...)
	}
	return cp, nil
}

func (BinaryCodec) Encode(pdu PDU) ([]byte, error) {
	switch p := pdu.(type) {
	case *ServiceRequest:
		var flags byte
		tail := 0
		if p.HasRequestID {
			flags |= flagHasRequestID
		}
		if p.Destination != nil {
			flags |= flagHasDestination
			tail = 1 + len(p.Destination.Address) + 2
		}
		buf := make([]byte, headerLen+tail)
		putHeader(buf, kindServiceRequest, p.DialogID, p.GroupID, p.RequestID, flags)
		if p.Destination != nil {
			buf[headerLen] = byte(len(p.Destination.Address))
			copy(buf[headerLen+1:], p.Destination.Address)
			binary.BigEndian.PutUint16(buf[headerLen+1+len(p.Destination.Address):], p.Destination.Port)
		}
		return buf, nil
	case *ServiceResponse:
		buf := make([]byte, headerLen+8+16+32)
		putHeader(buf, kindServiceResponse, p.DialogID, p.GroupID, p.RequestID, flagHasRequestID)
		binary.BigEndian.PutUint64(buf[headerLen:], uint64(p.Expiry))
		binary.BigEndian.PutUint32(buf[headerLen+8:], uint32(p.Region.NWLatitude))
		binary.BigEndian.PutUint32(buf[headerLen+12:], uint32(p.Region.NWLongitude))
		binary.BigEndian.PutUint32(buf[headerLen+16:], uint32(p.Region.SELatitude))
		binary.BigEndian.PutUint32(buf[headerLen+20:], uint32(p.Region.SELongitude))
		copy(buf[headerLen+24:], p.Hash[:])
		return buf, nil
	case *DataRequest:
		buf := make([]byte, headerLen)
		putHeader(buf, kindDataRequest, p.DialogID, p.GroupID, p.RequestID, flagHasRequestID)
		return buf, nil
	case *DiscoveryRequest:
		buf := make([]byte, headerLen)
		putHeader(buf, kindDiscoveryReq, DialogObjectDiscovery, p.GroupID, p.RequestID, flagHasRequestID)
		return buf, nil
	case *DataDelivery:
		buf := make([]byte, headerLen+len(p.Data))
		putHeader(buf, kindDataDelivery, p.DialogID, p.GroupID, p.RequestID, flagHasRequestID)
		copy(buf[headerLen:], p.Data)
		return buf, nil
	case *RegistrationData:
		buf := make([]byte, headerLen+len(p.Data))
		putHeader(buf, kindRegistration, DialogObjectRegistration, p.GroupID, p.RequestID, flagHasRequestID)
		copy(buf[headerLen:], p.Data)
		return buf, nil
	case *Acceptance:
		var flags byte
		if p.HasRequestID {
			flags |= flagHasRequestID
		}
		buf := make([]byte, headerLen+4)
		putHeader(buf, kindAcceptance, p.DialogID, p.GroupID, p.RequestID, flags)
		binary.BigEndian.PutUint32(buf[headerLen:], uint32(p.RecordsSent))
		return buf, nil
	case *Confirmation:
		buf := make([]byte, headerLen+32)
		putHeader(buf, kindConfirmation, p.DialogID, p.GroupID, p.RequestID, flagHasRequestID)
		copy(buf[headerLen:], p.Hash[:])
		return buf, nil
	case *DataReceipt:
		buf := make([]byte, headerLen)
		putHeader(buf, kindDataReceipt, p.DialogID, p.GroupID, p.RequestID, flagHasRequestID)
		return buf, nil
	case *SubscriptionRequest:
		buf := make([]byte, headerLen+len(p.Data))
		putHeader(buf, kindSubscriptionReq, DialogDataSubscription, p.GroupID, p.RequestID, flagHasRequestID)
		copy(buf[headerLen:], p.Data)
		return buf, nil
	case *SubscriptionCancel:
		buf := make([]byte, headerLen)
		putHeader(buf, kindSubscriptionCan, DialogDataSubscription, p.GroupID, p.RequestID, flagHasRequestID)
		return buf, nil
	case *VehicleData:
		buf := make([]byte, headerLen+len(p.Data))
		putHeader(buf, kindVehicleData, DialogVehicleData, 0, 0, 0)
		copy(buf[headerLen:], p.Data)
		return buf, nil
	}
	return nil, fmt.Errorf("%w: %T", ErrUnknownKind, pdu)
}
