package semi

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceRequestRoundTrip(t *testing.T) {
	codec := BinaryCodec{}

	req := &ServiceRequest{
		DialogID:     DialogAdvisoryDistribution,
		GroupID:      0x01020304,
		RequestID:    0x0a0b0c0d,
		HasRequestID: true,
		Destination:  &ConnectionPoint{Address: []byte{10, 0, 0, 9}, Port: 46751},
	}
	raw, err := codec.Encode(req)
	require.NoError(t, err)

	got, err := codec.Decode(raw)
	require.NoError(t, err)
	require.Equal(t, req, got)
	require.Equal(t, MarkerServiceRequest, got.Marker())
	require.Equal(t, DialogAdvisoryDistribution, got.Dialog())
}

func TestServiceRequestWithoutOptionalFields(t *testing.T) {
	codec := BinaryCodec{}

	req := &ServiceRequest{DialogID: DialogIntersectionDeposit, GroupID: 5}
	raw, err := codec.Encode(req)
	require.NoError(t, err)

	got, err := codec.Decode(raw)
	require.NoError(t, err)
	decoded := got.(*ServiceRequest)
	assert.False(t, decoded.HasRequestID)
	assert.Nil(t, decoded.Destination)
}

func TestServiceRequestPortOnlyDestination(t *testing.T) {
	// A destination with no address means "reply to my source address on
	// this port".
	codec := BinaryCodec{}

	req := &ServiceRequest{
		DialogID:     DialogObjectRegistration,
		RequestID:    7,
		HasRequestID: true,
		Destination:  &ConnectionPoint{Port: 9999},
	}
	raw, err := codec.Encode(req)
	require.NoError(t, err)

	got, err := codec.Decode(raw)
	require.NoError(t, err)
	decoded := got.(*ServiceRequest)
	require.NotNil(t, decoded.Destination)
	assert.Nil(t, decoded.Destination.Address)
	assert.Equal(t, uint16(9999), decoded.Destination.Port)
}

func TestServiceResponseRoundTrip(t *testing.T) {
	codec := BinaryCodec{}

	resp := &ServiceResponse{
		DialogID:  DialogIntersectionQuery,
		GroupID:   -12,
		RequestID: 99,
		Expiry:    1_700_000_000,
		Region:    DefaultServiceRegion(),
		Hash:      sha256.Sum256([]byte("request bytes")),
	}
	raw, err := codec.Encode(resp)
	require.NoError(t, err)

	got, err := codec.Decode(raw)
	require.NoError(t, err)
	require.Equal(t, resp, got)
}

func TestAcceptanceRoundTrip(t *testing.T) {
	codec := BinaryCodec{}

	acc := &Acceptance{
		DialogID:     DialogIntersectionDeposit,
		GroupID:      3,
		RequestID:    4,
		HasRequestID: true,
		RecordsSent:  17,
	}
	raw, err := codec.Encode(acc)
	require.NoError(t, err)

	got, err := codec.Decode(raw)
	require.NoError(t, err)
	require.Equal(t, acc, got)
	require.Equal(t, MarkerAccept, got.Marker())
}

func TestPayloadCarryingKinds(t *testing.T) {
	codec := BinaryCodec{}
	payload := []byte("sensor frame")

	for _, pdu := range []PDU{
		&DataDelivery{DialogID: DialogAdvisoryDeposit, GroupID: 1, RequestID: 2, Data: payload},
		&RegistrationData{GroupID: 1, RequestID: 2, Data: payload},
		&SubscriptionRequest{GroupID: 1, RequestID: 2, Data: payload},
		&VehicleData{Data: payload},
	} {
		raw, err := codec.Encode(pdu)
		require.NoError(t, err)
		got, err := codec.Decode(raw)
		require.NoError(t, err)
		require.Equal(t, pdu, got)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	codec := BinaryCodec{}

	_, err := codec.Decode(nil)
	require.ErrorIs(t, err, ErrTruncated)

	_, err = codec.Decode(make([]byte, headerLen-1))
	require.ErrorIs(t, err, ErrTruncated)

	bad := make([]byte, headerLen)
	bad[0] = 99
	_, err = codec.Decode(bad)
	require.ErrorIs(t, err, ErrBadVersion)

	unknown := make([]byte, headerLen)
	unknown[0] = wireVersion
	unknown[1] = 200
	_, err = codec.Decode(unknown)
	require.ErrorIs(t, err, ErrUnknownKind)

	// Acceptance with its records-sent field cut off.
	acc, err := codec.Encode(&Acceptance{DialogID: DialogAdvisoryDeposit})
	require.NoError(t, err)
	_, err = codec.Decode(acc[:len(acc)-1])
	require.ErrorIs(t, err, ErrTruncated)

	// Service request claiming an impossible destination address length.
	req, err := codec.Encode(&ServiceRequest{
		DialogID:    DialogAdvisoryDeposit,
		Destination: &ConnectionPoint{Address: []byte{10, 0, 0, 1}, Port: 1},
	})
	require.NoError(t, err)
	req[headerLen] = 5
	_, err = codec.Decode(req)
	require.Error(t, err)
}

func TestExternallyMediatedDialogs(t *testing.T) {
	mediated := map[DialogID]bool{
		DialogAdvisoryDistribution: true,
		DialogIntersectionQuery:    true,
		DialogObjectDiscovery:      true,
	}
	for _, d := range []DialogID{
		DialogVehicleData, DialogDataSubscription, DialogAdvisoryDeposit,
		DialogAdvisoryDistribution, DialogObjectRegistration, DialogObjectDiscovery,
		DialogIntersectionDeposit, DialogIntersectionQuery,
	} {
		assert.Equal(t, mediated[d], d.ExternallyMediated(), d.String())
	}
}
