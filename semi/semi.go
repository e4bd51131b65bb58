// Package semi defines the protocol message model for the gateway: the
// closed set of dialog identifiers, sequence markers, and PDU variants
// exchanged with connected-vehicle peers, plus the wire codec.
package semi

import "fmt"

// DialogID identifies one class of request/response/confirmation exchange.
type DialogID uint32

const (
	DialogVehicleData          DialogID = 0x9a
	DialogDataSubscription     DialogID = 0x9b
	DialogAdvisoryDeposit      DialogID = 0x9c
	DialogAdvisoryDistribution DialogID = 0x9d
	DialogObjectRegistration   DialogID = 0x9e
	DialogObjectDiscovery      DialogID = 0x9f
	DialogIntersectionDeposit  DialogID = 0xa2
	DialogIntersectionQuery    DialogID = 0xa3
)

func (d DialogID) String() string {
	switch d {
	case DialogVehicleData:
		return "vehicle-data"
	case DialogDataSubscription:
		return "data-subscription"
	case DialogAdvisoryDeposit:
		return "advisory-deposit"
	case DialogAdvisoryDistribution:
		return "advisory-distribution"
	case DialogObjectRegistration:
		return "object-registration"
	case DialogObjectDiscovery:
		return "object-discovery"
	case DialogIntersectionDeposit:
		return "intersection-deposit"
	case DialogIntersectionQuery:
		return "intersection-query"
	}
	return fmt.Sprintf("dialog(0x%x)", uint32(d))
}

// ExternallyMediated reports whether the dialog's terminal exchange (the
// acceptance/receipt loop) completes outside the gateway, via a downstream
// consumer that delivers an asynchronous receipt notification. Sessions for
// these dialogs live longer and their final receipt is withheld until the
// notification arrives.
func (d DialogID) ExternallyMediated() bool {
	switch d {
	case DialogAdvisoryDistribution, DialogIntersectionQuery, DialogObjectDiscovery:
		return true
	}
	return false
}

// Marker tags a message's position within a dialog.
type Marker uint8

const (
	MarkerServiceRequest  Marker = 1
	MarkerServiceResponse Marker = 2
	MarkerDataRequest     Marker = 3
	MarkerConfirmation    Marker = 4
	MarkerData            Marker = 5
	MarkerAccept          Marker = 6
	MarkerReceipt         Marker = 7
	MarkerSubscription    Marker = 8
	MarkerCancel          Marker = 10
)

func (m Marker) String() string {
	switch m {
	case MarkerServiceRequest:
		return "svcReq"
	case MarkerServiceResponse:
		return "svcResp"
	case MarkerDataRequest:
		return "dataReq"
	case MarkerConfirmation:
		return "dataConf"
	case MarkerData:
		return "data"
	case MarkerAccept:
		return "accept"
	case MarkerReceipt:
		return "receipt"
	case MarkerSubscription:
		return "subscription"
	case MarkerCancel:
		return "cancel"
	}
	return fmt.Sprintf("marker(%d)", uint8(m))
}
