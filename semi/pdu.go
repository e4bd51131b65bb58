package semi

// PDU is the closed set of protocol data units the gateway understands.
// Every variant carries its dialog identifier and sequence marker; the
// correlated variants additionally carry group and request identifiers.
type PDU interface {
	Dialog() DialogID
	Marker() Marker
}

// ConnectionPoint is a peer-declared return address carried on a service
// request. The address is 4 bytes for IPv4 or 16 bytes for IPv6.
type ConnectionPoint struct {
	Address []byte
	Port    uint16
}

// ServiceRequest opens trust establishment for a dialog. A request without
// a request identifier is answered with a synthesized one.
type ServiceRequest struct {
	DialogID     DialogID
	GroupID      int32
	RequestID    int32
	HasRequestID bool
	Destination  *ConnectionPoint
}

func (p *ServiceRequest) Dialog() DialogID { return p.DialogID }
func (p *ServiceRequest) Marker() Marker   { return MarkerServiceRequest }

// ServiceResponse answers a ServiceRequest with a digest of the request
// bytes, an expiry, and the service region bounds.
type ServiceResponse struct {
	DialogID  DialogID
	GroupID   int32
	RequestID int32
	Expiry    int64 // unix seconds
	Region    ServiceRegion
	Hash      [32]byte
}

func (p *ServiceResponse) Dialog() DialogID { return p.DialogID }
func (p *ServiceResponse) Marker() Marker   { return MarkerServiceResponse }

// DataRequest opens a distribution or query exchange.
type DataRequest struct {
	DialogID  DialogID
	GroupID   int32
	RequestID int32
}

func (p *DataRequest) Dialog() DialogID { return p.DialogID }
func (p *DataRequest) Marker() Marker   { return MarkerDataRequest }

// DiscoveryRequest opens an object discovery exchange.
type DiscoveryRequest struct {
	GroupID   int32
	RequestID int32
}

func (p *DiscoveryRequest) Dialog() DialogID { return DialogObjectDiscovery }
func (p *DiscoveryRequest) Marker() Marker   { return MarkerDataRequest }

// DataDelivery carries one bulk data record toward a downstream consumer.
type DataDelivery struct {
	DialogID  DialogID
	GroupID   int32
	RequestID int32
	Data      []byte
}

func (p *DataDelivery) Dialog() DialogID { return p.DialogID }
func (p *DataDelivery) Marker() Marker   { return MarkerData }

// RegistrationData registers an object with a downstream consumer.
type RegistrationData struct {
	GroupID   int32
	RequestID int32
	Data      []byte
}

func (p *RegistrationData) Dialog() DialogID { return DialogObjectRegistration }
func (p *RegistrationData) Marker() Marker   { return MarkerData }

// Acceptance is the terminal message of a bulk-delivery dialog. RecordsSent
// declares how many delivery messages the sender believes it sent.
type Acceptance struct {
	DialogID     DialogID
	GroupID      int32
	RequestID    int32
	HasRequestID bool
	RecordsSent  int32
}

func (p *Acceptance) Dialog() DialogID { return p.DialogID }
func (p *Acceptance) Marker() Marker   { return MarkerAccept }

// Confirmation acknowledges a delivery with a digest of its bytes. It is
// both received from peers and emitted by the gateway.
type Confirmation struct {
	DialogID  DialogID
	GroupID   int32
	RequestID int32
	Hash      [32]byte
}

func (p *Confirmation) Dialog() DialogID { return p.DialogID }
func (p *Confirmation) Marker() Marker   { return MarkerConfirmation }

// DataReceipt is the final receipt emitted when a dialog completes.
type DataReceipt struct {
	DialogID  DialogID
	GroupID   int32
	RequestID int32
}

func (p *DataReceipt) Dialog() DialogID { return p.DialogID }
func (p *DataReceipt) Marker() Marker   { return MarkerReceipt }

// SubscriptionRequest asks for an ongoing data feed. Subscription dialogs
// are trivial: they need no per-exchange session.
type SubscriptionRequest struct {
	GroupID   int32
	RequestID int32
	Data      []byte
}

func (p *SubscriptionRequest) Dialog() DialogID { return DialogDataSubscription }
func (p *SubscriptionRequest) Marker() Marker   { return MarkerSubscription }

// SubscriptionCancel ends a data feed.
type SubscriptionCancel struct {
	GroupID   int32
	RequestID int32
}

func (p *SubscriptionCancel) Dialog() DialogID { return DialogDataSubscription }
func (p *SubscriptionCancel) Marker() Marker   { return MarkerCancel }

// VehicleData is a fire-and-forget situation report. Vehicle data dialogs
// are trivial: they need no per-exchange session.
type VehicleData struct {
	Data []byte
}

func (p *VehicleData) Dialog() DialogID { return DialogVehicleData }
func (p *VehicleData) Marker() Marker   { return MarkerData }
