package semi

// Geographic coordinates are carried as 1/10th microdegree integers.
const geoScale = 1e7

// ServiceRegion is the bounding box advertised in service responses.
type ServiceRegion struct {
	NWLatitude  int32
	NWLongitude int32
	SELatitude  int32
	SELongitude int32
}

// DefaultServiceRegion covers the default deployment area.
func DefaultServiceRegion() ServiceRegion {
	return NewServiceRegion(43.0, -85.0, 41.0, -82.0)
}

// NewServiceRegion builds a region from decimal-degree corner coordinates.
func NewServiceRegion(nwLat, nwLon, seLat, seLon float64) ServiceRegion {
	return ServiceRegion{
		NWLatitude:  int32(nwLat * geoScale),
		NWLongitude: int32(nwLon * geoScale),
		SELatitude:  int32(seLat * geoScale),
		SELongitude: int32(seLon * geoScale),
	}
}
