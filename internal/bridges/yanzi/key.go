package yanzi

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nerrad567/gray-logic-yanzi/internal/cirrus"
)

// keySegments is the number of '/' separated parts in a data source key.
const keySegments = 5

// Key returns the stable identifier of a data source:
//
//	serverDid/locationId/did/variableName/instanceNumber
//
// Subscription samples and catalogued sources are matched on this key.
func Key(dsa cirrus.DataSourceAddress) string {
	return fmt.Sprintf("%s/%s/%s/%s/%d",
		dsa.ServerDID, dsa.LocationID, dsa.DID, dsa.Variable(), dsa.InstanceNumber)
}

// SourceKey is a parsed data source key.
type SourceKey struct {
	ServerDID  string
	LocationID string
	DID        string
	Variable   string
	Instance   int
}

// ParseKey splits a key produced by Key.
func ParseKey(key string) (SourceKey, error) {
	parts := strings.Split(key, "/")
	if len(parts) != keySegments {
		return SourceKey{}, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	instance, err := strconv.Atoi(parts[4])
	if err != nil {
		return SourceKey{}, fmt.Errorf("%w: instance %q", ErrInvalidKey, parts[4])
	}

	return SourceKey{
		ServerDID:  parts[0],
		LocationID: parts[1],
		DID:        parts[2],
		Variable:   parts[3],
		Instance:   instance,
	}, nil
}

// String reassembles the key.
func (k SourceKey) String() string {
	return fmt.Sprintf("%s/%s/%s/%s/%d", k.ServerDID, k.LocationID, k.DID, k.Variable, k.Instance)
}

// Address returns the DataSourceAddress the key was derived from.
func (k SourceKey) Address() cirrus.DataSourceAddress {
	dsa := cirrus.NewDataSourceAddress(k.LocationID, k.DID, k.Variable)
	dsa.ServerDID = k.ServerDID
	dsa.InstanceNumber = k.Instance
	return dsa
}
