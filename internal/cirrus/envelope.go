package cirrus

import (
	"encoding/json"
	"fmt"
)

// Message types used by this client.
const (
	TypeLoginRequest        = "LoginRequest"
	TypeSubscribeRequest    = "SubscribeRequest"
	TypeGetSamplesRequest   = "GetSamplesRequest"
	TypePeriodicRequest     = "PeriodicRequest"
	TypeGraphQLRequest      = "GraphQLRequest"
	TypeCirrusLocalRequest  = "CirrusLocalRequest"
	TypeGetLocationsRequest = "GetLocationsRequest"

	// TypeSubscribeData is the messageType of pushed subscription data.
	TypeSubscribeData = "SubscribeData"
)

// ResponseSuccess is the responseCode name the server uses for success.
const ResponseSuccess = "success"

// Request is an outbound envelope.
//
// Implementations are plain structs whose JSON fields are the protocol
// fields of that message type. Encode adds messageType and
// messageIdentifier.
type Request interface {
	MessageType() string
}

// Passthrough carries protocol fields the typed envelopes do not model.
// Typed fields take precedence on key collision.
type Passthrough struct {
	Extra map[string]any `json:"-"`
}

func (p Passthrough) extraFields() map[string]any { return p.Extra }

type extender interface {
	extraFields() map[string]any
}

// MessageIdentifier correlates a response with its request.
type MessageIdentifier struct {
	ResourceType string `json:"resourceType"`
	MessageID    string `json:"messageId"`
}

// ResponseCode is the status block carried on responses.
type ResponseCode struct {
	ResourceType string `json:"resourceType,omitempty"`
	Name         string `json:"name"`
}

// LocationAddress identifies a location.
type LocationAddress struct {
	ResourceType string `json:"resourceType"`
	LocationID   string `json:"locationId"`
}

// NewLocationAddress returns a LocationAddress for locationID.
func NewLocationAddress(locationID string) LocationAddress {
	return LocationAddress{ResourceType: "LocationAddress", LocationID: locationID}
}

// UnitAddress identifies a unit, or a whole location when DID is empty.
type UnitAddress struct {
	ResourceType string `json:"resourceType"`
	LocationID   string `json:"locationId,omitempty"`
	DID          string `json:"did,omitempty"`
	ServerDID    string `json:"serverDid,omitempty"`
}

// NewUnitAddress returns a UnitAddress covering every unit in locationID.
func NewUnitAddress(locationID string) UnitAddress {
	return UnitAddress{ResourceType: "UnitAddress", LocationID: locationID}
}

// SubscriptionType names the kind of pushed data a subscription receives.
type SubscriptionType struct {
	ResourceType string `json:"resourceType"`
	Name         string `json:"name"`
}

// NewSubscriptionType returns a SubscriptionType with the given name ("data").
func NewSubscriptionType(name string) SubscriptionType {
	return SubscriptionType{ResourceType: "SubscriptionType", Name: name}
}

// VariableName names a data source variable such as "temperatureC".
type VariableName struct {
	ResourceType string `json:"resourceType"`
	Name         string `json:"name"`
}

// DataSourceAddress identifies one variable of one unit.
type DataSourceAddress struct {
	ResourceType   string        `json:"resourceType"`
	ServerDID      string        `json:"serverDid,omitempty"`
	LocationID     string        `json:"locationId"`
	DID            string        `json:"did"`
	VariableName   *VariableName `json:"variableName,omitempty"`
	InstanceNumber int           `json:"instanceNumber"`
}

// NewDataSourceAddress returns the address of variable on unit did.
func NewDataSourceAddress(locationID, did, variable string) DataSourceAddress {
	return DataSourceAddress{
		ResourceType: "DataSourceAddress",
		LocationID:   locationID,
		DID:          did,
		VariableName: &VariableName{ResourceType: "VariableName", Name: variable},
	}
}

// Variable returns the variable name, or "" if none is set.
func (a DataSourceAddress) Variable() string {
	if a.VariableName == nil {
		return ""
	}
	return a.VariableName.Name
}

// TimeSerieSelection selects samples relative to TimeStart (epoch millis).
type TimeSerieSelection struct {
	ResourceType               string `json:"resourceType"`
	TimeStart                  int64  `json:"timeStart"`
	NumberOfSamplesBeforeStart int    `json:"numberOfSamplesBeforeStart"`
}

// NewTimeSerieSelection selects the n samples preceding startMillis.
func NewTimeSerieSelection(startMillis int64, n int) TimeSerieSelection {
	return TimeSerieSelection{
		ResourceType:               "TimeSerieSelection",
		TimeStart:                  startMillis,
		NumberOfSamplesBeforeStart: n,
	}
}

// LoginRequest authenticates the session with a username/password pair,
// an existing session id or an access token.
type LoginRequest struct {
	Passthrough
	Username    string `json:"username,omitempty"`
	Password    string `json:"password,omitempty"`
	SessionID   string `json:"sessionId,omitempty"`
	AccessToken string `json:"accessToken,omitempty"`
}

// MessageType implements Request.
func (LoginRequest) MessageType() string { return TypeLoginRequest }

// SubscribeRequest subscribes to pushed data for a unit or location.
type SubscribeRequest struct {
	Passthrough
	UnitAddress      UnitAddress      `json:"unitAddress"`
	SubscriptionType SubscriptionType `json:"subscriptionType"`
}

// MessageType implements Request.
func (SubscribeRequest) MessageType() string { return TypeSubscribeRequest }

// GetSamplesRequest fetches samples of one data source.
type GetSamplesRequest struct {
	Passthrough
	DataSourceAddress  DataSourceAddress  `json:"dataSourceAddress"`
	TimeSerieSelection TimeSerieSelection `json:"timeSerieSelection"`
}

// MessageType implements Request.
func (GetSamplesRequest) MessageType() string { return TypeGetSamplesRequest }

// PeriodicRequest is the keep-alive ping.
type PeriodicRequest struct {
	Passthrough
}

// MessageType implements Request.
func (PeriodicRequest) MessageType() string { return TypePeriodicRequest }

// GraphQLRequest runs a GraphQL query against a location.
type GraphQLRequest struct {
	Passthrough
	LocationAddress LocationAddress `json:"locationAddress"`
	Query           string          `json:"query"`
	Vars            map[string]any  `json:"vars"`
	IsLS            bool            `json:"isLS"`
}

// MessageType implements Request.
func (GraphQLRequest) MessageType() string { return TypeGraphQLRequest }

// Blob is a base64 payload carried by CirrusLocalRequest.
type Blob struct {
	ResourceType string `json:"resourceType"`
	BlobType     string `json:"blobType"`
	BlobData     string `json:"blobData"`
}

// CirrusLocalRequest carries a local (non-standard) message to the server.
type CirrusLocalRequest struct {
	Passthrough
	LocalMessageType string `json:"localMessageType"`
	List             []Blob `json:"list,omitempty"`
}

// MessageType implements Request.
func (CirrusLocalRequest) MessageType() string { return TypeCirrusLocalRequest }

// GetLocationsRequest lists the locations visible to the session.
type GetLocationsRequest struct {
	Passthrough
}

// MessageType implements Request.
func (GetLocationsRequest) MessageType() string { return TypeGetLocationsRequest }

// RawRequest sends an arbitrary message type with untyped fields.
type RawRequest struct {
	Type   string
	Fields map[string]any
}

// MessageType implements Request.
func (r RawRequest) MessageType() string { return r.Type }

// Response is an inbound JSON envelope.
//
// Only the fields the client itself needs are decoded; Raw keeps the full
// object for Decode.
type Response struct {
	MessageType       string             `json:"messageType"`
	MessageIdentifier *MessageIdentifier `json:"messageIdentifier,omitempty"`
	ResponseCode      *ResponseCode      `json:"responseCode,omitempty"`
	SessionID         *string            `json:"sessionId,omitempty"`
	ExpireTime        int64              `json:"expireTime,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// ID returns the correlation identifier and whether one was present.
func (r *Response) ID() (string, bool) {
	if r.MessageIdentifier == nil {
		return "", false
	}
	return r.MessageIdentifier.MessageID, true
}

// Success reports whether the response carries responseCode.name "success".
func (r *Response) Success() bool {
	return r.ResponseCode != nil && r.ResponseCode.Name == ResponseSuccess
}

// Code returns the responseCode name, or "" if absent.
func (r *Response) Code() string {
	if r.ResponseCode == nil {
		return ""
	}
	return r.ResponseCode.Name
}

// Decode unmarshals the full envelope into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Raw, v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidFrame, err)
	}
	return nil
}

// String returns the raw envelope, for logging.
func (r *Response) String() string {
	return string(r.Raw)
}
