// Package rpc holds the wire contract of the ClaimsService gRPC API shared
// by the server handler and the client. Messages are google.protobuf.Struct
// values carrying the same JSON documents as the HTTP API.
package rpc

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "ap.threeway.v1.ClaimsService"

// Method names
const (
	MethodGetClaim        = "GetClaim"
	MethodListClaims      = "ListClaims"
	MethodSubmitClaim     = "SubmitClaim"
	MethodEditClaim       = "EditClaim"
	MethodPreviewMatching = "PreviewMatching"
	MethodDistinctKeys    = "DistinctKeys"
)

// Metadata keys carrying the caller's credential
const (
	MetadataSecret = "x-verifier-secret"
	MetadataActor  = "x-verifier-name"
)

// FullMethod returns the "/service/method" path used on the wire
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// ToStruct converts any JSON-marshalable value into a Struct
func ToStruct(v interface{}) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to build struct: %w", err)
	}
	return s, nil
}

// FromStruct decodes a Struct into dst through its JSON form
func FromStruct(s *structpb.Struct, dst interface{}) error {
	if s == nil {
		s = &structpb.Struct{}
	}
	data, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to read struct: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to decode message: %w", err)
	}
	return nil
}

// GetClaimRequest selects one claim
type GetClaimRequest struct {
	ClaimNumber string `json:"claim_number"`
}

// ListClaimsRequest filters a listing. All asks for private claims too.
type ListClaimsRequest struct {
	Query string `json:"q,omitempty"`
	All   bool   `json:"all,omitempty"`
}

// ListClaimsResponse is a page of claims, kept as raw JSON documents so
// either side can decode them into its own types
type ListClaimsResponse struct {
	Claims []json.RawMessage `json:"claims"`
	Total  int               `json:"total"`
}

// DistinctKeysResponse lists known claim numbers
type DistinctKeysResponse struct {
	ClaimNumbers []string `json:"claim_numbers"`
}
