package domain

import "time"

// Proof is the wire-format proof sub-object carried by every signed document
// (DID document updates, credentials, presentations). SignatureValue holds
// the raw signature bytes, base64-encoded by the JSON codec.
type Proof struct {
	Algorithm          string    `json:"algorithm"`
	CreatedAt          time.Time `json:"createdAt"`
	VerificationMethod string    `json:"verificationMethodRef"`
	SignatureValue     []byte    `json:"signatureValue"`
}
