// Copyright (c) 2026 Mesteriis

// Package model is the canonical in-memory data model mirroring the durable
// state of the certificate lifecycle manager: certificate descriptions
// (CertMeta), their issuances (CertInstance), the per-algorithm key material
// of an issuance (CertKeyStore), and the deployment targets a certificate is
// distributed to (DistHost / Jail / Place).
package model

import "fmt"

// CertType distinguishes a locally-signed certificate from one obtained
// through an ACME CA such as Let's Encrypt.
type CertType string

const (
	CertTypeLE    CertType = "LE"
	CertTypeLocal CertType = "local"
)

// SubjectType classifies what role a CertMeta plays.
type SubjectType string

const (
	SubjectCA       SubjectType = "CA"
	SubjectClient   SubjectType = "client"
	SubjectServer   SubjectType = "server"
	SubjectReserved SubjectType = "reserved"
)

// EncryptionAlgo is the set of key algorithms a CertMeta may request.
type EncryptionAlgo string

const (
	AlgoRSA    EncryptionAlgo = "rsa"
	AlgoEC     EncryptionAlgo = "ec"
	AlgoRSAAndEC EncryptionAlgo = "rsa+ec"
)

// Algorithms returns the concrete per-instance algorithms this encryption
// policy requires a CertInstance to carry.
func (a EncryptionAlgo) Algorithms() []Algorithm {
	switch a {
	case AlgoRSA:
		return []Algorithm{AlgRSA}
	case AlgoEC:
		return []Algorithm{AlgEC}
	case AlgoRSAAndEC:
		return []Algorithm{AlgRSA, AlgEC}
	default:
		return nil
	}
}

// Algorithm identifies one entry of a CertInstance's key-store map.
type Algorithm string

const (
	AlgRSA Algorithm = "rsa"
	AlgEC  Algorithm = "ec"
)

// InstanceState is the lifecycle state of a CertInstance.
type InstanceState string

const (
	StateReserved     InstanceState = "reserved"
	StateIssued       InstanceState = "issued"
	StatePrepublished InstanceState = "prepublished"
	StateDeployed     InstanceState = "deployed"
	StateRevoked      InstanceState = "revoked"
	StateExpired      InstanceState = "expired"
	StateArchived     InstanceState = "archived"
)

// CertFileType picks which files a Place writes for an issuance, per spec §4.4.
type CertFileType string

const (
	CertFileCertOnly      CertFileType = "cert only"
	CertFileSeparate      CertFileType = "separate"
	CertFileCombineKey    CertFileType = "combine key"
	CertFileCombineCACert CertFileType = "combine cacert"
	CertFileCombineBoth   CertFileType = "combine both"
)

// ErrUnknownAlgorithm is returned when a CertMeta's EncryptionAlgo or a
// CertInstance's key-store key does not match a known Algorithm.
var ErrUnknownAlgorithm = fmt.Errorf("unknown algorithm")
