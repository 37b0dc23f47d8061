// Package he defines the homomorphic capability set the inference pipeline is
// written against, together with the lattigo BFV implementation used in
// production.
//
// Ciphertexts, plaintexts and keys are opaque handles owned by a Backend: code
// outside this package never looks inside them, it only moves them between
// Backend calls and serializes them through Save/Load.
package he

// Ciphertext is an encrypted integer owned by a Backend.
type Ciphertext interface{}

// Plaintext is an encoded, unencrypted integer owned by a Backend.
type Plaintext interface{}

// PublicKey encrypts. It may be shared freely.
type PublicKey interface{}

// SecretKey decrypts. It must not leave the process that generated it.
type SecretKey interface{}

// KeyPair is a freshly generated public/secret key pair.
type KeyPair struct {
	Public PublicKey
	Secret SecretKey
}

// Sample is the ordered list of ciphertexts of one feature vector, or the
// ordered per-class results computed for it.
type Sample []Ciphertext

// Batch is an ordered list of samples. Its order is the correlation key
// between a request and its response.
type Batch []Sample

// Len returns the total number of ciphertexts in the batch.
func (b Batch) Len() int {
	n := 0
	for _, s := range b {
		n += len(s)
	}
	return n
}

// Serializer converts ciphertexts to and from bytes.
type Serializer interface {
	Save(ct Ciphertext) ([]byte, error)
	Load(data []byte) (Ciphertext, error)
}

// Evaluator is the server-side arithmetic: it needs no key material.
type Evaluator interface {
	EncodeInteger(v int64) (Plaintext, error)
	MultiplyPlain(ct Ciphertext, pt Plaintext) (Ciphertext, error)
	// AddMany sums cts. An empty slice yields an encryption of zero.
	AddMany(cts []Ciphertext) (Ciphertext, error)
}

// Description is a transport-friendly summary of the scheme parameters.
type Description struct {
	Scheme           string `json:"scheme"`
	LogN             int    `json:"logN"`
	LogQ             []int  `json:"logQ,omitempty"`
	LogP             []int  `json:"logP,omitempty"`
	PlaintextModulus uint64 `json:"plaintextModulus"`
	ParametersID     string `json:"parametersID"`
}

// Backend is the full capability set. Implementations must be safe for
// concurrent use: scheme parameters are shared read-only across requests.
type Backend interface {
	Serializer
	Evaluator

	// ParametersID identifies the scheme parameters. Two backends can
	// exchange keys and ciphertexts only if their IDs are equal.
	ParametersID() string
	Describe() Description

	GenKeyPair() (KeyPair, error)
	DecodeInteger(pt Plaintext) (int64, error)
	Encrypt(pk PublicKey, pt Plaintext) (Ciphertext, error)
	Decrypt(sk SecretKey, ct Ciphertext) (Plaintext, error)
	// NoiseBudget reports the remaining noise budget of ct in bits. Zero
	// means decryption can no longer be trusted.
	NoiseBudget(sk SecretKey, ct Ciphertext) (int, error)

	// Only public keys have a wire form. Secret keys never leave the
	// process that generated them.
	MarshalPublicKey(pk PublicKey) ([]byte, error)
	UnmarshalPublicKey(data []byte) (PublicKey, error)
}
