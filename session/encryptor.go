package session

import (
	"fmt"
	"math"

	"bfv-inference/envelope"
	"bfv-inference/he"
	"bfv-inference/precision"
)

// Encryptor scales and encrypts features under a public key. Holding one
// grants no ability to decrypt.
type Encryptor struct {
	backend he.Backend
	public  he.PublicKey
}

// PublicKey may be handed to anyone.
func (e *Encryptor) PublicKey() he.PublicKey { return e.public }

// ParametersID identifies the scheme parameters the key belongs to.
func (e *Encryptor) ParametersID() string { return e.backend.ParametersID() }

// NewEncryptor returns an Encryptor for a public key, typically one read
// with LoadKey.
func (m *Manager) NewEncryptor(pk he.PublicKey) *Encryptor {
	return &Encryptor{backend: m.backend, public: pk}
}

// EncryptSample scales each feature by p and encrypts it. Scaled features
// must fit the signed plaintext range ±(T-1)/2, otherwise they would wrap
// modulo T and decrypt to a different value.
func (e *Encryptor) EncryptSample(features []float64, p int64) (he.Sample, error) {
	limit := plaintextLimit(e.backend.Describe())
	sample := make(he.Sample, len(features))
	for i, f := range features {
		scaled, err := precision.ScaleChecked(f, p, limit)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}
		pt, err := e.backend.EncodeInteger(scaled)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}
		sample[i], err = e.backend.Encrypt(e.public, pt)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}
	}
	return sample, nil
}

// plaintextLimit is the largest magnitude a signed plaintext holds, or zero
// when the backend reports no modulus.
func plaintextLimit(d he.Description) int64 {
	if d.PlaintextModulus < 2 {
		return 0
	}
	half := (d.PlaintextModulus - 1) / 2
	if half > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(half)
}

// EncryptBatch encrypts every row with EncryptSample.
func (e *Encryptor) EncryptBatch(rows [][]float64, p int64) (he.Batch, error) {
	if err := precision.Validate(p); err != nil {
		return nil, err
	}
	batch := make(he.Batch, len(rows))
	for i, row := range rows {
		sample, err := e.EncryptSample(row, p)
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		batch[i] = sample
	}
	return batch, nil
}

// Seal encrypts rows with EncryptBatch and frames them as a request body.
func (e *Encryptor) Seal(rows [][]float64, p int64) ([]byte, error) {
	batch, err := e.EncryptBatch(rows, p)
	if err != nil {
		return nil, err
	}
	return envelope.Pack(e.backend, batch)
}
