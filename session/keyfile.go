package session

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"bfv-inference/he"
)

// Key file layout:
//
//	"HEPK" | version | len(parameters ID) | parameters ID | public key bytes
//
// Only public keys are ever written. The secret key lives and dies with its
// Session.
var keyMagic = []byte("HEPK")

const keyVersion = 1

// SaveKey writes the session's public key to path.
func (s *Session) SaveKey(path string) error {
	payload, err := s.backend.MarshalPublicKey(s.public)
	if err != nil {
		return fmt.Errorf("failed to serialize public key: %w", err)
	}

	id := s.backend.ParametersID()
	var buf bytes.Buffer
	buf.Write(keyMagic)
	buf.WriteByte(keyVersion)
	buf.WriteByte(byte(len(id)))
	buf.WriteString(id)
	buf.Write(payload)

	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// LoadKey reads a public key written by SaveKey. It fails with
// he.ErrIncompatibleParameters when the key was produced under other scheme
// parameters than the manager's.
func (m *Manager) LoadKey(path string) (he.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return m.parseKey(data)
}

func (m *Manager) parseKey(data []byte) (he.PublicKey, error) {
	if len(data) < len(keyMagic)+2 || !bytes.Equal(data[:len(keyMagic)], keyMagic) {
		return nil, errors.New("not a public key file")
	}
	rest := data[len(keyMagic):]
	if rest[0] != keyVersion {
		return nil, fmt.Errorf("unsupported key file version %d", rest[0])
	}
	idLen := int(rest[1])
	rest = rest[2:]
	if len(rest) < idLen {
		return nil, errors.New("truncated key file")
	}

	if id := string(rest[:idLen]); id != m.backend.ParametersID() {
		return nil, fmt.Errorf("%w: key was generated under parameters %s, current parameters are %s",
			he.ErrIncompatibleParameters, id, m.backend.ParametersID())
	}
	return m.backend.UnmarshalPublicKey(rest[idLen:])
}

// Fingerprint digests a public key the way Session.Fingerprint does, so a
// loaded key can be matched to the session that wrote it.
func (m *Manager) Fingerprint(pk he.PublicKey) (string, error) {
	return fingerprint(m.backend, pk)
}
