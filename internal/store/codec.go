package store

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/mtzanidakis/webforge/internal/vault"
)

// Blob payloads carry a one-byte header describing their encoding.
const (
	encodingZstd   byte = 'z'
	encodingSealed byte = 's'
)

var ErrSealedBlob = errors.New("blob is sealed and no passphrase is configured")

func (s *Store) initCodec(passphrase string) error {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return fmt.Errorf("create zstd decoder: %w", err)
	}
	s.enc, s.dec = enc, dec

	if passphrase != "" {
		v, err := vault.New(passphrase)
		if err != nil {
			return fmt.Errorf("init vault: %w", err)
		}
		s.vault = v
	}
	return nil
}

func (s *Store) encode(slotKey string, data []byte) ([]byte, error) {
	compressed := s.enc.EncodeAll(data, nil)
	if s.vault == nil {
		return append([]byte{encodingZstd}, compressed...), nil
	}
	sealed, err := s.vault.Seal(compressed, []byte(slotKey))
	if err != nil {
		return nil, fmt.Errorf("seal blob: %w", err)
	}
	return append([]byte{encodingSealed}, sealed...), nil
}

func (s *Store) decode(slotKey string, payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty blob")
	}
	body := payload[1:]
	switch payload[0] {
	case encodingZstd:
	case encodingSealed:
		if s.vault == nil {
			return nil, ErrSealedBlob
		}
		opened, err := s.vault.Open(body, []byte(slotKey))
		if err != nil {
			return nil, fmt.Errorf("open blob: %w", err)
		}
		body = opened
	default:
		return nil, fmt.Errorf("unknown blob encoding %q", payload[0])
	}
	data, err := s.dec.DecodeAll(body, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress blob: %w", err)
	}
	return data, nil
}
