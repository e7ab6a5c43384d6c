package confloader

import "errors"

// ErrReadBytesNotSupported is returned when koanf asks the map
// provider for raw bytes.
var ErrReadBytesNotSupported = errors.New("confloader: map provider has no byte form")

// mapProvider feeds an in-memory map to koanf. koanf probes Read
// first for providers that expose parsed data, so ReadBytes only
// exists to satisfy the interface.
type mapProvider map[string]any

func (m mapProvider) ReadBytes() ([]byte, error) {
	return nil, ErrReadBytesNotSupported
}

func (m mapProvider) Read() (map[string]any, error) {
	return m, nil
}
