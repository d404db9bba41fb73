package secure

import (
	"errors"
	"sync"

	"github.com/awnumar/memguard"
)

// ErrDestroyed is returned when a destroyed Value is revealed.
var ErrDestroyed = errors.New("secure value has been destroyed")

// Value holds one secret string sealed in a memguard enclave. It is safe for
// concurrent use; every Reveal returns an independent copy.
type Value struct {
	mu        sync.RWMutex
	enclave   *memguard.Enclave
	size      int
	destroyed bool
}

// NewValue seals s. The empty string is represented without an enclave since
// memguard cannot hold zero bytes.
func NewValue(s string) *Value {
	v := &Value{size: len(s)}
	if len(s) > 0 {
		// NewEnclave wipes its input, so hand it a private copy.
		v.enclave = memguard.NewEnclave([]byte(s))
	}
	return v
}

// Size returns the length of the sealed value in bytes
func (v *Value) Size() int {
	return v.size
}

// Reveal decrypts the value and returns it as a string. The temporary locked
// buffer is wiped before returning.
func (v *Value) Reveal() (string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.destroyed {
		return "", ErrDestroyed
	}
	if v.enclave == nil {
		return "", nil
	}

	locked, err := v.enclave.Open()
	if err != nil {
		return "", err
	}
	defer locked.Destroy()

	return string(locked.Bytes()), nil
}

// Destroy drops the enclave. It is idempotent; later Reveal calls fail.
func (v *Value) Destroy() {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.enclave = nil
	v.destroyed = true
}

// Destroyed reports whether Destroy has been called
func (v *Value) Destroyed() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.destroyed
}
