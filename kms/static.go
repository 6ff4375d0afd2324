package kms

import (
	"context"
	"fmt"

	"github.com/alwitt/keygate/models"
)

// StaticUnwrapper a map backed Unwrapper for unit-testing and offline use.
// Maps base64 ciphertext blobs directly to plaintext keys.
type StaticUnwrapper struct {
	// Keys ciphertext base64 to plaintext key
	Keys map[string][]byte
}

/*
Unwrap decrypt one wrapped content key

	@param ctx context.Context - execution context
	@param ciphertextB64 string - base64 encoded ciphertext blob
	@returns plaintext key bytes
*/
func (u *StaticUnwrapper) Unwrap(_ context.Context, ciphertextB64 string) ([]byte, error) {
	plain, ok := u.Keys[ciphertextB64]
	if !ok {
		return nil, fmt.Errorf("no static entry for ciphertext: %w", models.ErrUnwrapFailure)
	}
	return plain, nil
}
