package kms_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"testing"

	"github.com/alwitt/keygate/kms"
	"github.com/alwitt/keygate/models"
	awskms "github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/stretchr/testify/assert"
)

// fakeDecryptAPI scripted KMS decrypt responses keyed by ciphertext
type fakeDecryptAPI struct {
	keys    map[string][]byte
	failure error
}

func (f *fakeDecryptAPI) Decrypt(
	_ context.Context, params *awskms.DecryptInput, _ ...func(*awskms.Options),
) (*awskms.DecryptOutput, error) {
	if f.failure != nil {
		return nil, f.failure
	}
	return &awskms.DecryptOutput{Plaintext: f.keys[string(params.CiphertextBlob)]}, nil
}

// TestUnwrap verifies content key unwrapping.
//
// The test performs the following steps:
//
//  1. A wrapped key round-trips through the decrypt call.
//  2. Non-base64 ciphertext fails with UnwrapFailure before any KMS call.
//  3. An empty plaintext response fails with UnwrapFailure.
//  4. A decrypt timeout surfaces as UpstreamTimeout.
func TestUnwrap(t *testing.T) {
	assert := assert.New(t)
	utCtx := context.Background()

	wrapped := []byte("wrapped-blob")
	plaintext := bytes.Repeat([]byte{0x33}, 16)
	client := &fakeDecryptAPI{keys: map[string][]byte{string(wrapped): plaintext}}

	uut, err := kms.NewUnwrapper(client, 0)
	assert.Nil(err)

	// 1. Round trip
	result, err := uut.Unwrap(utCtx, base64.StdEncoding.EncodeToString(wrapped))
	assert.Nil(err)
	assert.Equal(plaintext, result)

	// 2. Undecodable ciphertext
	_, err = uut.Unwrap(utCtx, "!!not-base64!!")
	assert.True(errors.Is(err, models.ErrUnwrapFailure))

	// 3. No plaintext returned
	_, err = uut.Unwrap(utCtx, base64.StdEncoding.EncodeToString([]byte("unknown")))
	assert.True(errors.Is(err, models.ErrUnwrapFailure))

	// 4. Decrypt deadline
	client.failure = fmt.Errorf("request aborted [%w]", context.DeadlineExceeded)
	_, err = uut.Unwrap(utCtx, base64.StdEncoding.EncodeToString(wrapped))
	assert.True(errors.Is(err, models.ErrUpstreamTimeout))
}
