// Package kms - content key unwrapping against an external key-management service
package kms

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/alwitt/goutils"
	"github.com/alwitt/keygate/models"
	"github.com/apex/log"
	awskms "github.com/aws/aws-sdk-go-v2/service/kms"
)

/*
Unwrapper decrypts envelope-encrypted content keys.

The plaintext key is held in memory only for the duration of the response and
must never be logged or persisted by any caller.
*/
type Unwrapper interface {
	/*
		Unwrap decrypt one wrapped content key

			@param ctx context.Context - execution context
			@param ciphertextB64 string - base64 encoded ciphertext blob
			@returns plaintext key bytes
	*/
	Unwrap(ctx context.Context, ciphertextB64 string) ([]byte, error)
}

// DecryptAPI the subset of the AWS KMS client this package calls
type DecryptAPI interface {
	Decrypt(
		ctx context.Context, params *awskms.DecryptInput, optFns ...func(*awskms.Options),
	) (*awskms.DecryptOutput, error)
}

// kmsUnwrapper implements Unwrapper against AWS KMS
type kmsUnwrapper struct {
	goutils.Component

	client      DecryptAPI
	callTimeout time.Duration
}

/*
NewUnwrapper define a new KMS backed key unwrapper

	@param client DecryptAPI - KMS decrypt client
	@param callTimeout time.Duration - per-call deadline on the decrypt operation
	@returns unwrapper instance
*/
func NewUnwrapper(client DecryptAPI, callTimeout time.Duration) (Unwrapper, error) {
	if client == nil {
		return nil, fmt.Errorf("no KMS client provided")
	}
	if callTimeout <= 0 {
		callTimeout = time.Second * 5
	}

	logTags := log.Fields{"module": "kms", "component": "unwrapper"}

	return &kmsUnwrapper{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		client:      client,
		callTimeout: callTimeout,
	}, nil
}

/*
Unwrap decrypt one wrapped content key

	@param ctx context.Context - execution context
	@param ciphertextB64 string - base64 encoded ciphertext blob
	@returns plaintext key bytes
*/
func (u *kmsUnwrapper) Unwrap(ctx context.Context, ciphertextB64 string) ([]byte, error) {
	blob, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return nil, fmt.Errorf("ciphertext is not valid base64 [%w]: %w", err, models.ErrUnwrapFailure)
	}

	callCtx, cancel := context.WithTimeout(ctx, u.callTimeout)
	defer cancel()

	resp, err := u.client.Decrypt(callCtx, &awskms.DecryptInput{CiphertextBlob: blob})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("KMS decrypt timed out [%w]: %w", err, models.ErrUpstreamTimeout)
		}
		return nil, fmt.Errorf("KMS decrypt call failed [%w]: %w", err, models.ErrUnwrapFailure)
	}
	if len(resp.Plaintext) == 0 {
		return nil, fmt.Errorf("KMS returned no plaintext: %w", models.ErrUnwrapFailure)
	}

	return resp.Plaintext, nil
}
