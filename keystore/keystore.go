// Package keystore - content key ciphertext lookup across backing stores
package keystore

import (
	"context"
	"errors"
	"fmt"

	"github.com/alwitt/goutils"
	"github.com/alwitt/keygate/models"
	"github.com/apex/log"
)

/*
Source one backing store which may hold wrapped content keys.

The multiple backing representations (typed table, generic JSON blob, flat
file) are a result of incremental migration of the packaging pipeline; a
source reports "not here" with ok=false so the chain can continue probing.
*/
type Source interface {
	/*
		LookupAES find the single AES-128 key ciphertext of a video

			@param ctx context.Context - execution context
			@param courseCode string - owning course code
			@param videoID string - video ID
			@returns ciphertext base64 and whether this source holds it
	*/
	LookupAES(ctx context.Context, courseCode string, videoID string) (string, bool, error)

	/*
		LookupKID find the ciphertext of one key ID of a video

			@param ctx context.Context - execution context
			@param videoID string - video ID
			@param kidHex string - hex encoded 16-byte key ID
			@returns ciphertext base64 and whether this source holds it
	*/
	LookupKID(ctx context.Context, videoID string, kidHex string) (string, bool, error)
}

// Chain probes an ordered list of sources; the first hit wins
type Chain struct {
	goutils.Component

	sources []Source
}

/*
NewChain define a new keystore lookup chain

Probe order follows the argument order and is fixed for the lifetime of the
chain.

	@param sources ...Source - backing stores, highest priority first
	@returns chain instance
*/
func NewChain(sources ...Source) (*Chain, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("keystore chain needs at least one source")
	}

	logTags := log.Fields{"module": "keystore", "component": "lookup-chain"}

	return &Chain{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		sources: sources,
	}, nil
}

/*
AESKeyCiphertext resolve the single AES-128 key ciphertext of a video

	@param ctx context.Context - execution context
	@param courseCode string - owning course code
	@param videoID string - video ID
	@returns ciphertext base64
*/
func (c *Chain) AESKeyCiphertext(
	ctx context.Context, courseCode string, videoID string,
) (string, error) {
	for _, source := range c.sources {
		ciphertext, ok, err := source.LookupAES(ctx, courseCode, videoID)
		if err != nil {
			return "", fmt.Errorf("keystore source probe failed [%w]", err)
		}
		if ok {
			return ciphertext, nil
		}
	}
	return "", fmt.Errorf(
		"no AES key ciphertext for '%s/%s' in any store: %w",
		courseCode, videoID, models.ErrKeyNotFound,
	)
}

/*
KeyCiphertext resolve the ciphertext of one key ID of a video

	@param ctx context.Context - execution context
	@param videoID string - video ID
	@param kidHex string - hex encoded 16-byte key ID
	@returns ciphertext base64
*/
func (c *Chain) KeyCiphertext(
	ctx context.Context, videoID string, kidHex string,
) (string, error) {
	for _, source := range c.sources {
		ciphertext, ok, err := source.LookupKID(ctx, videoID, kidHex)
		if err != nil {
			return "", fmt.Errorf("keystore source probe failed [%w]", err)
		}
		if ok {
			return ciphertext, nil
		}
	}
	return "", fmt.Errorf(
		"KID %s of video '%s' not in any store: %w", kidHex, videoID, models.ErrKeyNotFound,
	)
}

/*
ContainsAESKey check whether any store holds the AES key of a video

	@param ctx context.Context - execution context
	@param courseCode string - owning course code
	@param videoID string - video ID
	@returns whether a ciphertext exists
*/
func (c *Chain) ContainsAESKey(
	ctx context.Context, courseCode string, videoID string,
) (bool, error) {
	_, err := c.AESKeyCiphertext(ctx, courseCode, videoID)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, models.ErrKeyNotFound) {
		return false, nil
	}
	return false, err
}
