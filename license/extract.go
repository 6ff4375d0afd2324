// Package license - ClearKey license and raw key issuance
package license

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alwitt/keygate/models"
)

// keyIDLen a CENC key ID is always 16 bytes
const keyIDLen = 16

// psshKeyCountOffset byte offset of the big-endian key count within the PSSH box
const psshKeyCountOffset = 28

// psshFirstKeyOffset byte offset of the first key ID within the PSSH box
const psshFirstKeyOffset = 32

// minPSSHLen smallest PSSH box holding at least one key ID
const minPSSHLen = psshFirstKeyOffset + keyIDLen

// structuredKeyRequest the JSON form of an EME license request body
type structuredKeyRequest struct {
	Kids []string `json:"kids"`
}

/*
ExtractKeyIDs parse a license request body into key IDs

The body is content-type ambiguous: a JSON `{"kids": [...]}` object is tried
first, then the body is treated as a raw CENC PSSH box. Key IDs are returned
in request order; that order determines the response ordering some players
expect.

	@param body []byte - raw request body
	@returns ordered list of 16-byte key IDs
*/
func ExtractKeyIDs(body []byte) ([][]byte, error) {
	var structured structuredKeyRequest
	if err := json.Unmarshal(body, &structured); err == nil && len(structured.Kids) > 0 {
		kids := make([][]byte, 0, len(structured.Kids))
		for idx, encoded := range structured.Kids {
			kid, err := decodeKeyID(encoded)
			if err != nil {
				return nil, fmt.Errorf("kids[%d] undecodable [%w]: %w", idx, err, models.ErrBadRequest)
			}
			kids = append(kids, kid)
		}
		return kids, nil
	}

	// Fallback to CENC PSSH parsing
	if len(body) < minPSSHLen {
		return nil, fmt.Errorf(
			"initData too short (%d bytes); cannot parse KID: %w", len(body), models.ErrBadRequest,
		)
	}

	count := binary.BigEndian.Uint32(body[psshKeyCountOffset : psshKeyCountOffset+4])
	kids := [][]byte{}
	for i := uint32(0); i < count; i++ {
		offset := psshFirstKeyOffset + int(i)*keyIDLen
		// Skip malformed trailing entries rather than failing
		if len(body) < offset+keyIDLen {
			break
		}
		kids = append(kids, body[offset:offset+keyIDLen])
	}

	if len(kids) == 0 {
		return nil, fmt.Errorf("no KIDs extracted: %w", models.ErrBadRequest)
	}
	return kids, nil
}

// decodeKeyID decode one base64 key ID, tolerating URL-safe alphabets and
// missing padding as EME clients produce both
func decodeKeyID(encoded string) ([]byte, error) {
	normalized := strings.NewReplacer("-", "+", "_", "/").Replace(encoded)
	normalized = strings.TrimRight(normalized, "=")
	if pad := len(normalized) % 4; pad != 0 {
		normalized += strings.Repeat("=", 4-pad)
	}

	kid, err := base64.StdEncoding.DecodeString(normalized)
	if err != nil {
		return nil, err
	}
	if len(kid) != keyIDLen {
		return nil, fmt.Errorf("key ID is %d bytes, expected %d", len(kid), keyIDLen)
	}
	return kid, nil
}
