package keystore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/alwitt/keygate/models"
)

// fileSource reads a flat JSON keystore file produced offline by the
// packaging pipeline. Last-resort source; the file maps "aes:<course>/<video>"
// and KID-hex keys to ciphertext entries.
type fileSource struct {
	path string
}

/*
NewFileSource define a source over a flat JSON keystore file

A missing file is not an error; the source simply reports no hits.

	@param path string - keystore file path
	@returns source instance
*/
func NewFileSource(path string) Source {
	return &fileSource{path: path}
}

// load read and parse the keystore file
func (s *fileSource) load() (map[string]models.KeystoreEntry, bool, error) {
	content, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("keystore file %s read error [%w]", s.path, err)
	}

	parsed := map[string]models.KeystoreEntry{}
	if err := json.Unmarshal(content, &parsed); err != nil {
		return nil, false, fmt.Errorf("keystore file %s unparsable [%w]", s.path, err)
	}
	return parsed, true, nil
}

// LookupAES find the single AES-128 key ciphertext of a video
func (s *fileSource) LookupAES(
	_ context.Context, courseCode string, videoID string,
) (string, bool, error) {
	entries, ok, err := s.load()
	if err != nil || !ok {
		return "", false, err
	}
	entry, present := entries[aesBlobKey(courseCode, videoID)]
	if !present || entry.Ciphertext == "" {
		return "", false, nil
	}
	return entry.Ciphertext, true, nil
}

// LookupKID find the ciphertext of one key ID of a video
func (s *fileSource) LookupKID(
	_ context.Context, videoID string, kidHex string,
) (string, bool, error) {
	entries, ok, err := s.load()
	if err != nil || !ok {
		return "", false, err
	}
	entry, present := entries[kidHex]
	if !present || entry.Ciphertext == "" {
		return "", false, nil
	}
	return entry.Ciphertext, true, nil
}
