// Package playlist - HLS manifest fetch and URL rewriting
package playlist

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/alwitt/keygate/models"
)

// keyURIPattern matches the URI attribute of an #EXT-X-KEY tag
var keyURIPattern = regexp.MustCompile(`URI="[^"]*"`)

/*
UnsafePath reject playlist paths that could escape the video's asset prefix

Rejected: empty paths, absolute paths, parent traversal, backslashes, and
percent-encoded slashes in any case mix.

	@param p string - relative playlist path
	@returns whether the path must be rejected
*/
func UnsafePath(p string) bool {
	if p == "" {
		return true
	}
	if strings.HasPrefix(p, "/") {
		return true
	}
	if strings.Contains(p, "..") {
		return true
	}
	if strings.Contains(p, "\\") {
		return true
	}
	if strings.Contains(strings.ToLower(p), "%2f") {
		return true
	}
	return false
}

// RewriteParams everything a single playlist rewrite needs
type RewriteParams struct {
	// CourseCode course code
	CourseCode string
	// VideoRef video reference as requested, echoed into rewritten URLs
	VideoRef string
	// PlaylistPath upstream-relative path of the playlist being rewritten
	PlaylistPath string
	// SelfBase URL prefix for nested playlist fetches through this service
	SelfBase string
	// AssetBase URL prefix for direct segment delivery
	AssetBase string
	// KeyURI replacement URI for #EXT-X-KEY tags
	KeyURI string
}

/*
Rewrite transform one upstream m3u8 so every URL routes back through the
delivery endpoints

The manifest is processed line by line and reassembled byte for byte apart
from the rewritten URLs:

  - Master playlists (any #EXT-X-STREAM-INF present) route variant URIs back
    through the playlist endpoint itself.
  - Media playlists route segment URIs to the asset base and replace the
    #EXT-X-KEY URI with the key delivery endpoint.
  - Comments, blank lines, and absolute http(s) URLs pass through untouched.

Rewriting is idempotent: absolute URLs produced by a first pass survive a
second pass unchanged.

	@param content string - upstream playlist body
	@param params RewriteParams - rewrite parameters
	@returns rewritten playlist body
*/
func Rewrite(content string, params RewriteParams) string {
	lines := strings.Split(content, "\n")
	isMaster := false
	for _, line := range lines {
		if strings.HasPrefix(line, "#EXT-X-STREAM-INF") {
			isMaster = true
			break
		}
	}

	// URIs inside a playlist resolve relative to the playlist's own directory
	playlistDir := path.Dir(params.PlaylistPath)
	if playlistDir == "." {
		playlistDir = ""
	}

	rewritten := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		if trimmed == "" {
			rewritten = append(rewritten, line)
			continue
		}

		if strings.HasPrefix(trimmed, "#") {
			if !isMaster && strings.HasPrefix(trimmed, "#EXT-X-KEY") {
				rewritten = append(rewritten, keyURIPattern.ReplaceAllString(
					line, fmt.Sprintf(`URI="%s"`, params.KeyURI),
				))
				continue
			}
			rewritten = append(rewritten, line)
			continue
		}

		if strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") {
			rewritten = append(rewritten, line)
			continue
		}

		norm := strings.TrimPrefix(trimmed, "./")
		relative := norm
		if playlistDir != "" {
			relative = playlistDir + "/" + norm
		}

		if isMaster && strings.HasSuffix(trimmed, ".m3u8") {
			rewritten = append(rewritten, fmt.Sprintf(
				"%s?course=%s&video=%s&path=%s",
				params.SelfBase,
				url.QueryEscape(params.CourseCode),
				url.QueryEscape(params.VideoRef),
				url.QueryEscape(relative),
			))
			continue
		}

		rewritten = append(rewritten, fmt.Sprintf(
			"%s/%s/%s/hls-aes128/%s",
			params.AssetBase, params.CourseCode, params.VideoRef, relative,
		))
	}

	return strings.Join(rewritten, "\n")
}

// buildKeyURI the key delivery URL embedded into rewritten #EXT-X-KEY tags
func buildKeyURI(keyBase, courseCode, videoRef string) string {
	return fmt.Sprintf(
		"%s?course=%s&video=%s",
		keyBase, url.QueryEscape(courseCode), url.QueryEscape(videoRef),
	)
}

// safeJoin guard against crafted playlist paths before touching upstream
func safeJoin(playlistPath string) (string, error) {
	if UnsafePath(playlistPath) {
		return "", fmt.Errorf("unsafe playlist path '%s': %w", playlistPath, models.ErrBadRequest)
	}
	return playlistPath, nil
}
