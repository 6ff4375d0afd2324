package playlist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alwitt/goutils"
	"github.com/alwitt/keygate/db"
	"github.com/alwitt/keygate/entitlement"
	"github.com/alwitt/keygate/models"
	"github.com/apex/log"
	"github.com/go-resty/resty/v2"
)

// masterPlaylistName the playlist served when no path is requested
const masterPlaylistName = "master.m3u8"

// Endpoints same-origin URL prefixes embedded into rewritten playlists
type Endpoints struct {
	// PlaylistBase URL of the playlist endpoint itself, for nested playlists
	PlaylistBase string `validate:"required"`
	// KeyBase URL of the HLS key delivery endpoint
	KeyBase string `validate:"required"`
	// AssetBase public URL prefix segments are served from
	AssetBase string `validate:"required"`
}

/*
Rewriter serves HLS playlists with every URL routed through the delivery
endpoints.

Segments are never proxied, only readdressed; the upstream playlist is the
only object fetched here.
*/
type Rewriter interface {
	/*
		Serve fetch and rewrite one playlist of a video

			@param ctx context.Context - execution context
			@param email string - authenticated identity
			@param courseCode string - course code
			@param videoRef string - canonical video ID or storage path slug
			@param playlistPath string - playlist path relative to the video's asset prefix
			@returns rewritten playlist body
	*/
	Serve(ctx context.Context, email, courseCode, videoRef, playlistPath string) (string, error)
}

// rewriterImpl implements Rewriter
type rewriterImpl struct {
	goutils.Component

	persistence db.Client
	checker     entitlement.Checker
	fetch       *resty.Client
	originBase  string
	endpoints   Endpoints
}

/*
NewRewriter define a new playlist rewriter

	@param persistence db.Client - persistence layer client, used for audit events
	@param checker entitlement.Checker - entitlement checker
	@param originBase string - asset origin base URL playlists are fetched from
	@param endpoints Endpoints - same-origin URL prefixes for rewriting
	@returns rewriter instance
*/
func NewRewriter(
	persistence db.Client,
	checker entitlement.Checker,
	originBase string,
	endpoints Endpoints,
) (Rewriter, error) {
	if checker == nil {
		return nil, fmt.Errorf("rewriter missing entitlement checker")
	}
	if originBase == "" {
		return nil, fmt.Errorf("rewriter missing asset origin base URL")
	}

	logTags := log.Fields{"module": "playlist", "component": "rewriter"}

	return &rewriterImpl{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		persistence: persistence,
		checker:     checker,
		fetch:       resty.New().SetTimeout(time.Second * 5),
		originBase:  originBase,
		endpoints:   endpoints,
	}, nil
}

/*
Serve fetch and rewrite one playlist of a video

	@param ctx context.Context - execution context
	@param email string - authenticated identity
	@param courseCode string - course code
	@param videoRef string - canonical video ID or storage path slug
	@param playlistPath string - playlist path relative to the video's asset prefix
	@returns rewritten playlist body
*/
func (r *rewriterImpl) Serve(
	ctx context.Context, email, courseCode, videoRef, playlistPath string,
) (string, error) {
	startedAt := time.Now()

	if playlistPath == "" {
		playlistPath = masterPlaylistName
	}
	safePath, err := safeJoin(playlistPath)
	if err != nil {
		return "", err
	}

	if _, err := r.checker.Authorize(ctx, email, courseCode, videoRef); err != nil {
		return "", err
	}

	upstream := fmt.Sprintf(
		"%s/%s/%s/hls-aes128/%s", r.originBase, courseCode, videoRef, safePath,
	)
	resp, err := r.fetch.R().SetContext(ctx).Get(upstream)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("playlist fetch timed out [%w]: %w", err, models.ErrUpstreamTimeout)
		}
		return "", fmt.Errorf("playlist fetch failed [%w]: %w", err, models.ErrUpstreamError)
	}
	if resp.StatusCode() == 404 {
		return "", fmt.Errorf("playlist '%s' absent upstream: %w", safePath, models.ErrNotFound)
	}
	if !resp.IsSuccess() {
		return "", fmt.Errorf(
			"playlist fetch returned %d: %w", resp.StatusCode(), models.ErrUpstreamError,
		)
	}

	rewritten := Rewrite(string(resp.Body()), RewriteParams{
		CourseCode:   courseCode,
		VideoRef:     videoRef,
		PlaylistPath: safePath,
		SelfBase:     r.endpoints.PlaylistBase,
		AssetBase:    r.endpoints.AssetBase,
		KeyURI:       buildKeyURI(r.endpoints.KeyBase, courseCode, videoRef),
	})

	r.audit(ctx, email, courseCode, videoRef)
	log.WithFields(r.LogTags).
		WithField("email", email).
		WithField("course", courseCode).
		WithField("video", videoRef).
		WithField("path", safePath).
		WithField("latency", time.Since(startedAt).String()).
		Info("Playlist served")

	return rewritten, nil
}

// audit record a playlist delivery event, log-and-continue on failure
func (r *rewriterImpl) audit(ctx context.Context, email, courseCode, videoRef string) {
	if r.persistence == nil {
		return
	}
	err := r.persistence.UseDatabase(ctx, func(dbCtx context.Context, dbClient db.Database) error {
		_, err := dbClient.RecordDeliveryEvent(
			dbCtx, models.DeliveryEventTypePlaylistServed, models.DeliveryEventMetadata{
				Email: email, CourseCode: courseCode, VideoID: videoRef,
			},
		)
		return err
	})
	if err != nil {
		log.WithError(err).WithFields(r.LogTags).Warn("Failed to record delivery audit event")
	}
}
