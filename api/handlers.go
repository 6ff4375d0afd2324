package api

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/alwitt/goutils"
	"github.com/alwitt/keygate/db"
	"github.com/alwitt/keygate/license"
	"github.com/alwitt/keygate/models"
	"github.com/alwitt/keygate/playlist"
	"github.com/alwitt/keygate/token"
	"github.com/apex/log"
	"github.com/gin-gonic/gin"
)

// maxLicenseBodyLen largest accepted license request body. PSSH boxes and
// kids arrays are tiny; anything larger is garbage.
const maxLicenseBodyLen = 64 * 1024

// Handler the key delivery HTTP handlers
type Handler struct {
	goutils.Component

	persistence db.Client
	responder   license.Responder
	rewriter    playlist.Rewriter
	tokens      token.Issuer
}

/*
NewHandler define the key delivery HTTP handlers

	@param persistence db.Client - persistence layer client
	@param responder license.Responder - license responder
	@param rewriter playlist.Rewriter - playlist rewriter
	@param tokens token.Issuer - playback token issuer
	@returns handler instance
*/
func NewHandler(
	persistence db.Client,
	responder license.Responder,
	rewriter playlist.Rewriter,
	tokens token.Issuer,
) (*Handler, error) {
	if responder == nil || rewriter == nil || tokens == nil {
		return nil, fmt.Errorf("handler missing a required collaborator")
	}

	logTags := log.Fields{"module": "api", "component": "handler"}

	return &Handler{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		persistence: persistence,
		responder:   responder,
		rewriter:    rewriter,
		tokens:      tokens,
	}, nil
}

/*
RegisterRoutes attach all delivery endpoints to a gin router group

	@param router gin.IRouter - target router
	@param identity gin.HandlerFunc - identity middleware
*/
func (h *Handler) RegisterRoutes(router gin.IRouter, identity gin.HandlerFunc) {
	group := router.Group("/api", RequestLogger(), identity)
	group.POST("/drm/license", h.ClearKeyLicense)
	group.GET("/hls-key", h.HLSKey)
	group.GET("/hls/playlist", h.Playlist)
	group.GET("/playback-token", h.PlaybackToken)
	group.POST("/video/record-time", h.RecordWatchTime)
}

// videoCoordinates pull course and video query parameters, accepting both
// alias spellings for player compatibility
func videoCoordinates(c *gin.Context) (string, string, error) {
	course := c.Query("course")
	if course == "" {
		course = c.Query("courseCode")
	}
	video := c.Query("video")
	if video == "" {
		video = c.Query("videoId")
	}
	if course == "" || video == "" {
		return "", "", fmt.Errorf("course and video parameters required: %w", models.ErrBadRequest)
	}
	return course, video, nil
}

// deliveryRequest assemble the responder request coordinates of one call
func deliveryRequest(c *gin.Context, courseCode, videoRef string) license.Request {
	return license.Request{
		Email:      GetEmail(c),
		ClientIP:   c.ClientIP(),
		CourseCode: courseCode,
		VideoRef:   videoRef,
	}
}

// reply error response with a generic public message; internals stay in logs
func (h *Handler) reply(c *gin.Context, err error) {
	log.WithError(err).WithFields(h.LogTags).
		WithField("email", GetEmail(c)).
		WithField("path", c.Request.URL.Path).
		Warn("Request failed")
	c.AbortWithStatusJSON(models.HTTPStatus(err), gin.H{"error": models.PublicMessage(err)})
}

/*
ClearKeyLicense handle POST /api/drm/license

Body is either a JSON `{"kids": [...]}` object or a raw CENC PSSH box.
Responds with a ClearKey JSON license covering every requested key ID.
*/
func (h *Handler) ClearKeyLicense(c *gin.Context) {
	courseCode, videoRef, err := videoCoordinates(c)
	if err != nil {
		h.reply(c, err)
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxLicenseBodyLen))
	if err != nil {
		h.reply(c, fmt.Errorf("license request body unreadable [%w]: %w", err, models.ErrBadRequest))
		return
	}

	resp, err := h.responder.ClearKeyLicense(
		c.Request.Context(), deliveryRequest(c, courseCode, videoRef), body,
	)
	if err != nil {
		h.reply(c, err)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, resp)
}

/*
HLSKey handle GET /api/hls-key

Responds with exactly 16 raw key bytes as an octet stream.
*/
func (h *Handler) HLSKey(c *gin.Context) {
	courseCode, videoRef, err := videoCoordinates(c)
	if err != nil {
		h.reply(c, err)
		return
	}

	key, err := h.responder.RawAESKey(
		c.Request.Context(), deliveryRequest(c, courseCode, videoRef),
	)
	if err != nil {
		h.reply(c, err)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.Header("X-Content-Type-Options", "nosniff")
	c.Data(http.StatusOK, "application/octet-stream", key)
}

/*
Playlist handle GET /api/hls/playlist

Serves a rewritten HLS playlist. An absent `path` parameter selects the
master playlist.
*/
func (h *Handler) Playlist(c *gin.Context) {
	courseCode, videoRef, err := videoCoordinates(c)
	if err != nil {
		h.reply(c, err)
		return
	}

	rewritten, err := h.rewriter.Serve(
		c.Request.Context(), GetEmail(c), courseCode, videoRef, c.Query("path"),
	)
	if err != nil {
		h.reply(c, err)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.Header("X-Content-Type-Options", "nosniff")
	c.Data(http.StatusOK, "application/vnd.apple.mpegurl", []byte(rewritten))
}

// PlaybackToken handle GET /api/playback-token
func (h *Handler) PlaybackToken(c *gin.Context) {
	courseCode, videoRef, err := videoCoordinates(c)
	if err != nil {
		h.reply(c, err)
		return
	}

	signed, err := h.tokens.Issue(c.Request.Context(), GetEmail(c), courseCode, videoRef)
	if err != nil {
		h.reply(c, err)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, gin.H{"token": signed})
}

// recordWatchTimeRequest the body of POST /api/video/record-time
type recordWatchTimeRequest struct {
	CourseCode string `json:"courseCode" binding:"required"`
	VideoID    string `json:"videoId" binding:"required"`
	Seconds    int64  `json:"seconds" binding:"required,gt=0"`
}

// RecordWatchTime handle POST /api/video/record-time
func (h *Handler) RecordWatchTime(c *gin.Context) {
	var request recordWatchTimeRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.reply(c, fmt.Errorf("watch time request invalid [%w]: %w", err, models.ErrBadRequest))
		return
	}

	email := GetEmail(c)
	err := h.persistence.UseDatabase(c.Request.Context(), func(
		dbCtx context.Context, dbClient db.Database,
	) error {
		user, err := dbClient.GetUserByEmail(dbCtx, email)
		if err != nil {
			return fmt.Errorf("user unknown [%w]: %w", err, models.ErrNotFound)
		}
		video, err := dbClient.GetVideoByRef(dbCtx, request.CourseCode, request.VideoID)
		if err != nil {
			return fmt.Errorf("video unknown [%w]: %w", err, models.ErrNotFound)
		}
		_, err = dbClient.RecordWatchTime(dbCtx, user, video, request.Seconds)
		return err
	})
	if err != nil {
		h.reply(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"recorded": true})
}
