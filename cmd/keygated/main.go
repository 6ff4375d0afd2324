// keygated - the key delivery service daemon
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alwitt/keygate"
	"github.com/alwitt/keygate/api"
	"github.com/alwitt/keygate/db"
	"github.com/alwitt/keygate/kms"
	"github.com/alwitt/keygate/playlist"
	"github.com/alwitt/keygate/token"
	"github.com/apex/log"
	apexJSON "github.com/apex/log/handlers/json"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awskms "github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v2"
	"gorm.io/gorm/logger"
)

// daemonConfig on-disk configuration of keygated
type daemonConfig struct {
	// Listen HTTP listen address
	Listen string `yaml:"listen" validate:"required"`
	// DBFile sqlite database file path
	DBFile string `yaml:"dbFile" validate:"required"`
	// RedisAddr optional Redis address for rate limiting and token replay tracking
	RedisAddr string `yaml:"redisAddr"`
	// AssetOrigin base URL playlists are fetched from
	AssetOrigin string `yaml:"assetOrigin" validate:"required,url"`
	// PublicBase public base URL of this service, used in rewritten playlists
	PublicBase string `yaml:"publicBase" validate:"required,url"`
	// AssetPublicBase public base URL segments are served from
	AssetPublicBase string `yaml:"assetPublicBase" validate:"required,url"`
	// KeystoreFile optional flat JSON keystore file
	KeystoreFile string `yaml:"keystoreFile"`
	// TokenSigningKey HS256 playback token signing secret
	TokenSigningKey string `yaml:"tokenSigningKey" validate:"required,min=32"`
	// EnforceSingleUseTokens whether playback tokens are consumed on first use
	EnforceSingleUseTokens bool `yaml:"enforceSingleUseTokens"`
	// RateLimit max requests per identity per window
	RateLimit int64 `yaml:"rateLimit"`
	// RateWindowSec rate limit window length in seconds
	RateWindowSec int64 `yaml:"rateWindowSec"`
}

// loadConfig read and validate the daemon config file
func loadConfig(path string) (daemonConfig, error) {
	var config daemonConfig

	content, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("config file %s unreadable [%w]", path, err)
	}
	if err := yaml.Unmarshal(content, &config); err != nil {
		return config, fmt.Errorf("config file %s unparsable [%w]", path, err)
	}

	if config.Listen == "" {
		config.Listen = ":8080"
	}
	if config.RateLimit == 0 {
		config.RateLimit = 5
	}
	if config.RateWindowSec == 0 {
		config.RateWindowSec = 60
	}

	if err := validator.New().Struct(&config); err != nil {
		return config, fmt.Errorf("config file %s invalid [%w]", path, err)
	}
	return config, nil
}

func main() {
	configPath := flag.String("config", "keygated.yaml", "Config file path")
	jsonLogs := flag.Bool("json-log", false, "Log in JSON")
	flag.Parse()

	if *jsonLogs {
		log.SetHandler(apexJSON.New(os.Stderr))
	}

	config, err := loadConfig(*configPath)
	if err != nil {
		log.WithError(err).Fatal("Unable to load config")
	}

	runtimeCtx, cancel := signal.NotifyContext(
		context.Background(), syscall.SIGINT, syscall.SIGTERM,
	)
	defer cancel()

	awsConfig, err := awsconfig.LoadDefaultConfig(runtimeCtx)
	if err != nil {
		log.WithError(err).Fatal("Unable to load AWS config")
	}
	unwrapper, err := kms.NewUnwrapper(awskms.NewFromConfig(awsConfig), time.Second*5)
	if err != nil {
		log.WithError(err).Fatal("Unable to initialize key unwrapper")
	}

	var redisClient redis.UniversalClient
	if config.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: config.RedisAddr})
		defer func() {
			if err := redisClient.Close(); err != nil {
				log.WithError(err).Error("Redis client close failed")
			}
		}()
	}

	service, err := keygate.NewService(keygate.ServiceParams{
		DBDialector:  db.GetSqliteDialector(config.DBFile),
		DBLogLevel:   logger.Error,
		Unwrapper:    unwrapper,
		Redis:        redisClient,
		RateLimit:    config.RateLimit,
		RateWindow:   time.Second * time.Duration(config.RateWindowSec),
		KeystoreFile: config.KeystoreFile,
		AssetOrigin:  config.AssetOrigin,
		Endpoints: playlist.Endpoints{
			PlaylistBase: config.PublicBase + "/api/hls/playlist",
			KeyBase:      config.PublicBase + "/api/hls-key",
			AssetBase:    config.AssetPublicBase,
		},
		TokenConfig: token.IssuerConfig{
			SigningKey:       []byte(config.TokenSigningKey),
			EnforceSingleUse: config.EnforceSingleUseTokens,
		},
	})
	if err != nil {
		log.WithError(err).Fatal("Unable to assemble key delivery core")
	}

	handler, err := api.NewHandler(
		service.Persistence, service.Responder, service.Rewriter, service.Tokens,
	)
	if err != nil {
		log.WithError(err).Fatal("Unable to initialize HTTP handlers")
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	handler.RegisterRoutes(router, api.Identity(service.Tokens))

	server := &http.Server{
		Addr:              config.Listen,
		Handler:           router,
		ReadHeaderTimeout: time.Second * 10,
	}

	go func() {
		log.WithField("listen", config.Listen).Info("Key delivery service starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("HTTP server failure")
			cancel()
		}
	}()

	<-runtimeCtx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second*10)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("HTTP server shutdown failed")
	}
	log.Info("Key delivery service stopped")
}
