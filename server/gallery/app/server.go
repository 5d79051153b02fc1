package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"gallery_server/server/common/infra/cache"
	"gallery_server/server/common/infra/genai"
	"gallery_server/server/common/infra/mq"
	"gallery_server/server/common/infra/object"
	commonlog "gallery_server/server/common/log"
	galleryapi "gallery_server/server/gallery/api"
	"gallery_server/server/gallery/service"
)

type Server struct {
	HTTPServer *http.Server

	publisher *service.EventPublisher
}

func NewServer(cfg Config) (*Server, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := newStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var describer service.Describer
	if cfg.DescriptionConfigured() {
		describer = genai.NewClient(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiEndpoints...)
	} else {
		commonlog.Warnf("gemini api key is not configured, image descriptions will be skipped")
	}

	index := service.NewMetadataIndex(store, newIndexCache(ctx, cfg))
	events := service.NewEventHub()
	publisher := newEventPublisher(cfg)
	fileSvc := service.NewFileService(store, index, describer, events, publisher)

	h := galleryapi.NewHandler(fileSvc, events)
	r := gin.Default()
	r.MaxMultipartMemory = int64(cfg.MaxUploadMB) << 20
	h.RegisterRoutes(r)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{HTTPServer: httpServer, publisher: publisher}, nil
}

func newStore(ctx context.Context, cfg Config) (object.Store, error) {
	if cfg.StorageBackend == StorageBackendMemory {
		commonlog.Warnf("using in-memory storage backend, uploads will not survive a restart")
		return object.NewMemoryStore(cfg.MinioPublicURL), nil
	}
	minioClient, err := object.NewClient(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioUseSSL)
	if err != nil {
		return nil, fmt.Errorf("initialize minio: %w", err)
	}
	if err := object.EnsureBucket(ctx, minioClient, cfg.MinioBucket); err != nil {
		return nil, fmt.Errorf("ensure minio bucket: %w", err)
	}
	return object.NewMinIOStore(minioClient, cfg.MinioBucket, cfg.MinioPublicURL), nil
}

// newIndexCache returns a redis client for the metadata index read cache,
// or nil when caching is disabled or redis is unreachable. The cache is an
// optimization, never a dependency.
func newIndexCache(ctx context.Context, cfg Config) *redis.Client {
	if !cfg.UseCache {
		return nil
	}
	client := cache.NewClient(cfg.RedisAddr)
	if err := cache.Ping(ctx, client); err != nil {
		commonlog.Warnf("redis unreachable at %s, index cache disabled: %v", cfg.RedisAddr, err)
		return nil
	}
	return client
}

func newEventPublisher(cfg Config) *service.EventPublisher {
	if !cfg.UseMQ {
		return nil
	}
	conn, err := mq.NewConnection(cfg.LavinMQURL)
	if err != nil {
		commonlog.Warnf("lavinmq unreachable at %s, event publication disabled: %v", cfg.LavinMQURL, err)
		return nil
	}
	publisher, err := service.NewEventPublisher(conn)
	if err != nil {
		commonlog.Warnf("declare events exchange failed, event publication disabled: %v", err)
		return nil
	}
	return publisher
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.publisher != nil {
		s.publisher.Close()
	}
	return s.HTTPServer.Shutdown(ctx)
}
