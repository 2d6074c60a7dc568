package albumart

import (
	"context"
	"net/http"

	"github.com/danmuck/bragi/internal/config"
	"github.com/rs/zerolog/log"
)

// Request names one piece of album art. Fields are used as given.
type Request struct {
	URL    string
	Artist string
	Album  string
	Title  string
}

// Result describes the cache file backing a request.
type Result struct {
	Key    string
	Path   string
	Size   int64
	Cached bool
}

type Downloader interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Service resolves requests to cache files, downloading only on a miss.
type Service struct {
	cache      *Cache
	fetcher    Downloader
	processor  *Processor
	maxPayload int
}

func NewService(cache *Cache, fetcher Downloader, processor *Processor, maxPayload int) *Service {
	return &Service{cache: cache, fetcher: fetcher, processor: processor, maxPayload: maxPayload}
}

// NewServiceFromConfig wires the default cache, fetcher and processor.
func NewServiceFromConfig(cfg config.AlbumArtConfig, httpClient *http.Client) *Service {
	processor := NewProcessor(cfg)
	return NewService(
		NewCache(cfg.CacheDir, processor.Ext()),
		NewFetcher(cfg, httpClient),
		processor,
		cfg.MaxPayloadBytes,
	)
}

func (s *Service) Resolve(ctx context.Context, req Request) (Result, error) {
	log.Info().
		Str("url", req.URL).
		Str("artist", req.Artist).
		Str("album", req.Album).
		Str("title", req.Title).
		Msg("album art request")

	key := CacheKey(req.Artist, req.Album, req.Title)
	log.Debug().Str("key", key).Bool("album_key", !missingAlbum(req.Album)).Msg("cache key")

	if path, size, ok := s.cache.Lookup(key); ok {
		log.Info().Str("key", key).Int64("bytes", size).Msg("using cached album art")
		return Result{Key: key, Path: path, Size: size, Cached: true}, nil
	}

	data, err := s.fetcher.Fetch(ctx, req.URL)
	if err != nil {
		return Result{}, err
	}
	out, err := s.processor.Process(data)
	if err != nil {
		return Result{}, err
	}
	path, err := s.cache.Write(key, out)
	if err != nil {
		return Result{}, err
	}
	if s.maxPayload > 0 && len(out) > s.maxPayload {
		log.Warn().
			Str("key", key).
			Int("bytes", len(out)).
			Int("limit", s.maxPayload).
			Msg("cached album art exceeds device payload limit")
	}
	log.Info().Str("key", key).Int("bytes", len(out)).Str("path", path).Msg("cached album art")
	return Result{Key: key, Path: path, Size: int64(len(out))}, nil
}
