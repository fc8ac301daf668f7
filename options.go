package applog

import (
	"io"
	"log/slog"
	"time"

	"github.com/cqkv/applog/codec"
	"github.com/cqkv/applog/config"
	"github.com/cqkv/applog/fio"
	"github.com/cqkv/applog/segment"
)

type options struct {
	rootFolder         string
	maxFileSize        int64
	bufferSize         int
	idleCommitInterval time.Duration
	purgeInterval      time.Duration
	maxLogSize         int64
	pollInterval       time.Duration
	persistPosition    bool

	logger           *slog.Logger
	codec            codec.Codec
	ioManagerCreator fio.Creator
}

type Option func(*options)

func defaultOptions() options {
	o := options{
		persistPosition:  true,
		logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		codec:            codec.NewCodecImpl(),
		ioManagerCreator: fio.NewFileIO,
	}
	WithConfig(config.Default())(&o)
	return o
}

func newOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o *options) segmentOptions() segment.Options {
	return segment.Options{
		BufferSize: o.bufferSize,
		Codec:      o.codec,
		IOCreator:  o.ioManagerCreator,
	}
}

// WithConfig applies every setting of cfg
func WithConfig(cfg config.Config) Option {
	return func(o *options) {
		o.rootFolder = cfg.RootFolder
		o.maxFileSize = cfg.MaxFileSize
		o.bufferSize = cfg.BufferSize
		o.idleCommitInterval = cfg.IdleCommitInterval
		o.purgeInterval = cfg.PurgeInterval
		o.maxLogSize = cfg.MaxLogSize
		o.pollInterval = cfg.PollInterval
	}
}

func WithRootFolder(dir string) Option {
	return func(o *options) {
		o.rootFolder = dir
	}
}

// WithMaxFileSize sets the segment size that triggers rotation
func WithMaxFileSize(size int64) Option {
	return func(o *options) {
		o.maxFileSize = size
	}
}

func WithBufferSize(size int) Option {
	return func(o *options) {
		o.bufferSize = size
	}
}

// WithIdleCommitInterval commits pending records after d without writes, 0 disables it
func WithIdleCommitInterval(d time.Duration) Option {
	return func(o *options) {
		o.idleCommitInterval = d
	}
}

// WithPurgeInterval sets the period of the background retention sweep, 0 disables it
func WithPurgeInterval(d time.Duration) Option {
	return func(o *options) {
		o.purgeInterval = d
	}
}

// WithMaxLogSize bounds the total size of committed segments, the newest excluded.
// size <= 0 disables retention.
func WithMaxLogSize(size int64) Option {
	return func(o *options) {
		o.maxLogSize = size
	}
}

// WithPollInterval sets how often a reader checks for newly committed segments, 0 disables it
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		o.pollInterval = d
	}
}

// WithPersistPosition controls whether a reader stores its position on close
// and resumes from it on open
func WithPersistPosition(persist bool) Option {
	return func(o *options) {
		o.persistPosition = persist
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithCodec(codec codec.Codec) Option {
	return func(o *options) {
		o.codec = codec
	}
}

func WithIOManagerCreator(fn fio.Creator) Option {
	return func(o *options) {
		o.ioManagerCreator = fn
	}
}
