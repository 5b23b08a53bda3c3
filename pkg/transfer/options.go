package transfer

import (
	"os"
	"time"
)

const (
	DefaultChunkSize           int64 = 10 << 20
	DefaultMaxConcurrentChunks       = 5
	DefaultSizeThreshold       int64 = 100 << 20
	DefaultMergeTimeout              = 5 * time.Minute
)

// Options 单次传输的参数, 零值字段使用默认值
type Options struct {
	ChunkSize           int64  `yaml:"chunk_size"`
	MaxConcurrentChunks int    `yaml:"max_concurrent_chunks"`
	SizeThreshold       int64  `yaml:"size_threshold"`
	TempDir             string `yaml:"temp_dir"` // 本地临时目录, 存放下载分块和上传前提取的分块
}

func DefaultOptions() Options {
	return Options{
		ChunkSize:           DefaultChunkSize,
		MaxConcurrentChunks: DefaultMaxConcurrentChunks,
		SizeThreshold:       DefaultSizeThreshold,
	}
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.MaxConcurrentChunks <= 0 {
		o.MaxConcurrentChunks = DefaultMaxConcurrentChunks
	}
	if o.SizeThreshold <= 0 {
		o.SizeThreshold = DefaultSizeThreshold
	}
	if o.TempDir == "" {
		o.TempDir = os.TempDir()
	}
	return o
}
