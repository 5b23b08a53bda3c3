package transfer

import (
	"context"
	"io"
	"sync"
)

// bufferSize 每次读写的窗口, 与分块大小无关
const bufferSize = 64 << 10

var bufPool = sync.Pool{
	New: func() any {
		buf := make([]byte, bufferSize)
		return &buf
	},
}

// copyStream 以固定窗口从 r 复制到 w
// 每次读取前检查取消, onProgress 收到的是累计字节数
func copyStream(ctx context.Context, w io.Writer, r io.Reader, onProgress func(int64)) (int64, error) {
	bp := bufPool.Get().(*[]byte)
	defer bufPool.Put(bp)
	buf := *bp

	var written int64
	for {
		if ctx.Err() != nil {
			return written, aborted(ctx)
		}
		n, err := r.Read(buf)
		if n > 0 {
			if _, wErr := w.Write(buf[:n]); wErr != nil {
				return written, wErr
			}
			written += int64(n)
			if onProgress != nil {
				onProgress(written)
			}
		}
		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, err
		}
	}
}
