package common

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/time/rate"
)

// chunkSize: size of each read/write chunk
const chunkSize = 1024 * 1024 // 1 MiB

var bufPool = sync.Pool{
	New: func() interface{} { return make([]byte, chunkSize) },
}

// CopyThrottled copies srcPath to dstPath chunk by chunk, limited to rateBytesPerSec
// (no limit when <= 0). The destination is synced before returning. The returned
// value is the SHA-256 of the bytes written.
func CopyThrottled(ctx context.Context, srcPath, dstPath string, rateBytesPerSec int64) ([]byte, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return nil, fmt.Errorf("open src: %w", err)
	}
	defer src.Close()

	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open dst: %w", err)
	}
	defer dst.Close()

	var limiter *rate.Limiter
	if rateBytesPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(rateBytesPerSec), chunkSize)
	}

	sum := sha256.New()
	out := io.MultiWriter(dst, sum)
	buf := bufPool.Get().([]byte)
	defer bufPool.Put(buf)

	var readOff int64
	for {
		n, rerr := src.ReadAt(buf[:chunkSize], readOff)
		if n > 0 {
			if limiter != nil {
				if err := limiter.WaitN(ctx, n); err != nil {
					return nil, fmt.Errorf("rate limiter error: %w", err)
				}
			}
			if _, err := out.Write(buf[:n]); err != nil {
				return nil, fmt.Errorf("write error: %w", err)
			}
			readOff += int64(n)
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read error: %w", rerr)
		}
	}

	if err := dst.Sync(); err != nil {
		return nil, fmt.Errorf("sync error: %w", err)
	}
	return sum.Sum(nil), nil
}
