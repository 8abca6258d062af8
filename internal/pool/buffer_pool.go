package pool

import "sync"

// StagingBufferSize is the initial capacity of pooled staging buffers. It fits the largest
// ASCII-encoded write frame.
const StagingBufferSize = 1500

// buffers that grew past this are not returned to the pool
const maxPooledBufferSize = 64 * 1024

var bufferPool = sync.Pool{
	New: func() any {
		b := make([]byte, 0, StagingBufferSize)
		return &b
	},
}

// GetBuffer returns an empty staging buffer from the pool.
//
// Return it with PutBuffer once the staged bytes are written.
func GetBuffer() *[]byte {
	bp, _ := bufferPool.Get().(*[]byte)
	*bp = (*bp)[:0]

	return bp
}

// PutBuffer returns a staging buffer to the pool.
//
// bp cannot be accessed after returning to the pool.
func PutBuffer(bp *[]byte) {
	if bp == nil || cap(*bp) > maxPooledBufferSize {
		return
	}
	bufferPool.Put(bp)
}
