package s3

import (
	"fmt"
	"io"
)

// MaxPhotoSize 是單張刊登照片的大小上限
const MaxPhotoSize int64 = 5 << 20

type ReachLimitError struct {
	MaxBytes int64
}

func (e *ReachLimitError) Error() string {
	return fmt.Sprintf("reach limit of %s", FormatBytes(e.MaxBytes))
}

// NewMaxSizeReader 限制可讀取的總長度，超過時回傳 ReachLimitError
func NewMaxSizeReader(r io.Reader, maxSize int64) io.Reader {
	return &maxSizeReader{reader: r, limit: maxSize, remaining: maxSize}
}

type maxSizeReader struct {
	reader    io.Reader
	limit     int64
	remaining int64
}

func (r *maxSizeReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	// 多讀一個位元組才能判斷是否超過上限
	if int64(len(p)) > r.remaining+1 {
		p = p[:r.remaining+1]
	}
	n, err := r.reader.Read(p)
	if int64(n) <= r.remaining {
		r.remaining -= int64(n)
		return n, err
	}

	n = int(r.remaining)
	r.remaining = 0
	return n, &ReachLimitError{MaxBytes: r.limit}
}

// ReadAllLimited 讀取全部內容，超過 maxSize 時回傳 ReachLimitError
func ReadAllLimited(r io.Reader, maxSize int64) ([]byte, error) {
	return io.ReadAll(NewMaxSizeReader(r, maxSize))
}
