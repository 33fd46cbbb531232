package hashid

import (
	"errors"
	"strings"
	"time"

	"github.com/speps/go-hashids"
)

// ID类型
const (
	ETagID = iota // 实体版本
	LockID        // 锁
)

var (
	// ErrTypeNotMatch ID类型不匹配
	ErrTypeNotMatch = errors.New("mismatched ID type")
)

// Encoder encodes and decodes integer tuples into short opaque strings.
type Encoder interface {
	Encode(v []int) (string, error)
	Decode(raw string, t int) ([]int, error)
}

type hashEncoder struct {
	h *hashids.HashID
}

// New creates an Encoder salted with salt.
func New(salt string) (Encoder, error) {
	hd := hashids.NewData()
	hd.Salt = salt

	h, err := hashids.NewWithData(hd)
	if err != nil {
		return nil, err
	}

	return &hashEncoder{h: h}, nil
}

// Encode 对给定数据计算HashID
func (e *hashEncoder) Encode(v []int) (string, error) {
	id, err := e.h.Encode(v)
	if err != nil {
		return "", err
	}
	return id, nil
}

// Decode 对给定数据计算原始数据，最后一位为类型
func (e *hashEncoder) Decode(raw string, t int) ([]int, error) {
	res, err := e.h.DecodeWithError(raw)
	if err != nil {
		return nil, err
	}

	if len(res) < 1 || res[len(res)-1] != t {
		return nil, ErrTypeNotMatch
	}

	return res[:len(res)-1], nil
}

// ETag builds a quoted strong entity tag from content length and modification time.
func ETag(encoder Encoder, size int64, modified time.Time) string {
	nano := modified.UnixNano()
	v, err := encoder.Encode([]int{
		int(size >> 31), int(size & 0x7fffffff),
		int(nano >> 31 & 0x7fffffff), int(nano & 0x7fffffff),
		ETagID,
	})
	if err != nil {
		return ""
	}
	return `"` + v + `"`
}

// ParseETag recovers the content length and modification time encoded by ETag.
func ParseETag(encoder Encoder, etag string) (int64, time.Time, error) {
	etag = strings.TrimPrefix(strings.Trim(etag, " "), "W/")
	v, err := encoder.Decode(strings.Trim(etag, `"`), ETagID)
	if err != nil {
		return 0, time.Time{}, err
	}

	if len(v) != 4 {
		return 0, time.Time{}, ErrTypeNotMatch
	}

	size := int64(v[0])<<31 | int64(v[1])
	nano := int64(v[2])<<31 | int64(v[3])
	return size, time.Unix(0, nano), nil
}
