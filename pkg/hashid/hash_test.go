package hashid

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEncoder(t *testing.T) {
	asserts := assert.New(t)
	encoder, err := New("salt")
	asserts.NoError(err)

	{
		res, err := encoder.Encode([]int{1, 2, 3})
		asserts.NoError(err)
		asserts.NotEmpty(res)

		decoded, err := encoder.Decode(res, 3)
		asserts.NoError(err)
		asserts.Equal([]int{1, 2}, decoded)

		_, err = encoder.Decode(res, 4)
		asserts.ErrorIs(err, ErrTypeNotMatch)
	}

	{
		res, err := encoder.Encode([]int{})
		asserts.Error(err)
		asserts.Empty(res)
	}
}

func TestETag(t *testing.T) {
	asserts := assert.New(t)
	encoder, _ := New("salt")
	modified := time.Date(2024, 5, 1, 12, 30, 0, 123456789, time.UTC)

	{
		tag := ETag(encoder, 5<<32+7, modified)
		asserts.True(len(tag) > 2)
		asserts.Equal(byte('"'), tag[0])

		size, mod, err := ParseETag(encoder, "W/"+tag)
		asserts.NoError(err)
		asserts.EqualValues(5<<32+7, size)
		asserts.True(modified.Equal(mod))
	}

	// 内容变化时标签不同
	{
		asserts.NotEqual(ETag(encoder, 10, modified), ETag(encoder, 11, modified))
		asserts.NotEqual(ETag(encoder, 10, modified), ETag(encoder, 10, modified.Add(time.Second)))
	}

	{
		_, _, err := ParseETag(encoder, `"not-a-tag"`)
		asserts.Error(err)
	}
}
