package memory

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/cloudreve/davserver/pkg/auth"
	"github.com/cloudreve/davserver/pkg/hashid"
	"github.com/cloudreve/davserver/pkg/resource"
	"github.com/stretchr/testify/assert"
)

func newStore(t *testing.T) *Store {
	encoder, err := hashid.New("test")
	assert.NoError(t, err)
	return New(encoder, resource.DefaultPolicy{}, false)
}

func readAll(t *testing.T, s *Store, p string) string {
	f, err := s.Open(context.Background(), p)
	assert.NoError(t, err)
	defer f.Close()
	b, err := io.ReadAll(f)
	assert.NoError(t, err)
	return string(b)
}

func TestStore_Root(t *testing.T) {
	asserts := assert.New(t)
	s := newStore(t)

	root, err := s.Lookup(context.Background(), "/")
	asserts.NoError(err)
	asserts.True(root.IsCollection())
	asserts.Equal("/", root.Path())
	asserts.Equal("", root.Name())

	_, err = s.Mkdir(context.Background(), "/", nil)
	asserts.ErrorIs(err, resource.ErrExist)
	asserts.ErrorIs(s.Remove(context.Background(), "/"), resource.ErrInvalidPath)
}

func TestStore_WriteAndRead(t *testing.T) {
	asserts := assert.New(t)
	s := newStore(t)
	ctx := context.Background()
	alice := &auth.Principal{Name: "alice"}

	// 创建
	{
		res, created, err := s.Write(ctx, "/a.txt", strings.NewReader("hello"), resource.WriteOptions{Truncate: true, Principal: alice})
		asserts.NoError(err)
		asserts.True(created)
		asserts.EqualValues(5, res.ContentLength())
		asserts.Equal("alice", res.CreatedBy())
		asserts.NotEmpty(res.ContentType())
		asserts.Equal("hello", readAll(t, s, "/a.txt"))
	}

	// 覆盖后 ETag 变化
	{
		before, _ := s.Lookup(ctx, "/a.txt")
		res, created, err := s.Write(ctx, "/a.txt", strings.NewReader("hello"), resource.WriteOptions{Truncate: true})
		asserts.NoError(err)
		asserts.False(created)
		asserts.NotEqual(before.ETag(), res.ETag())
	}

	// 按偏移写入
	{
		_, _, err := s.Write(ctx, "/a.txt", strings.NewReader("J"), resource.WriteOptions{Offset: 0})
		asserts.NoError(err)
		asserts.Equal("Jello", readAll(t, s, "/a.txt"))

		_, _, err = s.Write(ctx, "/a.txt", strings.NewReader("!"), resource.WriteOptions{Offset: 7})
		asserts.NoError(err)
		asserts.Equal("Jello\x00\x00!", readAll(t, s, "/a.txt"))
	}

	// 父目录不存在
	{
		_, _, err := s.Write(ctx, "/missing/b.txt", strings.NewReader("x"), resource.WriteOptions{})
		asserts.ErrorIs(err, resource.ErrNoParent)
	}

	// 父路径为文件
	{
		_, _, err := s.Write(ctx, "/a.txt/b.txt", strings.NewReader("x"), resource.WriteOptions{})
		asserts.ErrorIs(err, resource.ErrNoParent)
	}
}

func TestStore_Collections(t *testing.T) {
	asserts := assert.New(t)
	s := newStore(t)
	ctx := context.Background()

	_, err := s.Mkdir(ctx, "/docs", nil)
	asserts.NoError(err)
	_, err = s.Mkdir(ctx, "/docs", nil)
	asserts.ErrorIs(err, resource.ErrExist)
	_, err = s.Mkdir(ctx, "/a/b/c", nil)
	asserts.ErrorIs(err, resource.ErrNoParent)

	_, _, err = s.Write(ctx, "/docs/b.txt", strings.NewReader("b"), resource.WriteOptions{})
	asserts.NoError(err)
	_, _, err = s.Write(ctx, "/docs/a.txt", strings.NewReader("a"), resource.WriteOptions{})
	asserts.NoError(err)

	children, err := s.Children(ctx, "/docs")
	asserts.NoError(err)
	asserts.Len(children, 2)
	asserts.Equal("/docs/a.txt", children[0].Path())
	asserts.Equal("/docs/b.txt", children[1].Path())

	_, err = s.Children(ctx, "/docs/a.txt")
	asserts.ErrorIs(err, resource.ErrNotCollection)

	_, _, err = s.Write(ctx, "/docs", strings.NewReader("x"), resource.WriteOptions{})
	asserts.ErrorIs(err, resource.ErrIsCollection)
	_, err = s.Open(ctx, "/docs")
	asserts.ErrorIs(err, resource.ErrIsCollection)

	asserts.ErrorIs(s.Remove(ctx, "/docs"), resource.ErrNotEmpty)
	asserts.NoError(s.Remove(ctx, "/docs/a.txt"))
	asserts.NoError(s.Remove(ctx, "/docs/b.txt"))
	asserts.NoError(s.Remove(ctx, "/docs"))
	_, err = s.Lookup(ctx, "/docs")
	asserts.ErrorIs(err, resource.ErrNotFound)
	asserts.ErrorIs(s.Remove(ctx, "/docs"), resource.ErrNotFound)
}

func TestStore_Properties(t *testing.T) {
	asserts := assert.New(t)
	s := newStore(t)
	ctx := context.Background()

	_, _, err := s.Write(ctx, "/p.txt", strings.NewReader("p"), resource.WriteOptions{})
	asserts.NoError(err)
	asserts.NoError(s.PatchProperties(ctx, "/p.txt", map[string]string{"{urn:x}color": "red", "{urn:x}size": "L"}, nil))
	asserts.NoError(s.PatchProperties(ctx, "/p.txt", nil, []string{"{urn:x}size"}))

	res, _ := s.Lookup(ctx, "/p.txt")
	asserts.Equal(map[string]string{"{urn:x}color": "red"}, res.Properties())

	// 返回的是快照
	res.Properties()["{urn:x}color"] = "blue"
	res, _ = s.Lookup(ctx, "/p.txt")
	asserts.Equal("red", res.Properties()["{urn:x}color"])

	asserts.ErrorIs(s.PatchProperties(ctx, "/none", nil, nil), resource.ErrNotFound)
}

func TestStore_ReadOnly(t *testing.T) {
	asserts := assert.New(t)
	encoder, _ := hashid.New("test")
	s := New(encoder, resource.DefaultPolicy{ReadOnly: true}, true)
	ctx := context.Background()

	asserts.True(s.ReadOnly())
	_, _, err := s.Write(ctx, "/a", strings.NewReader("a"), resource.WriteOptions{})
	asserts.ErrorIs(err, resource.ErrReadOnly)
	_, err = s.Mkdir(ctx, "/a", nil)
	asserts.ErrorIs(err, resource.ErrReadOnly)
	asserts.ErrorIs(s.Remove(ctx, "/a"), resource.ErrReadOnly)
	asserts.ErrorIs(s.PatchProperties(ctx, "/", nil, nil), resource.ErrReadOnly)
}
