package explorer

import (
	"time"

	"github.com/cloudreve/davserver/pkg/resource"
)

// Object is one resource in a tree listing.
type Object struct {
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	Collection  bool      `json:"collection"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type,omitempty"`
	ETag        string    `json:"etag,omitempty"`
	Created     time.Time `json:"created_at"`
	Modified    time.Time `json:"updated_at"`
	ModifiedBy  string    `json:"updated_by,omitempty"`
	Locked      bool      `json:"locked"`
	Children    []Object  `json:"children,omitempty"`
}

func BuildObject(r resource.Resource, locked bool) Object {
	obj := Object{
		Name:       r.Name(),
		Path:       r.Path(),
		Collection: r.IsCollection(),
		Created:    r.Created(),
		Modified:   r.Modified(),
		ModifiedBy: r.ModifiedBy(),
		Locked:     locked,
	}

	if !obj.Collection {
		obj.Size = r.ContentLength()
		obj.ContentType = r.ContentType()
		obj.ETag = r.ETag()
	}

	return obj
}
