package perms

import (
	"time"
)

// Object is a protected resource: a page, an API, a device. Permissions
// hang off it as (object, operation) pairs.
type Object struct {
	Name        string
	Description string
	OrgUnit     string
	Type        string
	Props       map[string]string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Permission is an approved operation on an object. Identity is the
// (Object, Operation, ObjectID) triple; ObjectID is usually empty and
// narrows the permission to one instance of the object. Grants attach
// roles and users to it.
type Permission struct {
	Object      string
	Operation   string
	ObjectID    string
	Description string
	Props       map[string]string
	Roles       []string
	Users       []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
