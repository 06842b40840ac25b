// Package store is the document store contract the services are written against:
// point reads and writes addressed by (collection, id), AND-ed equality and
// array-containment queries, and partial updates of dotted field paths.
package store

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"

	"benders-server/metrics"
)

const (
	Users          = "users"
	Accounts       = "accounts"
	Benders        = "benders"
	FriendRequests = "friendRequests"
)

var (
	ErrNotFound        = errors.New("store: document not found")
	ErrDuplicate       = errors.New("store: duplicate key")
	ErrInvalidDocument = errors.New("store: invalid document")
	ErrInvalidUpdate   = errors.New("store: invalid update")
)

type Store interface {
	// Get decodes the document into out. Missing documents yield ErrNotFound.
	Get(ctx context.Context, collection, id string, out any) error
	// Create inserts a new document and fails with ErrDuplicate if the id or a unique
	// index is already taken.
	Create(ctx context.Context, collection, id string, doc any) error
	// Set replaces the whole document, creating it when absent.
	Set(ctx context.Context, collection, id string, doc any) error
	// Update applies a partial update. Missing documents yield ErrNotFound.
	Update(ctx context.Context, collection, id string, update Update) error
	// Query decodes every document matching all filters into out, a pointer to a slice.
	Query(ctx context.Context, collection string, filters []Filter, out any) error
	// Delete removes the document. Deleting a missing document is not an error.
	Delete(ctx context.Context, collection, id string) error
}

// Update maps dotted field paths to new values. Besides plain values a path may be
// given Delete, ArrayUnion(...) or ArrayRemove(...).
type Update map[string]any

type deleteField struct{}

// Delete removes the field at the path.
var Delete = deleteField{}

type ArrayUnionOp struct{ Values []any }

type ArrayRemoveOp struct{ Values []any }

// ArrayUnion appends each value to the array field unless it is already present.
func ArrayUnion(values ...any) ArrayUnionOp { return ArrayUnionOp{Values: values} }

// ArrayRemove removes every occurrence of each value from the array field.
func ArrayRemove(values ...any) ArrayRemoveOp { return ArrayRemoveOp{Values: values} }

type Op int

const (
	Equal Op = iota
	ArrayContains
)

type Filter struct {
	Field string
	Op    Op
	Value any
}

func Eq(field string, value any) Filter { return Filter{Field: field, Op: Equal, Value: value} }

func Contains(field string, value any) Filter {
	return Filter{Field: field, Op: ArrayContains, Value: value}
}

// Index describes a unique index, optionally restricted to documents matching Partial.
type Index struct {
	Collection string
	Fields     []string
	Partial    []Filter
}

// DefaultIndexes back the check-then-create flows (username, login email, one pending
// request per ordered pair) with store-level uniqueness.
var DefaultIndexes = []Index{
	{Collection: Users, Fields: []string{"username"}},
	{Collection: Accounts, Fields: []string{"email"}},
	{
		Collection: FriendRequests,
		Fields:     []string{"fromUserId", "toUserId"},
		Partial:    []Filter{Eq("status", "pending")},
	},
}

func NewID() string {
	return uuid.New().String()
}

type validator interface {
	Validate() error
}

// validate runs Validate on out, or on every element when out points at a slice.
func validate(out any) error {
	if v, ok := out.(validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
		return nil
	}
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Slice {
		return nil
	}
	s := rv.Elem()
	for i := 0; i < s.Len(); i++ {
		el := s.Index(i)
		if el.Kind() != reflect.Ptr {
			el = el.Addr()
		}
		if v, ok := el.Interface().(validator); ok {
			if err := v.Validate(); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
			}
		}
	}
	return nil
}

// toDocument converts a typed document into a bson.M keyed by _id.
func toDocument(id string, doc any) (bson.M, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	var m bson.M
	if err := bson.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	m["_id"] = id
	return m, nil
}

func observe(collection, op string, err error) {
	switch {
	case err == nil:
		metrics.RecordStoreOp(collection, op, "ok")
	case errors.Is(err, ErrNotFound):
		metrics.RecordStoreOp(collection, op, "not_found")
	default:
		metrics.RecordStoreOp(collection, op, "error")
	}
}
