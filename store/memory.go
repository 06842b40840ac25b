package store

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
)

// Memory is an in-process Store. Documents are kept as BSON maps so decoding goes
// through the same codecs as the Mongo store.
type Memory struct {
	mu      sync.RWMutex
	docs    map[string]map[string]bson.M
	order   map[string][]string
	indexes []Index
	faults  []fault
}

type fault struct {
	op, collection, id string
	err                error
}

func NewMemory(indexes ...Index) *Memory {
	return &Memory{
		docs:    make(map[string]map[string]bson.M),
		order:   make(map[string][]string),
		indexes: indexes,
	}
}

func (m *Memory) Health(context.Context) error { return nil }

// InjectError makes every matching call fail with err. An empty id matches any id.
func (m *Memory) InjectError(op, collection, id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults = append(m.faults, fault{op: op, collection: collection, id: id, err: err})
}

func (m *Memory) injected(op, collection, id string) error {
	for _, f := range m.faults {
		if f.op == op && f.collection == collection && (f.id == "" || f.id == id) {
			return f.err
		}
	}
	return nil
}

func (m *Memory) Get(ctx context.Context, collection, id string, out any) (err error) {
	defer func() { observe(collection, "get", err) }()
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.RLock()
	if err := m.injected("get", collection, id); err != nil {
		m.mu.RUnlock()
		return err
	}
	doc, ok := m.docs[collection][id]
	var raw []byte
	if ok {
		raw, err = bson.Marshal(doc)
	}
	m.mu.RUnlock()

	if !ok {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := bson.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return validate(out)
}

func (m *Memory) Create(ctx context.Context, collection, id string, doc any) (err error) {
	defer func() { observe(collection, "create", err) }()
	if err := ctx.Err(); err != nil {
		return err
	}
	d, err := toDocument(id, doc)
	if err != nil {
		return err
	}
	d = normalize(d).(bson.M)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("create", collection, id); err != nil {
		return err
	}
	if _, exists := m.docs[collection][id]; exists {
		return ErrDuplicate
	}
	if err := m.checkUnique(collection, id, d); err != nil {
		return err
	}
	m.put(collection, id, d)
	return nil
}

func (m *Memory) Set(ctx context.Context, collection, id string, doc any) (err error) {
	defer func() { observe(collection, "set", err) }()
	if err := ctx.Err(); err != nil {
		return err
	}
	d, err := toDocument(id, doc)
	if err != nil {
		return err
	}
	d = normalize(d).(bson.M)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("set", collection, id); err != nil {
		return err
	}
	if err := m.checkUnique(collection, id, d); err != nil {
		return err
	}
	m.put(collection, id, d)
	return nil
}

func (m *Memory) Update(ctx context.Context, collection, id string, update Update) (err error) {
	defer func() { observe(collection, "update", err) }()
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("update", collection, id); err != nil {
		return err
	}
	cur, ok := m.docs[collection][id]
	if !ok {
		return ErrNotFound
	}
	next, err := copyDocument(cur)
	if err != nil {
		return err
	}

	paths := make([]string, 0, len(update))
	for p := range update {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		if err := applyPath(next, p, update[p]); err != nil {
			return err
		}
	}
	if err := m.checkUnique(collection, id, next); err != nil {
		return err
	}
	m.docs[collection][id] = next
	return nil
}

func (m *Memory) Query(ctx context.Context, collection string, filters []Filter, out any) (err error) {
	defer func() { observe(collection, "query", err) }()
	if err := ctx.Err(); err != nil {
		return err
	}
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Slice {
		return fmt.Errorf("store: query target must be a pointer to a slice, got %T", out)
	}

	m.mu.RLock()
	if err := m.injected("query", collection, ""); err != nil {
		m.mu.RUnlock()
		return err
	}
	var raws [][]byte
	for _, id := range m.order[collection] {
		doc := m.docs[collection][id]
		if !matches(doc, filters) {
			continue
		}
		raw, err := bson.Marshal(doc)
		if err != nil {
			m.mu.RUnlock()
			return err
		}
		raws = append(raws, raw)
	}
	m.mu.RUnlock()

	slice := reflect.MakeSlice(rv.Elem().Type(), 0, len(raws))
	elemType := slice.Type().Elem()
	for _, raw := range raws {
		ptr := reflect.New(elemType)
		if err := bson.Unmarshal(raw, ptr.Interface()); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
		slice = reflect.Append(slice, ptr.Elem())
	}
	rv.Elem().Set(slice)
	return validate(out)
}

func (m *Memory) Delete(ctx context.Context, collection, id string) (err error) {
	defer func() { observe(collection, "delete", err) }()
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("delete", collection, id); err != nil {
		return err
	}
	if _, ok := m.docs[collection][id]; !ok {
		return nil
	}
	delete(m.docs[collection], id)
	order := m.order[collection][:0]
	for _, x := range m.order[collection] {
		if x != id {
			order = append(order, x)
		}
	}
	m.order[collection] = order
	return nil
}

func (m *Memory) put(collection, id string, doc bson.M) {
	if m.docs[collection] == nil {
		m.docs[collection] = make(map[string]bson.M)
	}
	if _, exists := m.docs[collection][id]; !exists {
		m.order[collection] = append(m.order[collection], id)
	}
	m.docs[collection][id] = doc
}

func (m *Memory) checkUnique(collection, id string, doc bson.M) error {
	for _, idx := range m.indexes {
		if idx.Collection != collection || !matches(doc, idx.Partial) {
			continue
		}
		key, ok := indexKey(doc, idx.Fields)
		if !ok {
			continue
		}
		for otherID, other := range m.docs[collection] {
			if otherID == id || !matches(other, idx.Partial) {
				continue
			}
			if k, ok := indexKey(other, idx.Fields); ok && k == key {
				return fmt.Errorf("%w: %s %v", ErrDuplicate, collection, idx.Fields)
			}
		}
	}
	return nil
}

func indexKey(doc bson.M, fields []string) (string, bool) {
	parts := make([]string, len(fields))
	for i, f := range fields {
		v, ok := lookup(doc, f)
		if !ok {
			return "", false
		}
		parts[i] = fmt.Sprint(canonical(v))
	}
	return strings.Join(parts, "\x00"), true
}

func matches(doc bson.M, filters []Filter) bool {
	for _, f := range filters {
		v, ok := lookup(doc, f.Field)
		if !ok {
			return false
		}
		switch f.Op {
		case Equal:
			if !sameValue(v, f.Value) {
				return false
			}
		case ArrayContains:
			arr, ok := v.(bson.A)
			if !ok || indexOf(arr, f.Value) < 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func lookup(doc bson.M, path string) (any, bool) {
	var cur any = doc
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(bson.M)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func applyPath(doc bson.M, path string, value any) error {
	segs := strings.Split(path, ".")
	parent := doc
	for _, seg := range segs[:len(segs)-1] {
		next, ok := parent[seg]
		if !ok || next == nil {
			if value == Delete {
				return nil
			}
			child := bson.M{}
			parent[seg] = child
			parent = child
			continue
		}
		child, ok := next.(bson.M)
		if !ok {
			return fmt.Errorf("%w: %s crosses a non-document field", ErrInvalidUpdate, path)
		}
		parent = child
	}
	leaf := segs[len(segs)-1]

	switch op := value.(type) {
	case deleteField:
		delete(parent, leaf)
	case ArrayUnionOp:
		arr, err := arrayAt(parent, leaf, path)
		if err != nil {
			return err
		}
		for _, v := range op.Values {
			if indexOf(arr, v) < 0 {
				arr = append(arr, canonical(v))
			}
		}
		parent[leaf] = arr
	case ArrayRemoveOp:
		arr, err := arrayAt(parent, leaf, path)
		if err != nil {
			return err
		}
		kept := bson.A{}
		for _, v := range arr {
			if indexOf(bson.A(op.Values), v) < 0 {
				kept = append(kept, v)
			}
		}
		parent[leaf] = kept
	default:
		v, err := bsonValue(value)
		if err != nil {
			return err
		}
		parent[leaf] = v
	}
	return nil
}

func arrayAt(parent bson.M, leaf, path string) (bson.A, error) {
	cur, ok := parent[leaf]
	if !ok || cur == nil {
		return bson.A{}, nil
	}
	arr, ok := cur.(bson.A)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an array", ErrInvalidUpdate, path)
	}
	return arr, nil
}

func indexOf(arr bson.A, v any) int {
	for i, x := range arr {
		if sameValue(x, v) {
			return i
		}
	}
	return -1
}

// bsonValue converts an arbitrary Go value into its stored BSON form.
func bsonValue(v any) (any, error) {
	raw, err := bson.Marshal(bson.M{"v": v})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidUpdate, err)
	}
	var wrapped bson.M
	if err := bson.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidUpdate, err)
	}
	return normalize(wrapped["v"]), nil
}

func copyDocument(doc bson.M) (bson.M, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var cp bson.M
	if err := bson.Unmarshal(raw, &cp); err != nil {
		return nil, err
	}
	return normalize(cp).(bson.M), nil
}

// normalize rewrites nested documents as bson.M and arrays as bson.A.
func normalize(v any) any {
	switch t := v.(type) {
	case bson.M:
		for k, x := range t {
			t[k] = normalize(x)
		}
		return t
	case map[string]any:
		return normalize(bson.M(t))
	case bson.D:
		m := make(bson.M, len(t))
		for _, e := range t {
			m[e.Key] = normalize(e.Value)
		}
		return m
	case bson.A:
		for i := range t {
			t[i] = normalize(t[i])
		}
		return t
	case []any:
		return normalize(bson.A(t))
	}
	return v
}

func canonical(v any) any {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.Bool:
		return rv.Bool()
	}
	return v
}

func sameValue(a, b any) bool {
	return reflect.DeepEqual(canonical(a), canonical(b))
}
