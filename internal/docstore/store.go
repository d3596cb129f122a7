// Package docstore path-addressed document store with live snapshot subscriptions
// Package docstore 按路径寻址的文档存储，支持实时快照订阅
//
// Paths alternate collection and document segments: "boards" is a collection,
// "boards/B" a document, "boards/B/cards" a sub-collection. Every subscription
// push carries the entire current result set of its target.
package docstore

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrNotFound document does not exist
	// ErrNotFound 文档不存在
	ErrNotFound = errors.New("document not found")
	// ErrClosed store has been closed
	// ErrClosed 存储已关闭
	ErrClosed = errors.New("document store is closed")
	// ErrInvalidPath path is empty or has the wrong shape for the operation
	// ErrInvalidPath 路径为空或形态不符合操作要求
	ErrInvalidPath = errors.New("invalid document path")
	// ErrInvalidUpdate field update cannot be applied
	ErrInvalidUpdate = errors.New("invalid field update")
)

// Document one stored document
// Document 单个存储文档
type Document struct {
	ID   string         `json:"id"`
	Path string         `json:"path"`
	Data map[string]any `json:"data"`
}

// Decode converts the document data into v
// Decode 将文档数据解码到 v
func (d Document) Decode(v any) error {
	return Decode(d.Data, v)
}

// FilterOp filter operator
type FilterOp string

const (
	OpEqual         FilterOp = "=="
	OpArrayContains FilterOp = "array-contains"
)

// Filter a single query condition; Field may address nested fields with dots
// Filter 单个查询条件，Field 可用点号访问嵌套字段
type Filter struct {
	Field string   `json:"field"`
	Op    FilterOp `json:"op"`
	Value any      `json:"value"`
}

// Where builds a filter
func Where(field string, op FilterOp, value any) Filter {
	return Filter{Field: field, Op: op, Value: value}
}

// Target what a query or subscription observes: one document, or a filtered collection
// Target 查询或订阅的目标：单个文档或带过滤条件的集合
type Target struct {
	Path    string   `json:"path"`
	Filters []Filter `json:"filters,omitempty"`
}

// Doc targets the document at path
func Doc(path string) Target {
	return Target{Path: path}
}

// Collection targets the collection at path
func Collection(path string, filters ...Filter) Target {
	return Target{Path: path, Filters: filters}
}

// IsDocument reports whether the target addresses a single document
// IsDocument 判断目标是否为单个文档
func (t Target) IsDocument() bool {
	return IsDocumentPath(t.Path)
}

// Snapshot full current state of a target
// Snapshot 目标的完整当前状态
type Snapshot struct {
	Target Target     `json:"target"`
	Docs   []Document `json:"docs"`
	// Exists document targets only: whether the document exists
	// Exists 仅用于文档目标：文档是否存在
	Exists bool `json:"exists"`
}

// Doc returns the single document of a document snapshot
func (s Snapshot) Doc() (Document, bool) {
	if !s.Exists || len(s.Docs) == 0 {
		return Document{}, false
	}
	return s.Docs[0], true
}

// PutOption modifies Put behavior
type PutOption func(*putOptions)

type putOptions struct {
	merge bool
}

// Merge deep-merges the given fields into an existing document instead of replacing it
// Merge 将字段深度合并到已存在的文档，而非整体替换
func Merge() PutOption {
	return func(o *putOptions) { o.merge = true }
}

// IsMerge reports whether opts request a merge write
func IsMerge(opts ...PutOption) bool {
	return applyPutOptions(opts).merge
}

func applyPutOptions(opts []PutOption) putOptions {
	var o putOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// UpdateOp atomic field transform
type UpdateOp string

const (
	UpdateSet         UpdateOp = "set"
	UpdateRemove      UpdateOp = "remove"
	UpdateArrayUnion  UpdateOp = "arrayUnion"
	UpdateArrayRemove UpdateOp = "arrayRemove"
)

// FieldUpdate one field transform addressed by path segments
// FieldUpdate 以路径段寻址的单个字段变换
type FieldUpdate struct {
	Path   []string `json:"path"`
	Op     UpdateOp `json:"op"`
	Value  any      `json:"value,omitempty"`
	Values []any    `json:"values,omitempty"`
}

// Set sets the field at path to v
func Set(path []string, v any) FieldUpdate {
	return FieldUpdate{Path: path, Op: UpdateSet, Value: v}
}

// Remove deletes the field at path
func Remove(path []string) FieldUpdate {
	return FieldUpdate{Path: path, Op: UpdateRemove}
}

// ArrayUnion appends each value not already present in the array at path
// ArrayUnion 向数组追加尚不存在的值
func ArrayUnion(path []string, values ...any) FieldUpdate {
	return FieldUpdate{Path: path, Op: UpdateArrayUnion, Values: values}
}

// ArrayRemove removes every occurrence of the values from the array at path
// ArrayRemove 从数组中移除所有匹配的值
func ArrayRemove(path []string, values ...any) FieldUpdate {
	return FieldUpdate{Path: path, Op: UpdateArrayRemove, Values: values}
}

// Unsubscribe stops a subscription; no callback runs after it returns.
// It must not be called from inside that subscription's own callback.
// Unsubscribe 停止订阅，返回后不再有回调执行；不可在该订阅自身的回调中调用
type Unsubscribe func()

// Store remote document store contract
// Store 远程文档存储接口
type Store interface {
	// Put writes doc at path; with Merge() nested maps are merged into an existing document
	// Put 写入文档；使用 Merge() 时嵌套字段合并到已有文档
	Put(ctx context.Context, path string, doc map[string]any, opts ...PutOption) error
	// Update applies field transforms atomically; ErrNotFound when the document is missing
	// Update 原子地应用字段变换；文档不存在时返回 ErrNotFound
	Update(ctx context.Context, path string, updates ...FieldUpdate) error
	// Get reads one document; ErrNotFound when missing
	Get(ctx context.Context, path string) (*Document, error)
	// Delete removes one document; deleting a missing document is not an error
	Delete(ctx context.Context, path string) error
	// Query evaluates a collection target once
	Query(ctx context.Context, target Target) ([]Document, error)
	// BatchDelete removes all paths atomically
	// BatchDelete 原子地删除所有路径
	BatchDelete(ctx context.Context, paths []string) error
	// Subscribe delivers the full current result set of target on every change
	// Subscribe 每次变更时推送目标的完整当前结果集
	Subscribe(target Target, onSnapshot func(Snapshot), onError func(error)) (Unsubscribe, error)
	// Close releases the store
	Close() error
}

// SplitPath splits and validates a slash separated path
// SplitPath 切分并校验以斜杠分隔的路径
func SplitPath(path string) ([]string, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil, ErrInvalidPath
	}
	segs := strings.Split(path, "/")
	for _, s := range segs {
		if s == "" || s == "." || s == ".." {
			return nil, ErrInvalidPath
		}
	}
	return segs, nil
}

// IsDocumentPath reports whether path has an even number of segments
func IsDocumentPath(path string) bool {
	segs, err := SplitPath(path)
	return err == nil && len(segs)%2 == 0
}

// ParentPath collection path and id of a document path
// ParentPath 返回文档路径所在的集合路径及文档 ID
func ParentPath(path string) (collection, id string) {
	path = strings.Trim(path, "/")
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return "", path
	}
	return path[:i], path[i+1:]
}

func docPath(path string) (string, error) {
	segs, err := SplitPath(path)
	if err != nil || len(segs)%2 != 0 {
		return "", ErrInvalidPath
	}
	return strings.Join(segs, "/"), nil
}

func collectionPath(path string) (string, error) {
	segs, err := SplitPath(path)
	if err != nil || len(segs)%2 != 1 {
		return "", ErrInvalidPath
	}
	return strings.Join(segs, "/"), nil
}
