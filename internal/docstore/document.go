package docstore

import (
	"maps"
	"reflect"
	"slices"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
)

// Encode converts a typed value into generic document data
// Encode 将类型化的值转换为通用文档数据
func Encode(v any) (map[string]any, error) {
	if m, ok := v.(map[string]any); ok {
		return normalizeMap(m)
	}
	raw, err := sonic.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "encode document")
	}
	var m map[string]any
	if err := sonic.Unmarshal(raw, &m); err != nil {
		return nil, errors.Wrap(err, "encode document")
	}
	if m == nil {
		return nil, errors.New("encode document: value is not an object")
	}
	return m, nil
}

// Decode converts document data into v
// Decode 将文档数据解码到 v
func Decode(data map[string]any, v any) error {
	raw, err := sonic.Marshal(data)
	if err != nil {
		return errors.Wrap(err, "decode document")
	}
	return errors.Wrap(sonic.Unmarshal(raw, v), "decode document")
}

// normalizeMap deep-copies m into the JSON value space (float64, []any, map[string]any)
func normalizeMap(m map[string]any) (map[string]any, error) {
	if m == nil {
		return map[string]any{}, nil
	}
	raw, err := sonic.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "normalize document")
	}
	out := map[string]any{}
	if err := sonic.Unmarshal(raw, &out); err != nil {
		return nil, errors.Wrap(err, "normalize document")
	}
	return out, nil
}

func normalizeValue(v any) (any, error) {
	raw, err := sonic.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "normalize value")
	}
	var out any
	if err := sonic.Unmarshal(raw, &out); err != nil {
		return nil, errors.Wrap(err, "normalize value")
	}
	return out, nil
}

// marshalData serializes document data for backends that store text
func marshalData(data map[string]any) (string, error) {
	raw, err := sonic.Marshal(data)
	if err != nil {
		return "", errors.Wrap(err, "marshal document")
	}
	return string(raw), nil
}

func unmarshalData(raw string) (map[string]any, error) {
	out := map[string]any{}
	if err := sonic.UnmarshalString(raw, &out); err != nil {
		return nil, errors.Wrap(err, "unmarshal document")
	}
	return out, nil
}

// deepMerge returns base with patch merged in; neither argument is modified
// deepMerge 返回合并 patch 后的新映射，不修改参数
func deepMerge(base, patch map[string]any) map[string]any {
	out := maps.Clone(base)
	if out == nil {
		out = make(map[string]any, len(patch))
	}
	for k, pv := range patch {
		pm, pIsMap := pv.(map[string]any)
		bm, bIsMap := out[k].(map[string]any)
		if pIsMap && bIsMap {
			out[k] = deepMerge(bm, pm)
			continue
		}
		out[k] = pv
	}
	return out
}

// applyUpdates returns data with every transform applied; data is not modified
// applyUpdates 返回应用所有字段变换后的新数据，不修改原数据
func applyUpdates(data map[string]any, updates []FieldUpdate) (map[string]any, error) {
	out := data
	for _, u := range updates {
		if len(u.Path) == 0 {
			return nil, errors.Wrap(ErrInvalidUpdate, "empty field path")
		}
		var (
			next map[string]any
			err  error
		)
		switch u.Op {
		case UpdateSet:
			var v any
			if v, err = normalizeValue(u.Value); err != nil {
				return nil, err
			}
			next, err = setIn(out, u.Path, func(any, bool) (any, bool, error) { return v, true, nil })
		case UpdateRemove:
			next, err = setIn(out, u.Path, func(any, bool) (any, bool, error) { return nil, false, nil })
		case UpdateArrayUnion, UpdateArrayRemove:
			var values []any
			for _, raw := range u.Values {
				v, err := normalizeValue(raw)
				if err != nil {
					return nil, err
				}
				values = append(values, v)
			}
			union := u.Op == UpdateArrayUnion
			next, err = setIn(out, u.Path, func(old any, exists bool) (any, bool, error) {
				var arr []any
				if exists && old != nil {
					a, ok := old.([]any)
					if !ok {
						return nil, false, errors.Wrapf(ErrInvalidUpdate, "field %s is not an array", strings.Join(u.Path, "."))
					}
					arr = a
				}
				if union {
					return arrayUnion(arr, values), true, nil
				}
				return arrayRemove(arr, values), true, nil
			})
		default:
			return nil, errors.Wrapf(ErrInvalidUpdate, "unknown op %q", u.Op)
		}
		if err != nil {
			return nil, err
		}
		out = next
	}
	return out, nil
}

// setIn rewrites the field at path copy-on-write; fn returns the new value and whether to keep the key
func setIn(m map[string]any, path []string, fn func(old any, exists bool) (any, bool, error)) (map[string]any, error) {
	out := maps.Clone(m)
	if out == nil {
		out = map[string]any{}
	}
	key := path[0]
	if len(path) == 1 {
		old, exists := out[key]
		v, keep, err := fn(old, exists)
		if err != nil {
			return nil, err
		}
		if keep {
			out[key] = v
		} else {
			delete(out, key)
		}
		return out, nil
	}

	child, _ := out[key].(map[string]any)
	next, err := setIn(child, path[1:], fn)
	if err != nil {
		return nil, err
	}
	out[key] = next
	return out, nil
}

func arrayUnion(arr, values []any) []any {
	out := slices.Clone(arr)
	for _, v := range values {
		if !containsValue(out, v) {
			out = append(out, v)
		}
	}
	if out == nil {
		out = []any{}
	}
	return out
}

func arrayRemove(arr, values []any) []any {
	out := make([]any, 0, len(arr))
	for _, e := range arr {
		if !containsValue(values, e) {
			out = append(out, e)
		}
	}
	return out
}

func containsValue(arr []any, v any) bool {
	for _, e := range arr {
		if reflect.DeepEqual(e, v) {
			return true
		}
	}
	return false
}

// lookup resolves a dotted field inside data
func lookup(data map[string]any, field string) (any, bool) {
	var cur any = data
	for _, seg := range strings.Split(field, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[seg]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// matcher evaluates a target's filters against documents
type matcher struct {
	filters []Filter
	values  []any
}

func newMatcher(filters []Filter) (*matcher, error) {
	m := &matcher{filters: filters}
	for _, f := range filters {
		if f.Field == "" {
			return nil, errors.New("filter field is empty")
		}
		if f.Op != OpEqual && f.Op != OpArrayContains {
			return nil, errors.Errorf("unsupported filter op %q", f.Op)
		}
		v, err := normalizeValue(f.Value)
		if err != nil {
			return nil, err
		}
		m.values = append(m.values, v)
	}
	return m, nil
}

func (m *matcher) match(d *Document) bool {
	if d == nil {
		return false
	}
	for i, f := range m.filters {
		got, ok := lookup(d.Data, f.Field)
		if !ok {
			return false
		}
		switch f.Op {
		case OpEqual:
			if !reflect.DeepEqual(got, m.values[i]) {
				return false
			}
		case OpArrayContains:
			arr, ok := got.([]any)
			if !ok || !containsValue(arr, m.values[i]) {
				return false
			}
		}
	}
	return true
}

// filterDocs applies t's filters and orders the result by id
func filterDocs(t Target, docs []Document) ([]Document, error) {
	m, err := newMatcher(t.Filters)
	if err != nil {
		return nil, err
	}
	out := make([]Document, 0, len(docs))
	for i := range docs {
		if m.match(&docs[i]) {
			out = append(out, docs[i])
		}
	}
	slices.SortFunc(out, func(a, b Document) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func newDocument(path string, data map[string]any) Document {
	_, id := ParentPath(path)
	return Document{ID: id, Path: path, Data: data}
}
