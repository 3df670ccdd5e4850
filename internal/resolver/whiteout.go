package resolver

import "github.com/any-hub/any-install/internal/txn"

// WhiteoutTable 是静态的忽略依赖边集合，用于打破引导阶段的循环依赖。
type WhiteoutTable struct {
	edges []txn.Edge
	set   map[txn.Edge]struct{}
}

// NewWhiteoutTable 去重后保留声明顺序。
func NewWhiteoutTable(edges []txn.Edge) *WhiteoutTable {
	t := &WhiteoutTable{set: make(map[txn.Edge]struct{}, len(edges))}
	for _, e := range edges {
		if _, dup := t.set[e]; dup {
			continue
		}
		t.set[e] = struct{}{}
		t.edges = append(t.edges, e)
	}
	return t
}

// Edges 返回表中的边。
func (t *WhiteoutTable) Edges() []txn.Edge {
	if t == nil {
		return nil
	}
	out := make([]txn.Edge, len(t.edges))
	copy(out, t.edges)
	return out
}

// Suppresses 判断一条未满足依赖是否命中表中的边：
// 需求方一致，且需求文本或建议包等于被忽略的提供方。
func (t *WhiteoutTable) Suppresses(u txn.Unresolved) bool {
	if t == nil || len(t.set) == 0 {
		return false
	}
	if _, ok := t.set[txn.Edge{Requiring: u.Requiring, Provided: u.Requirement}]; ok {
		return true
	}
	if u.Suggested != "" {
		if _, ok := t.set[txn.Edge{Requiring: u.Requiring, Provided: u.Suggested}]; ok {
			return true
		}
	}
	return false
}

// apply 推送到支持 whiteout 的后端。
func (t *WhiteoutTable) apply(backend txn.Backend) error {
	if t == nil || len(t.edges) == 0 {
		return nil
	}
	if w, ok := backend.(txn.Whiteouter); ok {
		return w.SetWhiteout(t.Edges())
	}
	return nil
}

func (t *WhiteoutTable) filter(list []txn.Unresolved) []txn.Unresolved {
	if t == nil || len(t.set) == 0 {
		return list
	}
	out := list[:0:0]
	for _, u := range list {
		if !t.Suppresses(u) {
			out = append(out, u)
		}
	}
	return out
}
