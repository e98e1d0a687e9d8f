package rag

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/knowledgeflow/types"
)

// GraphRelationship 有向类型化边。
//
// ID 是 (FromID, Type, TargetID) 的确定性组合，重复插入同一条边是
// 幂等的（属性被替换）。每条边在源节点记为 outgoing，同时在目标
// 节点镜像记为 incoming，两侧共享同一个 ID。
type GraphRelationship struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	FromID     string         `json:"from_id"`
	TargetID   string         `json:"target_id"`
	Properties map[string]any `json:"properties,omitempty"`
}

// GraphNode 图中的类型化节点。表示文档时 ID 等于文档 ID，
// Properties 中可携带 documentId 回链。
type GraphNode struct {
	ID         string              `json:"id"`
	Type       string              `json:"type"`
	Properties map[string]any      `json:"properties,omitempty"`
	Outgoing   []GraphRelationship `json:"outgoing,omitempty"`
	Incoming   []GraphRelationship `json:"incoming,omitempty"`
}

// GraphPath 一条按边数最短的路径。
type GraphPath struct {
	Nodes []*GraphNode        `json:"nodes"`
	Edges []GraphRelationship `json:"edges"`
}

// Length 返回路径的边数。
func (p *GraphPath) Length() int { return len(p.Edges) }

// GraphQueryResult 全文匹配的一条结果。
type GraphQueryResult struct {
	Node         *GraphNode `json:"node"`
	Score        float64    `json:"score"`
	MatchedField string     `json:"matched_field"`
}

// 全文匹配的固定分值：完整字段匹配 > 属性完整匹配 > 类型子串 > 属性子串。
const (
	scoreExactType     = 100
	scoreExactProperty = 75
	scoreSubstringType = 50
	scoreSubstringProp = 25
)

// RelationshipGraph 内存有向关系图。
//
// 节点与边由摄取侧写入、查询侧读取；所有公开操作都持锁，遍历在
// 一致的快照语义下进行。节点中途消失按"无后续边"处理。
type RelationshipGraph struct {
	mu       sync.RWMutex
	nodes    map[string]*GraphNode
	edges    map[string]*GraphRelationship
	outEdges map[string][]string // nodeID -> edgeIDs（插入序）
	inEdges  map[string][]string
	logger   *zap.Logger
}

// NewRelationshipGraph 创建空图。
func NewRelationshipGraph(logger *zap.Logger) *RelationshipGraph {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RelationshipGraph{
		nodes:    make(map[string]*GraphNode),
		edges:    make(map[string]*GraphRelationship),
		outEdges: make(map[string][]string),
		inEdges:  make(map[string][]string),
		logger:   logger.With(zap.String("component", "relationship_graph")),
	}
}

// EdgeID 返回 (from, relType, to) 的确定性组合 ID。
func EdgeID(fromID, relType, toID string) string {
	return fromID + ":" + relType + ":" + toID
}

// AddNode 新增或更新节点。已存在时替换类型与属性，保留既有边。
func (g *RelationshipGraph) AddNode(id, nodeType string, properties map[string]any) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.nodes[id] = &GraphNode{
		ID:         id,
		Type:       nodeType,
		Properties: properties,
	}
}

// AddEdge 添加有向边。任一端点不存在时返回 NOT_FOUND。
// 同一 (from, type, to) 重复插入是幂等的：属性被替换，不产生重复边。
func (g *RelationshipGraph) AddEdge(fromID, toID, relType string, properties map[string]any) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[fromID]; !ok {
		return types.NewNotFound("node", fromID)
	}
	if _, ok := g.nodes[toID]; !ok {
		return types.NewNotFound("node", toID)
	}

	id := EdgeID(fromID, relType, toID)
	if _, exists := g.edges[id]; !exists {
		g.outEdges[fromID] = append(g.outEdges[fromID], id)
		g.inEdges[toID] = append(g.inEdges[toID], id)
	}
	g.edges[id] = &GraphRelationship{
		ID:         id,
		Type:       relType,
		FromID:     fromID,
		TargetID:   toID,
		Properties: properties,
	}
	return nil
}

// GetNode 返回节点及其出入边列表；不存在时返回 (nil, false)。
func (g *RelationshipGraph) GetNode(id string) (*GraphNode, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	node, ok := g.nodes[id]
	if !ok {
		return nil, false
	}
	return g.materialize(node), true
}

// materialize 复制节点并填充出入边。调用方必须已持锁。
func (g *RelationshipGraph) materialize(node *GraphNode) *GraphNode {
	out := &GraphNode{
		ID:         node.ID,
		Type:       node.Type,
		Properties: node.Properties,
	}
	for _, edgeID := range g.outEdges[node.ID] {
		if e, ok := g.edges[edgeID]; ok {
			out.Outgoing = append(out.Outgoing, *e)
		}
	}
	for _, edgeID := range g.inEdges[node.ID] {
		if e, ok := g.edges[edgeID]; ok {
			out.Incoming = append(out.Incoming, *e)
		}
	}
	return out
}

// GetRelated 沿出边做有界深度优先遍历，relType 非空时只跟随该类型的边。
// 起点不存在返回 NOT_FOUND；depth <= 0 不做任何扩展；visited 集合保证
// 环不会导致重复产出或不终止。起点本身不出现在结果中。
func (g *RelationshipGraph) GetRelated(id, relType string, depth int) ([]*GraphNode, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.nodes[id]; !ok {
		return nil, types.NewNotFound("node", id)
	}
	if depth <= 0 {
		return []*GraphNode{}, nil
	}

	type frame struct {
		nodeID    string
		remaining int
	}

	visited := map[string]bool{id: true}
	results := []*GraphNode{}
	stack := []frame{{nodeID: id, remaining: depth}}

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if top.remaining <= 0 {
			continue
		}
		for _, edgeID := range g.outEdges[top.nodeID] {
			edge, ok := g.edges[edgeID]
			if !ok {
				continue
			}
			if relType != "" && edge.Type != relType {
				continue
			}
			if visited[edge.TargetID] {
				continue
			}
			target, ok := g.nodes[edge.TargetID]
			if !ok {
				// 节点在索引中但已被删除：按无后续边处理
				continue
			}
			visited[edge.TargetID] = true
			results = append(results, g.materialize(target))
			stack = append(stack, frame{nodeID: edge.TargetID, remaining: top.remaining - 1})
		}
	}
	return results, nil
}

// FindPath 沿出边做广度优先搜索，返回按边数最短的路径。
// 不可达或超出 maxDepth 跳数时返回 (nil, nil)；端点不存在返回 NOT_FOUND。
// fromID == toID 返回只含该节点的零长路径。
func (g *RelationshipGraph) FindPath(fromID, toID string, maxDepth int) (*GraphPath, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.nodes[fromID]; !ok {
		return nil, types.NewNotFound("node", fromID)
	}
	if _, ok := g.nodes[toID]; !ok {
		return nil, types.NewNotFound("node", toID)
	}

	if fromID == toID {
		return &GraphPath{
			Nodes: []*GraphNode{g.materialize(g.nodes[fromID])},
			Edges: []GraphRelationship{},
		}, nil
	}

	visited := map[string]bool{fromID: true}
	queue := []*step{{nodeID: fromID}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if cur.depth >= maxDepth {
			continue
		}
		for _, edgeID := range g.outEdges[cur.nodeID] {
			edge, ok := g.edges[edgeID]
			if !ok || visited[edge.TargetID] {
				continue
			}
			if _, ok := g.nodes[edge.TargetID]; !ok {
				continue
			}
			next := &step{nodeID: edge.TargetID, prev: cur, edge: edge, depth: cur.depth + 1}
			if edge.TargetID == toID {
				return g.buildPath(next), nil
			}
			visited[edge.TargetID] = true
			queue = append(queue, next)
		}
	}
	return nil, nil
}

// buildPath 从 BFS 终点回溯构造路径。调用方必须已持锁。
func (g *RelationshipGraph) buildPath(end *step) *GraphPath {
	var nodes []*GraphNode
	var edges []GraphRelationship
	for cur := end; cur != nil; cur = cur.prev {
		nodes = append([]*GraphNode{g.materialize(g.nodes[cur.nodeID])}, nodes...)
		if cur.edge != nil {
			edges = append([]GraphRelationship{*cur.edge}, edges...)
		}
	}
	return &GraphPath{Nodes: nodes, Edges: edges}
}

// step 是 FindPath 的 BFS 回溯链表节点。
type step struct {
	nodeID string
	prev   *step
	edge   *GraphRelationship
	depth  int
}

// QueryGraph 对所有节点的类型与字符串属性做自由文本匹配。
// 每个节点取其最高分的匹配：完整类型匹配 100 > 属性完整匹配 75 >
// 类型子串 50 > 属性子串 25；结果按分数降序，同分按节点 ID 排序。
func (g *RelationshipGraph) QueryGraph(text string) []GraphQueryResult {
	g.mu.RLock()
	defer g.mu.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(text))
	if needle == "" {
		return []GraphQueryResult{}
	}

	results := []GraphQueryResult{}
	for _, node := range g.nodes {
		score, field := scoreNodeMatch(node, needle)
		if score == 0 {
			continue
		}
		results = append(results, GraphQueryResult{
			Node:         g.materialize(node),
			Score:        score,
			MatchedField: field,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Node.ID < results[j].Node.ID
	})
	return results
}

func scoreNodeMatch(node *GraphNode, needle string) (float64, string) {
	nodeType := strings.ToLower(node.Type)
	if nodeType == needle {
		return scoreExactType, "type"
	}

	bestScore := 0.0
	bestField := ""
	for key, value := range node.Properties {
		s, ok := value.(string)
		if !ok {
			continue
		}
		lower := strings.ToLower(s)
		if lower == needle {
			return scoreExactProperty, key
		}
		if strings.Contains(lower, needle) && bestScore < scoreSubstringProp {
			bestScore = scoreSubstringProp
			bestField = key
		}
	}
	if strings.Contains(nodeType, needle) && bestScore < scoreSubstringType {
		bestScore = scoreSubstringType
		bestField = "type"
	}
	return bestScore, bestField
}

// DeleteNode 删除节点及其作为任一端点的所有边（两侧镜像同时移除）。
// 节点不存在时是幂等空操作。
func (g *RelationshipGraph) DeleteNode(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[id]; !ok {
		return
	}

	for _, edgeID := range g.outEdges[id] {
		if edge, ok := g.edges[edgeID]; ok {
			g.inEdges[edge.TargetID] = removeString(g.inEdges[edge.TargetID], edgeID)
			delete(g.edges, edgeID)
		}
	}
	for _, edgeID := range g.inEdges[id] {
		if edge, ok := g.edges[edgeID]; ok {
			g.outEdges[edge.FromID] = removeString(g.outEdges[edge.FromID], edgeID)
			delete(g.edges, edgeID)
		}
	}
	delete(g.outEdges, id)
	delete(g.inEdges, id)
	delete(g.nodes, id)
}

// DeleteEdge 删除指定类型的边，两侧镜像同时移除。幂等。
func (g *RelationshipGraph) DeleteEdge(fromID, toID, relType string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := EdgeID(fromID, relType, toID)
	if _, ok := g.edges[id]; !ok {
		return
	}
	g.outEdges[fromID] = removeString(g.outEdges[fromID], id)
	g.inEdges[toID] = removeString(g.inEdges[toID], id)
	delete(g.edges, id)
}

// NodeCount 返回节点数。
func (g *RelationshipGraph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// EdgeCount 返回边数。
func (g *RelationshipGraph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edges)
}

// graphSnapshot 是快照的扁平 JSON 形式，仅作便捷转储，不构成持久化契约。
type graphSnapshot struct {
	Nodes []*GraphNode         `json:"nodes"`
	Edges []*GraphRelationship `json:"edges"`
}

// Snapshot 导出节点与边的 JSON 快照。
func (g *RelationshipGraph) Snapshot() ([]byte, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	snap := graphSnapshot{}
	for _, n := range g.nodes {
		snap.Nodes = append(snap.Nodes, &GraphNode{ID: n.ID, Type: n.Type, Properties: n.Properties})
	}
	for _, e := range g.edges {
		snap.Edges = append(snap.Edges, e)
	}
	sort.Slice(snap.Nodes, func(i, j int) bool { return snap.Nodes[i].ID < snap.Nodes[j].ID })
	sort.Slice(snap.Edges, func(i, j int) bool { return snap.Edges[i].ID < snap.Edges[j].ID })
	return json.Marshal(snap)
}

// Restore 从 Snapshot 的输出重建图，替换当前内容。
func (g *RelationshipGraph) Restore(data []byte) error {
	var snap graphSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}

	g.mu.Lock()
	g.nodes = make(map[string]*GraphNode)
	g.edges = make(map[string]*GraphRelationship)
	g.outEdges = make(map[string][]string)
	g.inEdges = make(map[string][]string)
	g.mu.Unlock()

	for _, n := range snap.Nodes {
		g.AddNode(n.ID, n.Type, n.Properties)
	}
	for _, e := range snap.Edges {
		if err := g.AddEdge(e.FromID, e.TargetID, e.Type, e.Properties); err != nil {
			return err
		}
	}
	return nil
}

func removeString(list []string, target string) []string {
	out := list[:0]
	for _, s := range list {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}
