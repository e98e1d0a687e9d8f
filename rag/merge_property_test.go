package rag

import (
	"fmt"
	"testing"

	"pgregory.net/rapid"
)

// genPerStore 随机生成各存储的结果集：随机文档 ID 池、随机分数。
func genPerStore(t *rapid.T) map[StoreType][]SearchResult {
	perStore := map[StoreType][]SearchResult{}
	idPool := rapid.IntRange(1, 12).Draw(t, "id_pool")

	for _, store := range storeDispatchOrder {
		n := rapid.IntRange(0, 8).Draw(t, fmt.Sprintf("n_%s", store))
		results := make([]SearchResult, 0, n)
		for i := 0; i < n; i++ {
			id := fmt.Sprintf("doc-%d", rapid.IntRange(1, idPool).Draw(t, fmt.Sprintf("id_%s_%d", store, i)))
			score := rapid.Float64Range(0, 1).Draw(t, fmt.Sprintf("score_%s_%d", store, i))
			results = append(results, SearchResult{
				Document:       Document{ID: id, Type: DocumentTypeText},
				Score:          score,
				RelevanceScore: score,
			})
		}
		perStore[store] = results
	}
	return perStore
}

func assertSortedDeterministic(t *rapid.T, merged []SearchResult) {
	for i := 1; i < len(merged); i++ {
		prev, cur := merged[i-1], merged[i]
		if prev.Score < cur.Score {
			t.Fatalf("not sorted by score at %d: %v < %v", i, prev.Score, cur.Score)
		}
		if prev.Score == cur.Score && prev.Document.ID >= cur.Document.ID {
			t.Fatalf("tie not broken by document id at %d: %s vs %s", i, prev.Document.ID, cur.Document.ID)
		}
	}
}

func assertNoDuplicates(t *rapid.T, merged []SearchResult) {
	seen := map[string]bool{}
	for _, r := range merged {
		if seen[r.Document.ID] {
			t.Fatalf("duplicate document %s in merged output", r.Document.ID)
		}
		seen[r.Document.ID] = true
	}
}

// 合并必须是纯函数：同一输入两次合并产出完全相同的序列。
func TestMergeStrategies_Deterministic(t *testing.T) {
	t.Parallel()

	strategies := []MergeStrategy{MergeUnion, MergeIntersection, MergeWeighted, MergeRanked}
	weights := DefaultCoordinatorConfig().StoreWeights

	rapid.Check(t, func(rt *rapid.T) {
		perStore := genPerStore(rt)

		for _, strategy := range strategies {
			run := func() []SearchResult {
				switch strategy {
				case MergeIntersection:
					return mergeIntersection(perStore)
				case MergeWeighted:
					return mergeWeighted(perStore, weights)
				default:
					return mergeUnion(perStore)
				}
			}

			first := run()
			second := run()

			if len(first) != len(second) {
				rt.Fatalf("%s: lengths differ %d vs %d", strategy, len(first), len(second))
			}
			for i := range first {
				if first[i].Document.ID != second[i].Document.ID ||
					first[i].Score != second[i].Score ||
					first[i].RelevanceScore != second[i].RelevanceScore {
					rt.Fatalf("%s: run differs at %d: %+v vs %+v", strategy, i, first[i], second[i])
				}
			}

			assertSortedDeterministic(rt, first)
			assertNoDuplicates(rt, first)
		}
	})
}

// 加权合并不得修改调用方传入的结果切片。
func TestMergeWeighted_DoesNotMutateInput(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		perStore := genPerStore(rt)
		original := map[StoreType][]float64{}
		for store, results := range perStore {
			for _, r := range results {
				original[store] = append(original[store], r.Score)
			}
		}

		_ = mergeWeighted(perStore, DefaultCoordinatorConfig().StoreWeights)

		for store, results := range perStore {
			for i, r := range results {
				if r.Score != original[store][i] {
					rt.Fatalf("input mutated for %s[%d]: %v != %v", store, i, r.Score, original[store][i])
				}
			}
		}
	})
}

// 并集的 relevanceScore 随确认源增多单调不减。
func TestMergeUnion_RelevanceMonotone(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		perStore := genPerStore(rt)
		merged := mergeUnion(perStore)

		maxSingle := map[string]float64{}
		for _, results := range perStore {
			for _, r := range results {
				if r.RelevanceScore > maxSingle[r.Document.ID] {
					maxSingle[r.Document.ID] = r.RelevanceScore
				}
			}
		}
		for _, r := range merged {
			if r.RelevanceScore < maxSingle[r.Document.ID]-1e-12 {
				rt.Fatalf("relevance %v below best single source %v for %s",
					r.RelevanceScore, maxSingle[r.Document.ID], r.Document.ID)
			}
		}
	})
}
