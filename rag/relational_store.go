package rag

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/knowledgeflow/types"
)

// RelationalStore 关系存储能力接口（全文排序检索）。
type RelationalStore interface {
	// StoreDocument 写入或更新文档
	StoreDocument(ctx context.Context, doc Document) error

	// SearchDocuments 全文检索，按相关度降序
	SearchDocuments(ctx context.Context, query KnowledgeQuery) ([]SearchResult, error)

	// GetDocumentsByType 按类型取文档
	GetDocumentsByType(ctx context.Context, docType DocumentType, limit int) ([]Document, error)

	// GetDocumentsByTags 按标签取文档（任一标签命中）
	GetDocumentsByTags(ctx context.Context, tags []string, limit int) ([]Document, error)

	// GetDocument 按 ID 取回文档
	GetDocument(ctx context.Context, id string) (*Document, error)

	// DeleteDocument 删除文档，缺失时为幂等空操作
	DeleteDocument(ctx context.Context, id string) error
}

// documentRecord 是文档在关系库中的行结构。
type documentRecord struct {
	ID        string `gorm:"primaryKey;column:id"`
	Title     string `gorm:"column:title"`
	Content   string `gorm:"column:content"`
	DocType   string `gorm:"column:doc_type;index"`
	Source    string `gorm:"column:source"`
	Author    string `gorm:"column:author"`
	Language  string `gorm:"column:language"`
	Tags      string `gorm:"column:tags"` // JSON 数组
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName 指定表名。
func (documentRecord) TableName() string { return "kf_documents" }

// GormRelationalStore 基于 GORM 的关系存储实现。
//
// 检索用 LIKE 预筛候选行，再在进程内按词频打分排序；分数按结果集内
// 最大命中数归一化到 (0,1]，与向量余弦分可比。
type GormRelationalStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormRelationalStore 创建并迁移关系存储。
func NewGormRelationalStore(db *gorm.DB, logger *zap.Logger) (*GormRelationalStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&documentRecord{}); err != nil {
		return nil, types.NewStoreUnavailable("relational", err)
	}
	return &GormRelationalStore{
		db:     db,
		logger: logger.With(zap.String("component", "relational_store")),
	}, nil
}

// StoreDocument 写入或更新文档（按主键冲突全量更新）。
func (s *GormRelationalStore) StoreDocument(ctx context.Context, doc Document) error {
	rec, err := toRecord(doc)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&rec).Error
	if err != nil {
		return types.NewStoreUnavailable("relational", err)
	}
	return nil
}

// SearchDocuments 全文检索。
func (s *GormRelationalStore) SearchDocuments(ctx context.Context, query KnowledgeQuery) ([]SearchResult, error) {
	terms := strings.Fields(strings.ToLower(query.Text))
	if len(terms) == 0 {
		return []SearchResult{}, nil
	}

	// 词条件整体成组，避免 OR 链泄漏到后续 AND 过滤之外
	var match *gorm.DB
	for _, term := range terms {
		pattern := "%" + term + "%"
		cond := s.db.Where("lower(content) LIKE ?", pattern).Or("lower(title) LIKE ?", pattern)
		if match == nil {
			match = cond
		} else {
			match = match.Or(cond)
		}
	}
	tx := s.db.WithContext(ctx).Model(&documentRecord{}).Where(match)
	if len(query.Types) > 0 {
		typeNames := make([]string, len(query.Types))
		for i, t := range query.Types {
			typeNames[i] = string(t)
		}
		tx = tx.Where("doc_type IN ?", typeNames)
	}

	var records []documentRecord
	if err := tx.Find(&records).Error; err != nil {
		return nil, types.NewStoreUnavailable("relational", err)
	}

	results := rankRecords(records, terms)
	if query.Limit > 0 && len(results) > query.Limit {
		results = results[:query.Limit]
	}
	return results, nil
}

// rankRecords 进程内词频打分并归一化排序。
func rankRecords(records []documentRecord, terms []string) []SearchResult {
	type scored struct {
		rec  documentRecord
		hits float64
	}

	var candidates []scored
	maxHits := 0.0
	for _, rec := range records {
		content := strings.ToLower(rec.Content)
		title := strings.ToLower(rec.Title)

		hits := 0.0
		for _, term := range terms {
			hits += float64(strings.Count(content, term))
			hits += 2.0 * float64(strings.Count(title, term)) // 标题命中权重更高
		}
		if hits == 0 {
			continue
		}
		if hits > maxHits {
			maxHits = hits
		}
		candidates = append(candidates, scored{rec: rec, hits: hits})
	}

	results := make([]SearchResult, 0, len(candidates))
	for _, c := range candidates {
		doc, err := fromRecord(c.rec)
		if err != nil {
			continue
		}
		score := c.hits / maxHits
		results = append(results, SearchResult{
			Document:       doc,
			Score:          score,
			RelevanceScore: score,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Document.ID < results[j].Document.ID
	})
	return results
}

// GetDocumentsByType 按类型取文档。
func (s *GormRelationalStore) GetDocumentsByType(ctx context.Context, docType DocumentType, limit int) ([]Document, error) {
	var records []documentRecord
	tx := s.db.WithContext(ctx).Where("doc_type = ?", string(docType)).Order("id")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Find(&records).Error; err != nil {
		return nil, types.NewStoreUnavailable("relational", err)
	}
	return recordsToDocs(records), nil
}

// GetDocumentsByTags 按标签取文档，任一标签命中即返回。
func (s *GormRelationalStore) GetDocumentsByTags(ctx context.Context, tags []string, limit int) ([]Document, error) {
	if len(tags) == 0 {
		return []Document{}, nil
	}

	tx := s.db.WithContext(ctx).Model(&documentRecord{})
	for i, tag := range tags {
		// 标签存为 JSON 数组，按带引号的元素匹配
		pattern := "%" + `"` + tag + `"` + "%"
		if i == 0 {
			tx = tx.Where("tags LIKE ?", pattern)
		} else {
			tx = tx.Or("tags LIKE ?", pattern)
		}
	}
	tx = tx.Order("id")
	if limit > 0 {
		tx = tx.Limit(limit)
	}

	var records []documentRecord
	if err := tx.Find(&records).Error; err != nil {
		return nil, types.NewStoreUnavailable("relational", err)
	}
	return recordsToDocs(records), nil
}

// GetDocument 按 ID 取回文档；缺失返回 NOT_FOUND。
func (s *GormRelationalStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	var rec documentRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewNotFound("document", id)
	}
	if err != nil {
		return nil, types.NewStoreUnavailable("relational", err)
	}
	doc, err := fromRecord(rec)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// DeleteDocument 删除文档。缺失时为幂等空操作。
func (s *GormRelationalStore) DeleteDocument(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Delete(&documentRecord{}, "id = ?", id).Error
	if err != nil {
		return types.NewStoreUnavailable("relational", err)
	}
	return nil
}

func toRecord(doc Document) (documentRecord, error) {
	tags, err := json.Marshal(doc.Metadata.Tags)
	if err != nil {
		return documentRecord{}, err
	}
	return documentRecord{
		ID:       doc.ID,
		Title:    doc.Title,
		Content:  doc.Content,
		DocType:  string(doc.Type),
		Source:   doc.Source,
		Author:   doc.Metadata.Author,
		Language: doc.Metadata.Language,
		Tags:     string(tags),
	}, nil
}

func fromRecord(rec documentRecord) (Document, error) {
	var tags []string
	if rec.Tags != "" {
		if err := json.Unmarshal([]byte(rec.Tags), &tags); err != nil {
			return Document{}, err
		}
	}
	return Document{
		ID:      rec.ID,
		Title:   rec.Title,
		Content: rec.Content,
		Type:    DocumentType(rec.DocType),
		Source:  rec.Source,
		Metadata: DocumentMetadata{
			Author:    rec.Author,
			Language:  rec.Language,
			Tags:      tags,
			CreatedAt: rec.CreatedAt,
			UpdatedAt: rec.UpdatedAt,
		},
	}, nil
}

func recordsToDocs(records []documentRecord) []Document {
	docs := make([]Document, 0, len(records))
	for _, rec := range records {
		doc, err := fromRecord(rec)
		if err != nil {
			continue
		}
		docs = append(docs, doc)
	}
	return docs
}
