package knowledge

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// defaultMinScore 是检索结果的相关度下限，低于该值的切片不会返回。
const defaultMinScore = 0.3

// Document 是知识库文件中的一条学习资料。
type Document struct {
	ID       string   `yaml:"id"`
	Title    string   `yaml:"title"`
	Content  string   `yaml:"content"`
	Keywords []string `yaml:"keywords"`
	Tags     []string `yaml:"tags"`
}

// StaticRetriever 通过加载 YAML 文件提供静态知识检索能力，
// 以关键词与标签的命中比例作为相关度评分。
type StaticRetriever struct {
	documents []Document
	minScore  float64
}

// NewStaticRetriever 创建静态检索器实例。
func NewStaticRetriever(documents []Document, minScore float64) *StaticRetriever {
	if minScore <= 0 {
		minScore = defaultMinScore
	}
	return &StaticRetriever{
		documents: documents,
		minScore:  minScore,
	}
}

// LoadStaticRetriever 从 YAML 文件加载知识条目。
func LoadStaticRetriever(path string, minScore float64) (*StaticRetriever, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("知识库文件路径不能为空")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析知识库路径失败: %w", err)
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取知识库文件失败: %w", err)
	}

	var corpus struct {
		Documents []Document `yaml:"documents"`
	}
	if err := yaml.Unmarshal(content, &corpus); err != nil {
		return nil, fmt.Errorf("解析知识库文件失败: %w", err)
	}

	return NewStaticRetriever(corpus.Documents, minScore), nil
}

// Retrieve 根据问题检索最相关的若干切片，按相关度降序。
func (r *StaticRetriever) Retrieve(question string, topK int) []Chunk {
	if r == nil {
		return nil
	}
	if topK <= 0 {
		topK = 3
	}

	question = strings.ToLower(strings.TrimSpace(question))
	if question == "" {
		return nil
	}

	chunks := make([]Chunk, 0, topK)
	for _, doc := range r.documents {
		score := scoreDocument(doc, question)
		if score < r.minScore {
			continue
		}
		chunks = append(chunks, Chunk{
			Text:        doc.Content,
			SourceDocID: doc.ID,
			Title:       doc.Title,
			Score:       score,
		})
	}

	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].Score > chunks[j].Score
	})
	if len(chunks) > topK {
		chunks = chunks[:topK]
	}
	return chunks
}

// scoreDocument 计算问题与文档关键词、标签的命中比例。
// 关键词命中的权重高于标签命中。
func scoreDocument(doc Document, question string) float64 {
	terms := len(doc.Keywords) + len(doc.Tags)
	if terms == 0 {
		return 0
	}

	var score float64
	for _, keyword := range doc.Keywords {
		normalized := strings.ToLower(strings.TrimSpace(keyword))
		if normalized == "" {
			continue
		}
		if strings.Contains(question, normalized) {
			score += 1.0
		}
	}
	for _, tag := range doc.Tags {
		normalized := strings.ToLower(strings.TrimSpace(tag))
		if normalized == "" {
			continue
		}
		if strings.Contains(question, normalized) {
			score += 0.5
		}
	}
	return score / float64(terms)
}

var _ Retriever = (*StaticRetriever)(nil)
