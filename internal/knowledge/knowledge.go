package knowledge

// Chunk 描述检索得到的一段学习资料。
type Chunk struct {
	Text        string  `json:"text"`
	SourceDocID string  `json:"source_doc_id"`
	Title       string  `json:"title,omitempty"`
	Score       float64 `json:"score"`
}

// Retriever 定义知识检索的通用接口。
type Retriever interface {
	Retrieve(question string, topK int) []Chunk
}

// Answer 是知识问答的结构化结果。
type Answer struct {
	Text      string   `json:"text"`
	Citations []string `json:"citations,omitempty"`
	Degraded  bool     `json:"degraded,omitempty"`
}
