package models

// IngestRequest is the relay→store capture message. Account and Relation may
// be empty, in which case the store derives them from SourceURL.
type IngestRequest struct {
	Account   string             `json:"account,omitempty"`
	Relation  RelationKind       `json:"relation_kind,omitempty"`
	SourceURL string             `json:"source_url"`
	Records   []ConnectionRecord `json:"records"`
	BatchID   string             `json:"batch_id,omitempty"`
}

// StatusResponse is the uniform acknowledgement for mutating operations.
type StatusResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
