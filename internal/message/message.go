// Package message defines the closed set of protocol messages exchanged with
// gateway clients and the JSON codec that moves them on and off the wire.
package message

import "time"

// Kind is the discriminant tag selecting a message's shape and routing
// behaviour.
type Kind string

const (
	KindError                Kind = "error"
	KindQueueForIndexing     Kind = "queue_for_indexing"
	KindIndexingFinished     Kind = "indexing_finished"
	KindSearchForKeeper      Kind = "search_for_keeper"
	KindSearchResults        Kind = "search_results"
	KindUpdateTags           Kind = "update_tags"
	KindRemoveDocument       Kind = "remove_document"
	KindUpdateDeleteResponse Kind = "update_delete_response"
)

// Valid reports whether k belongs to the closed kind set.
func (k Kind) Valid() bool {
	switch k {
	case KindError, KindQueueForIndexing, KindIndexingFinished,
		KindSearchForKeeper, KindSearchResults, KindUpdateTags,
		KindRemoveDocument, KindUpdateDeleteResponse:
		return true
	}
	return false
}

// ResultsType distinguishes a one-item lookup from a multi-item search in a
// search_results message.
type ResultsType string

const (
	ResultsMany   ResultsType = "many"
	ResultsSingle ResultsType = "single"
)

// Document is a keeper document as stored and indexed.
type Document struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	Tags     string `json:"tags"`
	ImageEnc string `json:"image_enc,omitempty"`
}

// DocumentResult is a document returned from the store, carrying the search
// score and creation time alongside the document fields.
type DocumentResult struct {
	Document
	Score   float64   `json:"score"`
	Created time.Time `json:"created"`
}

// Message is the unit of protocol exchange. The identity is the correlation
// token assigned by the router; it is empty on ingress and must never be set
// by callers.
type Message interface {
	MessageKind() Kind
	Identity() string
	// SetIdentity overwrites the correlation identity. Reserved for the
	// router; everything else treats a message as immutable.
	SetIdentity(id string)
}

// Base carries the fields common to every message kind. Embed it in each
// variant.
type Base struct {
	Kind Kind   `json:"kind"`
	ID   string `json:"id,omitempty"`
}

func (b *Base) MessageKind() Kind     { return b.Kind }
func (b *Base) Identity() string      { return b.ID }
func (b *Base) SetIdentity(id string) { b.ID = id }

// ErrorMessage reports a failure to the client, including timeouts on the
// asynchronous indexing path.
type ErrorMessage struct {
	Base
	Reason string `json:"error,omitempty"`
}

// QueueForIndexing asks the gateway to enqueue a document for out-of-band
// indexing.
type QueueForIndexing struct {
	Base
	Document Document `json:"document"`
}

// IndexingFinished announces on the broadcast exchange that a queued document
// has been indexed. Its identity matches the originating QueueForIndexing
// request.
type IndexingFinished struct {
	Base
	Document Document `json:"document"`
}

// SearchForKeeper requests either a full-text search (SearchString set) or a
// single-document lookup (DocumentID set).
type SearchForKeeper struct {
	Base
	SearchString string `json:"searchString,omitempty"`
	DocumentID   string `json:"documentId,omitempty"`
}

// SearchResults carries the outcome of a search or lookup back to the client.
type SearchResults struct {
	Base
	Results     []DocumentResult `json:"results"`
	TookMs      int64            `json:"tookMs"`
	ResultsType ResultsType      `json:"resultsType"`
}

// UpdateTags replaces the tags on the identified documents.
type UpdateTags struct {
	Base
	KeeperIDs []string `json:"keeperIds"`
	Tags      string   `json:"tags"`
}

// RemoveDocument deletes the identified documents from the store.
type RemoveDocument struct {
	Base
	KeeperIDs []string `json:"keeperIds"`
}

// UpdateDeleteResponse acknowledges an update_tags or remove_document request.
type UpdateDeleteResponse struct {
	Base
	Success bool   `json:"success"`
	Err     string `json:"err,omitempty"`
}

// NewErrorMessage builds an error message carrying the given identity.
func NewErrorMessage(id, reason string) *ErrorMessage {
	return &ErrorMessage{Base: Base{Kind: KindError, ID: id}, Reason: reason}
}

// NewSearchResults builds a multi-result search_results message.
func NewSearchResults(results []DocumentResult, tookMs int64) *SearchResults {
	return &SearchResults{
		Base:        Base{Kind: KindSearchResults},
		Results:     results,
		TookMs:      tookMs,
		ResultsType: ResultsMany,
	}
}

// NewSingleSearchResult builds a single-result search_results message for a
// one-document lookup.
func NewSingleSearchResult(result DocumentResult) *SearchResults {
	return &SearchResults{
		Base:        Base{Kind: KindSearchResults},
		Results:     []DocumentResult{result},
		ResultsType: ResultsSingle,
	}
}

// NewIndexingFinished builds the broadcast completion message for an indexed
// document, reusing the identity of the originating request.
func NewIndexingFinished(id string, doc Document) *IndexingFinished {
	return &IndexingFinished{Base: Base{Kind: KindIndexingFinished, ID: id}, Document: doc}
}

// NewUpdateDeleteResponse builds the synchronous acknowledgment for an
// update_tags or remove_document request.
func NewUpdateDeleteResponse(id string, success bool, errText string) *UpdateDeleteResponse {
	return &UpdateDeleteResponse{
		Base:    Base{Kind: KindUpdateDeleteResponse, ID: id},
		Success: success,
		Err:     errText,
	}
}
