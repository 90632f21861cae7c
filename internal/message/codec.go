package message

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

var codec = sonic.ConfigStd

// ErrNotAMessage is returned by Decode when the payload has no recognised
// kind discriminant.
var ErrNotAMessage = errors.New("not a message")

// MissingFieldError reports a kind-specific payload field absent from the
// wire form.
type MissingFieldError struct {
	Kind  Kind
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("decode %s: missing field %q", e.Kind, e.Field)
}

// Decode parses a raw transport payload into the typed variant matching its
// kind. A payload without a valid kind fails with ErrNotAMessage; a payload
// missing a field its kind requires fails with a MissingFieldError. Decode
// never returns a partially populated message.
func Decode(raw []byte) (Message, error) {
	var probe struct {
		Kind *Kind `json:"kind"`
	}
	if err := codec.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAMessage, err)
	}
	if probe.Kind == nil || !probe.Kind.Valid() {
		return nil, ErrNotAMessage
	}

	switch *probe.Kind {
	case KindError:
		var m ErrorMessage
		if err := codec.Unmarshal(raw, &m); err != nil {
			return nil, decodeErr(KindError, err)
		}
		return &m, nil

	case KindQueueForIndexing:
		var w struct {
			Base
			Document *Document `json:"document"`
		}
		if err := codec.Unmarshal(raw, &w); err != nil {
			return nil, decodeErr(KindQueueForIndexing, err)
		}
		if w.Document == nil {
			return nil, &MissingFieldError{Kind: KindQueueForIndexing, Field: "document"}
		}
		return &QueueForIndexing{Base: w.Base, Document: *w.Document}, nil

	case KindIndexingFinished:
		var w struct {
			Base
			Document *Document `json:"document"`
		}
		if err := codec.Unmarshal(raw, &w); err != nil {
			return nil, decodeErr(KindIndexingFinished, err)
		}
		if w.Document == nil {
			return nil, &MissingFieldError{Kind: KindIndexingFinished, Field: "document"}
		}
		return &IndexingFinished{Base: w.Base, Document: *w.Document}, nil

	case KindSearchForKeeper:
		var m SearchForKeeper
		if err := codec.Unmarshal(raw, &m); err != nil {
			return nil, decodeErr(KindSearchForKeeper, err)
		}
		if m.SearchString == "" && m.DocumentID == "" {
			return nil, &MissingFieldError{Kind: KindSearchForKeeper, Field: "searchString"}
		}
		return &m, nil

	case KindSearchResults:
		var m SearchResults
		if err := codec.Unmarshal(raw, &m); err != nil {
			return nil, decodeErr(KindSearchResults, err)
		}
		return &m, nil

	case KindUpdateTags:
		var m UpdateTags
		if err := codec.Unmarshal(raw, &m); err != nil {
			return nil, decodeErr(KindUpdateTags, err)
		}
		if len(m.KeeperIDs) == 0 {
			return nil, &MissingFieldError{Kind: KindUpdateTags, Field: "keeperIds"}
		}
		return &m, nil

	case KindRemoveDocument:
		var m RemoveDocument
		if err := codec.Unmarshal(raw, &m); err != nil {
			return nil, decodeErr(KindRemoveDocument, err)
		}
		if len(m.KeeperIDs) == 0 {
			return nil, &MissingFieldError{Kind: KindRemoveDocument, Field: "keeperIds"}
		}
		return &m, nil

	case KindUpdateDeleteResponse:
		var m UpdateDeleteResponse
		if err := codec.Unmarshal(raw, &m); err != nil {
			return nil, decodeErr(KindUpdateDeleteResponse, err)
		}
		return &m, nil
	}

	return nil, ErrNotAMessage
}

// Encode marshals a typed message back to its transport payload. It is the
// structural inverse of Decode: Decode(Encode(m)) yields a message equal to m
// for every valid m.
func Encode(m Message) ([]byte, error) {
	if m == nil {
		return nil, errors.New("encode: nil message")
	}
	payload, err := codec.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.MessageKind(), err)
	}
	return payload, nil
}

func decodeErr(kind Kind, err error) error {
	return fmt.Errorf("decode %s: %w", kind, err)
}
