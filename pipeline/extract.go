package pipeline

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Provenance records how an entity identifier was recovered from a receipt.
// The id of a newly created escrow has no authoritative read path; it is
// reconstructed from transaction side effects, so callers must know whether
// the value is decoded, guessed from a bare topic, or synthesised.
type Provenance string

const (
	// ProvenanceAuthoritative: decoded from the known event signature on the
	// target program.
	ProvenanceAuthoritative Provenance = "authoritative"
	// ProvenanceTopicFallback: first indexed topic of some target-program
	// log; the event shape was not recognised.
	ProvenanceTopicFallback Provenance = "topic_fallback"
	// ProvenanceSynthetic: derived from the transaction hash. Unverified;
	// it can diverge from the ledger's true id and reads against it may
	// miss. Surfaced so the funds transfer is never hidden, never trusted.
	ProvenanceSynthetic Provenance = "synthetic"
)

// ExtractedID is an entity id plus how it was obtained.
type ExtractedID struct {
	ID         common.Hash
	Provenance Provenance
}

// extractStrategy inspects a confirmed receipt and optionally yields an id.
type extractStrategy func(receipt *types.Receipt, program common.Address, eventSig common.Hash) (common.Hash, bool)

// Fixed-priority list; the first match wins.
var extractStrategies = []struct {
	provenance Provenance
	fn         extractStrategy
}{
	{ProvenanceAuthoritative, extractFromKnownEvent},
	{ProvenanceTopicFallback, extractFirstIndexedTopic},
	{ProvenanceSynthetic, extractFromTxHash},
}

// ExtractID recovers the newly created entity's identifier from the
// confirmed receipt, trying each strategy in priority order.
func ExtractID(receipt *types.Receipt, program common.Address, eventSig common.Hash) ExtractedID {
	for _, s := range extractStrategies {
		if id, ok := s.fn(receipt, program, eventSig); ok {
			return ExtractedID{ID: id, Provenance: s.provenance}
		}
	}
	// extractFromTxHash always matches on a non-nil receipt; reaching here
	// means no receipt at all.
	return ExtractedID{}
}

func extractFromKnownEvent(receipt *types.Receipt, program common.Address, eventSig common.Hash) (common.Hash, bool) {
	if receipt == nil {
		return common.Hash{}, false
	}
	for _, log := range receipt.Logs {
		if log == nil || log.Address != program {
			continue
		}
		if len(log.Topics) >= 2 && log.Topics[0] == eventSig {
			return log.Topics[1], true
		}
	}
	return common.Hash{}, false
}

func extractFirstIndexedTopic(receipt *types.Receipt, program common.Address, _ common.Hash) (common.Hash, bool) {
	if receipt == nil {
		return common.Hash{}, false
	}
	for _, log := range receipt.Logs {
		if log == nil || log.Address != program {
			continue
		}
		if len(log.Topics) >= 2 {
			return log.Topics[1], true
		}
	}
	return common.Hash{}, false
}

func extractFromTxHash(receipt *types.Receipt, _ common.Address, _ common.Hash) (common.Hash, bool) {
	if receipt == nil {
		return common.Hash{}, false
	}
	return receipt.TxHash, true
}
