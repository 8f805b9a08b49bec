package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Key schema:
//
//	fill:<order key hex>          → cumulative fill, big-endian bytes
//	rec:<8-byte seq>              → settlement event (gob)
//	ordrec:<order key hex>:<seq>  → index entry, empty value
//	meta:recseq                   → last record sequence
const (
	prefixFill        = "fill:"
	prefixRecord      = "rec:"
	prefixOrderRecord = "ordrec:"
	keyRecordSeq      = "meta:recseq"
)

// fillKey returns the key for an order's fill
// Format: "fill:{orderKey}"
func fillKey(orderKey common.Hash) []byte {
	return []byte(prefixFill + orderKey.Hex())
}

func recordKey(seq uint64) []byte {
	return append([]byte(prefixRecord), seqKey(seq)...)
}

// orderRecordKey indexes a record under one of its order keys
// Format: "ordrec:{orderKey}:{seq}"
func orderRecordKey(orderKey common.Hash, seq uint64) []byte {
	return append(orderRecordPrefix(orderKey), seqKey(seq)...)
}

func orderRecordPrefix(orderKey common.Hash) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixOrderRecord, orderKey.Hex()))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
