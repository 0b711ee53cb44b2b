package model

// StreamerMessage is one block as produced by the NEAR indexer framework and
// NEAR Lake. Only the fields the pipeline reads are modelled.
type StreamerMessage struct {
	Block  BlockView      `json:"block"`
	Shards []IndexerShard `json:"shards"`
}

type BlockView struct {
	Author string      `json:"author"`
	Header BlockHeader `json:"header"`
	Chunks []ChunkRef  `json:"chunks"`
}

type BlockHeader struct {
	Height    uint64 `json:"height"`
	Hash      string `json:"hash"`
	PrevHash  string `json:"prev_hash"`
	Timestamp uint64 `json:"timestamp"`
}

// ChunkRef is the chunk header summary listed in block.json.
type ChunkRef struct {
	ChunkHash string `json:"chunk_hash"`
	ShardID   uint64 `json:"shard_id"`
}

type IndexerShard struct {
	ShardID                  uint64                        `json:"shard_id"`
	ReceiptExecutionOutcomes []ExecutionOutcomeWithReceipt `json:"receipt_execution_outcomes"`
}

type ExecutionOutcomeWithReceipt struct {
	ExecutionOutcome ExecutionOutcomeWithID `json:"execution_outcome"`
	Receipt          ReceiptView            `json:"receipt"`
}

type ExecutionOutcomeWithID struct {
	ID        string           `json:"id"`
	BlockHash string           `json:"block_hash"`
	Outcome   ExecutionOutcome `json:"outcome"`
}

type ExecutionOutcome struct {
	Logs       []string `json:"logs"`
	ReceiptIDs []string `json:"receipt_ids"`
	ExecutorID string   `json:"executor_id"`
}

type ReceiptView struct {
	PredecessorID string `json:"predecessor_id"`
	ReceiverID    string `json:"receiver_id"`
	ReceiptID     string `json:"receipt_id"`
}
