// Package rpcapi defines the wire messages and service descriptors for the
// dispatcher's own gRPC surfaces: the public proving service, the
// worker-facing client, and the loopback control plane.
//
// No protoc toolchain is invoked to build this repository, so these
// messages are plain Go structs carried over a registered JSON codec
// (see codec.go) rather than protoc-generated types. The only service that
// uses real protobuf wire encoding is grpc.health.v1.Health, which ships
// pre-built inside google.golang.org/grpc/health/grpc_health_v1.
package rpcapi

// ProofKind is the class of work a worker or the dispatcher handles.
type ProofKind string

const (
	KindTransaction ProofKind = "Transaction"
	KindBatch       ProofKind = "Batch"
	KindBlock       ProofKind = "Block"
)

// Valid reports whether k is one of the three recognized proof kinds.
func (k ProofKind) Valid() bool {
	switch k {
	case KindTransaction, KindBatch, KindBlock:
		return true
	}
	return false
}

// TxWitness is the opaque input to a transaction proof request. The
// dispatcher never interprets Payload; it forwards it verbatim to a worker.
type TxWitness struct {
	Payload []byte `json:"payload"`
}

// TxProof is the opaque output of a transaction proof request.
type TxProof struct {
	Payload []byte `json:"payload"`
}

// ProposedBatch is the opaque input to a batch proof request.
type ProposedBatch struct {
	Payload []byte `json:"payload"`
}

// BatchProof is the opaque output of a batch proof request.
type BatchProof struct {
	Payload []byte `json:"payload"`
}

// ProposedBlock is the opaque input to a block proof request.
type ProposedBlock struct {
	Payload []byte `json:"payload"`
}

// BlockProof is the opaque output of a block proof request.
type BlockProof struct {
	Payload []byte `json:"payload"`
}

// StatusRequest is sent by the Health Monitor to a worker's status RPC.
type StatusRequest struct{}

// StatusResponse is a worker's self-reported readiness, kind, and version.
type StatusResponse struct {
	Ready      bool      `json:"ready"`
	ProverKind ProofKind `json:"prover_kind"`
	Version    string    `json:"version"`
}

// AddWorkersRequest names workers to admit into the pool.
type AddWorkersRequest struct {
	Addresses []string `json:"addresses"`
}

// RemoveWorkersRequest names workers to evict from the pool.
type RemoveWorkersRequest struct {
	Addresses []string `json:"addresses"`
}

// Empty is the response to control-plane mutations; it carries nothing.
type Empty struct{}
