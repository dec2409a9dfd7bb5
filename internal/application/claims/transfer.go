package claims

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"sort"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// TransferRequest moves Amount minor units to Address on the external token network.
// IdempotencyKey is the claim id; executors must not move funds twice for one key.
type TransferRequest struct {
	Address        string
	Amount         int64
	Memo           string
	IdempotencyKey string
}

// TransferResult carries the executor's reference for a settled transfer.
type TransferResult struct {
	Reference string
}

// ErrTransferDeclined is returned (wrapped) by executors when the transfer definitively did not
// happen. Any other error, including a deadline, means the outcome is unknown.
var ErrTransferDeclined = errors.New("transfer declined")

// TransferExecutor performs value transfers on the external ledger.
type TransferExecutor interface {
	Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
}

// TransferExecutorFunc adapts a function to TransferExecutor.
type TransferExecutorFunc func(ctx context.Context, req TransferRequest) (*TransferResult, error)

func (f TransferExecutorFunc) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	return f(ctx, req)
}

// fingerprint identifies a payout instruction so a resubmission of the same one is recognized
// while the first is still active.
func fingerprint(beneficiaryID, kind string, recordIDs []uuid.UUID, amount int64) string {
	ids := make([]string, len(recordIDs))
	for i, id := range recordIDs {
		ids[i] = id.String()
	}
	sort.Strings(ids)

	h, _ := blake2b.New256(nil)
	h.Write([]byte(beneficiaryID))
	h.Write([]byte{0})
	h.Write([]byte(kind))
	h.Write([]byte{0})
	for _, id := range ids {
		h.Write([]byte(id))
		h.Write([]byte{0})
	}
	if len(ids) == 0 {
		h.Write(binary.BigEndian.AppendUint64(nil, uint64(amount)))
	}
	return hex.EncodeToString(h.Sum(nil))
}
