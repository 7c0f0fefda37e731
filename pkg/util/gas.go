package util

import (
	"fmt"
	"math/big"

	"github.com/eigenlabs/eigenkeeper/pkg/types"
)

// ExtractGasCost computes gasUsed * effectiveGasPrice from a receipt's
// hex-encoded fields, returning the cost in wei.
func ExtractGasCost(receipt *types.TxReceipt) (*big.Int, error) {
	if receipt == nil {
		return nil, fmt.Errorf("nil receipt")
	}

	gasUsed, ok := new(big.Int).SetString(receipt.GasUsed, 0)
	if !ok {
		return nil, fmt.Errorf("malformed gasUsed %q", receipt.GasUsed)
	}

	gasPrice, ok := new(big.Int).SetString(receipt.EffectiveGasPrice, 0)
	if !ok {
		return nil, fmt.Errorf("malformed effectiveGasPrice %q", receipt.EffectiveGasPrice)
	}

	return new(big.Int).Mul(gasUsed, gasPrice), nil
}

// ReceiptSucceeded reports whether a receipt's status is "0x1".
func ReceiptSucceeded(receipt *types.TxReceipt) bool {
	return receipt != nil && receipt.Status == "0x1"
}
