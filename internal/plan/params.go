package plan

import (
	"fmt"
	"math/bits"
)

// BasisPoints is the denominator of FeeRateBps.
const BasisPoints = 10000

// Params are the deployment constants. They never change while the service runs.
type Params struct {
	MinAmount     uint64
	MinFrequency  uint64
	FeeRateBps    uint64
	ContractOwner string
	SourceAsset   string
	TargetAsset   string
}

// Validate checks that the parameters are usable.
func (p Params) Validate() error {
	if p.FeeRateBps >= BasisPoints {
		return fmt.Errorf("fee rate %d bps must be below %d", p.FeeRateBps, BasisPoints)
	}
	if p.ContractOwner == "" {
		return fmt.Errorf("contract owner is required")
	}
	if p.SourceAsset == "" || p.TargetAsset == "" {
		return fmt.Errorf("source and target assets are required")
	}
	return nil
}

// Fee splits a gross purchase amount into the retained fee and the net amount swapped.
// fee = floor(amount * FeeRateBps / 10000), computed without intermediate overflow.
func (p Params) Fee(amount uint64) (fee, net uint64) {
	hi, lo := bits.Mul64(amount, p.FeeRateBps)
	fee, _ = bits.Div64(hi, lo, BasisPoints)
	return fee, amount - fee
}

func satAdd(a, b uint64) uint64 {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return ^uint64(0)
	}
	return sum
}
