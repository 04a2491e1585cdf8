package binutil

import "fmt"

// ErrIntegerOverflow is returned by SafeMultiply32 when the product of its
// operands cannot be represented as a nonnegative int32.
type ErrIntegerOverflow struct {
	Operands []int64
}

func (e ErrIntegerOverflow) Error() string {
	return fmt.Sprintf("binutil: integer overflow multiplying %v", e.Operands)
}

// SafeMultiply32 returns the product of vs with overflow checking: it fails
// if the mathematical product exceeds 2^31-1. Used everywhere an offset is
// computed into a single contiguous byte array (plane sizes, strip spans).
func SafeMultiply32(vs []int64) (int32, error) {
	const max32 = int64(1)<<31 - 1
	product := int64(1)
	for _, v := range vs {
		if v == 0 {
			return 0, nil
		}
		if product > max32/v {
			return 0, ErrIntegerOverflow{Operands: vs}
		}
		product *= v
	}
	if product > max32 {
		return 0, ErrIntegerOverflow{Operands: vs}
	}
	return int32(product), nil
}
