package cpu

import (
	"fmt"

	"github.com/born-ml/tsexport/internal/parallel"
	"github.com/born-ml/tsexport/internal/tensor"
)

// MatMul performs batched matrix multiplication over the last two axes.
//
// Leading axes broadcast, which covers the common [B, ..., M, K] @ [K, N]
// projection as well as [B, M, K] @ [B, K, N].
func (cpu *CPUBackend) MatMul(a, b *tensor.RawTensor) *tensor.RawTensor {
	as, bs := a.Shape(), b.Shape()
	if len(as) < 2 || len(bs) < 2 {
		panic(fmt.Sprintf("matmul: operands must have rank >= 2, got %v and %v", as, bs))
	}

	m, k := as[len(as)-2], as[len(as)-1]
	k2, n := bs[len(bs)-2], bs[len(bs)-1]
	if k != k2 {
		panic(fmt.Sprintf("matmul: inner dimensions differ: %v @ %v", as, bs))
	}

	aBatch, bBatch := as[:len(as)-2], bs[:len(bs)-2]
	batch, _, err := tensor.BroadcastShapes(aBatch, bBatch)
	if err != nil {
		panic(fmt.Sprintf("matmul: batch %v", err))
	}

	outShape := append(batch.Clone(), m, n)
	result := tensor.MustRaw(outShape)

	batchCount := batch.NumElements()
	batchStrides := batch.ComputeStrides()
	aStrides := broadcastStrides(aBatch, batch)
	bStrides := broadcastStrides(bBatch, batch)

	// Each batch entry owns a disjoint slice of dst, so the split is race free
	// and the summation order inside a block never changes.
	ad, bd, dst := a.Float32(), b.Float32(), result.Float32()
	parallel.For(batchCount, func(p int) {
		aOff, bOff := 0, 0
		if len(batch) > 0 {
			aOff = sourceIndex(p, batchStrides, aStrides) * m * k
			bOff = sourceIndex(p, batchStrides, bStrides) * k * n
		}
		matmulBlock(dst[p*m*n:(p+1)*m*n], ad[aOff:aOff+m*k], bd[bOff:bOff+k*n], m, k, n)
	}, cpu.par.WithGrain(matmulGrain, m*k*n))

	return result
}

// matmulBlock computes one [M, K] @ [K, N] product using the i-k-j loop
// order for cache friendly access to b.
func matmulBlock(dst, a, b []float32, m, k, n int) {
	for i := 0; i < m; i++ {
		row := dst[i*n : (i+1)*n]
		for kk := 0; kk < k; kk++ {
			av := a[i*k+kk]
			bRow := b[kk*n : (kk+1)*n]
			for j := range row {
				row[j] += av * bRow[j]
			}
		}
	}
}
