package processor

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/spaolacci/murmur3"

	"github.com/Blackdeer1524/graphcore/src/pkg/common"
)

// UnwindDedup drops rows whose key was already produced, so an UNWIND over a
// list with repeated values yields every value once. The companion vectors
// are compacted together with the key.
type UnwindDedup struct {
	child      Operator
	key        *common.Vector
	companions []*common.Vector

	seen map[uint64][]any
	buf  []byte
}

var _ Operator = &UnwindDedup{}

func NewUnwindDedup(child Operator, key *common.Vector, companions ...*common.Vector) *UnwindDedup {
	return &UnwindDedup{
		child:      child,
		key:        key,
		companions: companions,
	}
}

func (op *UnwindDedup) Init(ctx *ExecutionContext) error {
	op.seen = make(map[uint64][]any)
	return op.child.Init(ctx)
}

func (op *UnwindDedup) hash(v any) uint64 {
	b := op.buf[:0]
	switch x := v.(type) {
	case nil:
		b = append(b, 0)
	case bool:
		b = append(b, 1)
		if x {
			b = append(b, 1)
		} else {
			b = append(b, 0)
		}
	case int32:
		b = binary.LittleEndian.AppendUint32(append(b, 2), uint32(x))
	case int64:
		b = binary.LittleEndian.AppendUint64(append(b, 3), uint64(x))
	case float64:
		b = binary.LittleEndian.AppendUint64(append(b, 4), math.Float64bits(x))
	case string:
		b = append(append(b, 5), x...)
	case common.InternalID:
		b = binary.LittleEndian.AppendUint64(append(b, 6), uint64(x.TableID))
		b = binary.LittleEndian.AppendUint64(b, uint64(x.Offset))
	default:
		b = fmt.Appendf(append(b, 7), "%T:%v", x, x)
	}
	op.buf = b
	return murmur3.Sum64(b)
}

// firstSeen records v and reports whether it was new.
func (op *UnwindDedup) firstSeen(v any) bool {
	h := op.hash(v)
	for _, prev := range op.seen[h] {
		if prev == v {
			return false
		}
	}
	op.seen[h] = append(op.seen[h], v)
	return true
}

func compact(v *common.Vector, keep []int) {
	values := v.Values()
	v.Reset()
	for _, pos := range keep {
		v.Append(values[pos])
	}
}

func (op *UnwindDedup) Next(ctx *ExecutionContext) (bool, error) {
	for {
		more, err := op.child.Next(ctx)
		if err != nil || !more {
			return false, err
		}
		if op.key.Len() == 0 {
			continue
		}

		keep := make([]int, 0, op.key.Len())
		for i := range op.key.Len() {
			if op.firstSeen(op.key.Value(i)) {
				keep = append(keep, i)
			}
		}
		if len(keep) == 0 {
			continue
		}

		if len(keep) < op.key.Len() {
			compact(op.key, keep)
			for _, v := range op.companions {
				compact(v, keep)
			}
		}
		ctx.Metrics.addOutput(opUnwindDedup, len(keep))
		return true, nil
	}
}
