package table

import (
	"github.com/Blackdeer1524/graphcore/src/pkg/assert"
	"github.com/Blackdeer1524/graphcore/src/pkg/common"
)

// csrDirection is the adjacency of one rel direction. The neighbours of bound
// node n occupy nbrs[offsets[n] : offsets[n]+lengths[n]]; the slots up to the
// next node's offset are free capacity.
type csrDirection struct {
	offsets []uint64
	lengths []uint64

	nbrs   []common.Offset
	relIDs []common.Offset
	// props[i][pos] is property i of the rel stored at pos
	props [][]any
}

func newCSRDirection(numProps int) *csrDirection {
	return &csrDirection{props: make([][]any, numProps)}
}

func (c *csrDirection) numBound() uint64 {
	return uint64(len(c.offsets))
}

func (c *csrDirection) capacity(n uint64) uint64 {
	end := uint64(len(c.nbrs))
	if n+1 < c.numBound() {
		end = c.offsets[n+1]
	}
	return end - c.offsets[n]
}

// region returns the occupied slots of n. Unknown nodes have no rels.
func (c *csrDirection) region(n common.Offset) (uint64, uint64) {
	if uint64(n) >= c.numBound() {
		return 0, 0
	}
	start := c.offsets[n]
	return start, start + c.lengths[n]
}

func (c *csrDirection) degree(n common.Offset) uint64 {
	start, end := c.region(n)
	return end - start
}

func (c *csrDirection) ensureBound(n common.Offset) {
	for uint64(len(c.offsets)) <= uint64(n) {
		c.offsets = append(c.offsets, uint64(len(c.nbrs)))
		c.lengths = append(c.lengths, 0)
	}
}

func (c *csrDirection) appendSlot() {
	c.nbrs = append(c.nbrs, 0)
	c.relIDs = append(c.relIDs, 0)
	for i := range c.props {
		c.props[i] = append(c.props[i], nil)
	}
}

// regrow rebuilds the arrays doubling the capacity of node grow.
func (c *csrDirection) regrow(grow common.Offset) {
	total := uint64(0)
	caps := make([]uint64, c.numBound())
	for n := range caps {
		caps[n] = c.capacity(uint64(n))
		if n == int(grow) {
			caps[n] = max(2*caps[n], 2)
		}
		total += caps[n]
	}

	nbrs := make([]common.Offset, total)
	relIDs := make([]common.Offset, total)
	props := make([][]any, len(c.props))
	for i := range props {
		props[i] = make([]any, total)
	}

	cursor := uint64(0)
	for n := range caps {
		start, end := c.offsets[n], c.offsets[n]+c.lengths[n]
		copy(nbrs[cursor:], c.nbrs[start:end])
		copy(relIDs[cursor:], c.relIDs[start:end])
		for i := range props {
			copy(props[i][cursor:], c.props[i][start:end])
		}
		c.offsets[n] = cursor
		cursor += caps[n]
	}

	c.nbrs = nbrs
	c.relIDs = relIDs
	c.props = props
}

func (c *csrDirection) insert(bound, nbr, relID common.Offset, props []any) {
	assert.Assert(len(props) == len(c.props), "expected %d properties, got %d", len(c.props), len(props))

	c.ensureBound(bound)
	if c.lengths[bound] == c.capacity(uint64(bound)) {
		if uint64(bound)+1 == c.numBound() {
			c.appendSlot()
		} else {
			c.regrow(bound)
		}
	}

	pos := c.offsets[bound] + c.lengths[bound]
	c.nbrs[pos] = nbr
	c.relIDs[pos] = relID
	for i, v := range props {
		c.props[i][pos] = v
	}
	c.lengths[bound]++
}

func (c *csrDirection) find(bound, relID common.Offset) (uint64, bool) {
	start, end := c.region(bound)
	for pos := start; pos < end; pos++ {
		if c.relIDs[pos] == relID {
			return pos, true
		}
	}
	return 0, false
}

// remove moves the last rel of bound's region into pos.
func (c *csrDirection) remove(bound common.Offset, pos uint64) {
	_, end := c.region(bound)
	assert.Assert(pos < end, "position %d is outside the region of node %d", pos, bound)

	last := end - 1
	c.nbrs[pos] = c.nbrs[last]
	c.relIDs[pos] = c.relIDs[last]
	for i := range c.props {
		c.props[i][pos] = c.props[i][last]
		c.props[i][last] = nil
	}
	c.lengths[bound]--
}

func (c *csrDirection) rowProps(pos uint64) []any {
	out := make([]any, len(c.props))
	for i := range c.props {
		out[i] = c.props[i][pos]
	}
	return out
}
