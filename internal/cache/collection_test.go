package cache

import (
	"testing"

	"github.com/haierkeys/fast-board-sync/internal/domain"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollection_MutateIsCopyOnWrite(t *testing.T) {
	c := NewCollection[string]()
	c.Replace(map[string]string{"a": "1"})

	before := c.Snapshot()
	c.Put("b", "2")

	assert.Len(t, before, 1)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, c.Snapshot())
	assert.True(t, c.Delete("a"))
	assert.False(t, c.Delete("a"))
	assert.Equal(t, []string{"2"}, c.Values())
}

func TestCollection_ReplaceDropsLocalOnlyEntries(t *testing.T) {
	c := NewCollection[string]()
	c.Put("optimistic", "x")
	c.Replace(map[string]string{"r1": "remote"})

	_, ok := c.Get("optimistic")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())
}

func TestCollection_SubscribeSeesEveryPublish(t *testing.T) {
	c := NewCollection[int]()
	var lens []int
	unsub := c.Subscribe(func(m map[string]int) { lens = append(lens, len(m)) })

	c.Put("a", 1)
	c.Put("b", 2)
	c.Filter(func(id string, v int) bool { return v > 1 })
	unsub()
	c.Clear()

	assert.Equal(t, []int{1, 2, 1}, lens)
}

// op is either a remote snapshot or an optimistic local write
type op struct {
	Snapshot bool
	IDs      []string
	Value    int
}

var docIDs = []string{"a", "b", "c", "d", "e", "x"}

func genID(n int) gopter.Gen {
	return gen.IntRange(0, n-1).Map(func(i int) string { return docIDs[i] })
}

func genOp() gopter.Gen {
	return gopter.CombineGens(
		gen.Bool(),
		gen.SliceOfN(4, genID(5)),
		gen.IntRange(0, 100),
	).Map(func(v []any) op {
		return op{Snapshot: v[0].(bool), IDs: v[1].([]string), Value: v[2].(int)}
	})
}

func TestCollection_ConvergesToLastSnapshot(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("collection equals last snapshot after any interleaving", prop.ForAll(
		func(ops []op, final map[string]int) bool {
			c := NewCollection[int]()
			for _, o := range ops {
				if o.Snapshot {
					m := make(map[string]int)
					for _, id := range o.IDs {
						m[id] = o.Value
					}
					c.Replace(m)
					continue
				}
				for _, id := range o.IDs {
					c.Put(id, o.Value)
				}
			}
			c.Replace(final)

			got := c.Snapshot()
			if len(got) != len(final) {
				return false
			}
			for k, v := range final {
				if got[k] != v {
					return false
				}
			}
			return true
		},
		gen.SliceOf(genOp()),
		gen.MapOf(genID(len(docIDs)), gen.IntRange(0, 100)),
	))

	properties.TestingRun(t)
}

func TestCache_ResetAndLinkLookup(t *testing.T) {
	c := New()
	c.Board.Set(&domain.BoardMetadata{ID: "b1"})
	c.Cards.Put("c1", domain.Card{ID: "c1"})
	c.Links.Put("l1", domain.NewDefaultLink("l1", "b1", "c1", "c2"))
	c.Boards.Put("b1", domain.BoardMetadata{ID: "b1"})

	require.Equal(t, "b1", c.ActiveBoardID())
	l, ok := c.FindLink("c2", "c1")
	require.True(t, ok)
	assert.Equal(t, "l1", l.ID)
	assert.Len(t, c.LinksTouching("c2"), 1)
	assert.Empty(t, c.LinksTouching("c9"))

	c.ClearBoard()
	assert.Equal(t, "", c.ActiveBoardID())
	assert.Equal(t, 0, c.Cards.Len())
	assert.Equal(t, 1, c.Boards.Len())

	c.Reset()
	assert.Equal(t, 0, c.Boards.Len())
}
