package matrix

import (
	"context"
	"fmt"
	"testing"

	"matrixpay/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memDirectory 内存版会员目录，children 按安置顺序排列
type memDirectory struct {
	members  map[string]*model.Member
	children map[string][]string
}

func newMemDirectory() *memDirectory {
	return &memDirectory{
		members:  make(map[string]*model.Member),
		children: make(map[string][]string),
	}
}

func (d *memDirectory) add(code, parent string) *model.Member {
	m := &model.Member{ReferralCode: code, ReferredBy: parent, CurrentLevel: 1}
	d.members[code] = m
	if parent != "" {
		d.children[parent] = append(d.children[parent], code)
	}
	return m
}

func (d *memDirectory) MemberByReferralCode(ctx context.Context, code string) (*model.Member, error) {
	m, ok := d.members[code]
	if !ok {
		return nil, fmt.Errorf("推荐码 %s 不存在", code)
	}
	return m, nil
}

func (d *memDirectory) MatrixChildren(ctx context.Context, code string) ([]*model.Member, error) {
	out := make([]*model.Member, 0, len(d.children[code]))
	for _, c := range d.children[code] {
		out = append(out, d.members[c])
	}
	return out, nil
}

func TestFindOpenSlotRootHasRoom(t *testing.T) {
	dir := newMemDirectory()
	root := dir.add("ROOT", "")
	dir.add("A", "ROOT")

	engine := NewPlacementEngine(dir, 100)
	slot, err := engine.FindOpenSlot(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, "ROOT", slot.ReferralCode) // 只有1个子节点，还有空位
}

// 层序：根满员后先找最左子节点的空位
func TestFindOpenSlotBreadthFirst(t *testing.T) {
	dir := newMemDirectory()
	root := dir.add("ROOT", "")
	dir.add("A", "ROOT")
	dir.add("B", "ROOT")
	dir.add("A1", "A")
	dir.add("A2", "A")

	engine := NewPlacementEngine(dir, 100)
	slot, err := engine.FindOpenSlot(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, "B", slot.ReferralCode) // A 已满，同层的 B 优先于 A 的子节点
}

func TestFindOpenSlotNodeLimit(t *testing.T) {
	dir := newMemDirectory()
	root := dir.add("ROOT", "")
	// 3层满二叉树，共15个节点，空位在第4层
	level := []string{"ROOT"}
	for depth := 0; depth < 3; depth++ {
		var next []string
		for _, p := range level {
			for i := 0; i < 2; i++ {
				code := fmt.Sprintf("%s%d", p, i)
				dir.add(code, p)
				next = append(next, code)
			}
		}
		level = next
	}

	// 上限低于树规模时必须报错而不是死循环
	engine := NewPlacementEngine(dir, 5)
	_, err := engine.FindOpenSlot(context.Background(), root)
	require.ErrorIs(t, err, ErrNoOpenSlot)

	// 上限足够时正常找到最左的叶子空位
	engine = NewPlacementEngine(dir, 100)
	slot, err := engine.FindOpenSlot(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, "ROOT000", slot.ReferralCode)
}

func TestFindUplineAtHops(t *testing.T) {
	dir := newMemDirectory()
	dir.add("ROOT", "")
	dir.add("A", "ROOT")
	dir.add("B", "A")
	leaf := dir.add("C", "B")

	resolver := NewUplineResolver(dir)

	up1, err := resolver.FindUplineAtHops(context.Background(), leaf, 1)
	require.NoError(t, err)
	assert.Equal(t, "B", up1.ReferralCode)

	up3, err := resolver.FindUplineAtHops(context.Background(), leaf, 3)
	require.NoError(t, err)
	assert.Equal(t, "ROOT", up3.ReferralCode)
}

// 链在 hops 步内到顶：断链错误，由调用方兜底公司账户
func TestFindUplineBrokenChain(t *testing.T) {
	dir := newMemDirectory()
	dir.add("ROOT", "")
	leaf := dir.add("A", "ROOT")

	resolver := NewUplineResolver(dir)
	_, err := resolver.FindUplineAtHops(context.Background(), leaf, 3)
	require.ErrorIs(t, err, ErrBrokenChain)
}

// 父节点指向不存在的推荐码
func TestFindUplineDanglingParent(t *testing.T) {
	dir := newMemDirectory()
	leaf := dir.add("A", "GHOST")

	resolver := NewUplineResolver(dir)
	_, err := resolver.FindUplineAtHops(context.Background(), leaf, 1)
	require.ErrorIs(t, err, ErrBrokenChain)
}

// 脏数据把链连成环时必须终止
func TestFindUplineCyclicChain(t *testing.T) {
	dir := newMemDirectory()
	a := dir.add("A", "B")
	dir.add("B", "A")

	resolver := NewUplineResolver(dir)
	_, err := resolver.FindUplineAtHops(context.Background(), a, 5)
	require.ErrorIs(t, err, ErrCyclicChain)
}

func TestFindUplineInvalidHops(t *testing.T) {
	dir := newMemDirectory()
	leaf := dir.add("A", "")

	resolver := NewUplineResolver(dir)
	_, err := resolver.FindUplineAtHops(context.Background(), leaf, 0)
	require.Error(t, err)
}
