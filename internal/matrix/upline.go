package matrix

import (
	"context"
	"fmt"

	"matrixpay/internal/model"
)

// UplineResolver 上线解析器
// 沿矩阵父节点（referred_by）逐层上行，第 N 级升级的收款人就是
// 安置树中第 N 层的祖先。
type UplineResolver struct {
	dir Directory
}

func NewUplineResolver(dir Directory) *UplineResolver {
	return &UplineResolver{dir: dir}
}

// FindUplineAtHops 返回 start 往上第 hops 层的祖先
//
// 迭代实现 + 已访问集合：脏数据把推荐链连成环时必须能终止，
// 返回 ErrCyclicChain 而不是无限循环。链在 hops 步内断掉
// （referred_by 为空或指向不存在的会员）返回 ErrBrokenChain，
// 由调用方兜底到公司账户。
func (r *UplineResolver) FindUplineAtHops(ctx context.Context, start *model.Member, hops int) (*model.Member, error) {
	if hops < 1 {
		return nil, fmt.Errorf("hops 必须大于 0")
	}

	visited := map[string]struct{}{start.ReferralCode: {}}
	current := start

	for i := 0; i < hops; i++ {
		if current.ReferredBy == "" {
			return nil, ErrBrokenChain
		}

		parent, err := r.dir.MemberByReferralCode(ctx, current.ReferredBy)
		if err != nil {
			return nil, fmt.Errorf("%w: 上行第 %d 层推荐码 %s 无法解析", ErrBrokenChain, i+1, current.ReferredBy)
		}

		if _, ok := visited[parent.ReferralCode]; ok {
			return nil, ErrCyclicChain
		}
		visited[parent.ReferralCode] = struct{}{}

		current = parent
	}

	return current, nil
}
