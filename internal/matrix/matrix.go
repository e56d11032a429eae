package matrix

import (
	"context"
	"errors"

	"matrixpay/internal/model"
)

var (
	ErrNoOpenSlot  = errors.New("矩阵无可用空位")
	ErrBrokenChain = errors.New("推荐链断裂")
	ErrCyclicChain = errors.New("推荐链存在环")
)

// Directory 矩阵遍历所需的会员目录视图
// 安置与寻线只做只读遍历；生产实现由 repository 绑定到当前事务，
// 测试用内存实现。
type Directory interface {
	// MemberByReferralCode 按推荐码解析会员，找不到时返回错误
	MemberByReferralCode(ctx context.Context, code string) (*model.Member, error)
	// MatrixChildren 返回某节点的矩阵子节点（按安置顺序）
	MatrixChildren(ctx context.Context, code string) ([]*model.Member, error)
}
