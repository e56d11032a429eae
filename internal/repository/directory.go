package repository

import (
	"context"

	"matrixpay/internal/matrix"
	"matrixpay/internal/model"

	"gorm.io/gorm"
)

// txDirectory 把会员仓库绑定到某个事务，实现矩阵遍历用的目录视图。
// 安置查找与寻线都发生在升级事务内部，遍历读必须走同一个事务连接。
type txDirectory struct {
	repo *MemberRepository
	tx   *gorm.DB
}

// Directory 返回绑定到 tx 的目录视图；tx 为 nil 时读主连接
func (r *MemberRepository) Directory(tx *gorm.DB) matrix.Directory {
	return &txDirectory{repo: r, tx: tx}
}

func (d *txDirectory) MemberByReferralCode(ctx context.Context, code string) (*model.Member, error) {
	return d.repo.GetByReferralCode(ctx, d.tx, code)
}

func (d *txDirectory) MatrixChildren(ctx context.Context, code string) ([]*model.Member, error) {
	return d.repo.GetMatrixChildren(ctx, d.tx, code)
}
