package matrix

import (
	"context"
	"fmt"

	"matrixpay/internal/model"
)

// PlacementEngine 矩阵安置引擎
// 在指定节点的子树内广度优先查找第一个未满员（子节点 < 2）的节点。
// 只读遍历，不做任何写入；找到的节点由调用方在同一事务内落库。
type PlacementEngine struct {
	dir      Directory
	maxNodes int // 遍历节点上限，防止病态树拖死请求
}

func NewPlacementEngine(dir Directory, maxNodes int) *PlacementEngine {
	if maxNodes <= 0 {
		maxNodes = 10000
	}
	return &PlacementEngine{dir: dir, maxNodes: maxNodes}
}

// FindOpenSlot 从 root 开始按层序查找空位
//
// 显式 FIFO 队列而非递归：矩阵可能很深很宽，栈深必须有界。
// 子节点按安置顺序入队，保证同层从左到右填满。
func (e *PlacementEngine) FindOpenSlot(ctx context.Context, root *model.Member) (*model.Member, error) {
	queue := []*model.Member{root}
	visited := 0

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		node := queue[0]
		queue = queue[1:]

		visited++
		if visited > e.maxNodes {
			return nil, fmt.Errorf("遍历 %d 个节点仍未找到空位: %w", e.maxNodes, ErrNoOpenSlot)
		}

		children, err := e.dir.MatrixChildren(ctx, node.ReferralCode)
		if err != nil {
			return nil, fmt.Errorf("查询子节点失败: %w", err)
		}

		if len(children) < model.MatrixCapacity {
			return node, nil
		}

		queue = append(queue, children...)
	}

	// 队列耗尽（理论上不可达：满员节点总会把子节点入队）
	return nil, ErrNoOpenSlot
}
