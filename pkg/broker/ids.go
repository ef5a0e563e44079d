// 文件: pkg/broker/ids.go
// 券商订单号生成器
// 使用开源库: github.com/bwmarrin/snowflake

package broker

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// IDGenerator 雪花算法 ID
type IDGenerator struct {
	node *snowflake.Node
}

// NewIDGenerator nodeID: 节点ID (0-1023)
func NewIDGenerator(nodeID int64) (*IDGenerator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", nodeID, err)
	}
	return &IDGenerator{node: node}, nil
}

// Next 生成券商订单号 (base58 字符串)
func (g *IDGenerator) Next() string {
	return g.node.Generate().Base58()
}
