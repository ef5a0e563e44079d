// 文件: pkg/nats/conn.go
// NATS 连接 - 自动重连，断线/重连打日志

package nats

import (
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// HeaderMsgID 消息唯一 ID 头 (JetStream 去重同名)
const HeaderMsgID = nats.MsgIdHdr

func connect(url, name string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[NATS] %s disconnected: %v", name, err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Printf("[NATS] %s reconnected: %s", name, c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return conn, nil
}
