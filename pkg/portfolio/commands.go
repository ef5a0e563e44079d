// 文件: pkg/portfolio/commands.go
// 控制消息处理

package portfolio

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"quant.com/pkg/notify"
	"quant.com/pkg/quant"
)

var errUnknownMessage = errors.New("unknown message type")

// processMessages 取完队列中的消息逐条处理，单条失败不影响主循环
func (p *Portfolio) processMessages() {
	for _, m := range p.messages.Drain() {
		p.handled.Add(1)
		err := p.handleMessage(m)
		switch {
		case err == nil:
		case errors.Is(err, errUnknownMessage):
			p.deadLetters.Add(1)
			log.Printf("[Portfolio] dead letter: id=%s type=%s", m.ID, m.Type)
			p.publish(notify.EventDeadLetter, m.FundID, notify.DeadLetterPayload{
				MessageID: m.ID,
				Type:      string(m.Type),
				Body:      m.Body,
				Reason:    err.Error(),
			})
		default:
			log.Printf("[Portfolio] message failed: id=%s type=%s err=%v", m.ID, m.Type, err)
			p.publish(notify.EventMessageFailed, m.FundID, notify.TextPayload{
				Message: fmt.Sprintf("message %s (%s) failed: %v", m.ID, m.Type, err),
			})
		}
	}
}

func (p *Portfolio) handleMessage(m *Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic handling message: %v", r)
		}
	}()

	switch m.Type {
	case MsgAddFund:
		var body AddFundBody
		if err := json.Unmarshal(m.Body, &body); err != nil {
			return fmt.Errorf("decode add_fund body: %w", err)
		}
		_, err := p.AddFundByName(m.FundID, body.Strategy, body.BackfillUntil)
		return err

	case MsgStartFund, MsgStopFund, MsgTerminateFund, MsgLiquidateFund:
		f, ok := p.Fund(m.FundID)
		if !ok {
			return fmt.Errorf("%w: %s", ErrFundNotFound, m.FundID)
		}
		if err := fundCommand(f, m.Type); err != nil {
			return err
		}
		p.publishFundInfo(f)
		return nil

	case MsgTerminatePortfolio:
		return p.RequestTerminate("terminate message " + m.ID)

	default:
		return fmt.Errorf("%w: %q", errUnknownMessage, m.Type)
	}
}

func fundCommand(f *quant.Fund, typ MessageType) error {
	switch typ {
	case MsgStartFund:
		return f.Start()
	case MsgStopFund:
		return f.Stop()
	case MsgTerminateFund:
		f.Terminate()
		return nil
	case MsgLiquidateFund:
		_, err := f.Liquidate()
		return err
	}
	return fmt.Errorf("%w: %q", errUnknownMessage, typ)
}
