package kafka

import (
	"errors"
	"sync"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockProducer(t *testing.T, cfg ProducerConfig) (*Producer, *mocks.AsyncProducer) {
	sc := cfg.saramaConfig()
	mock := mocks.NewAsyncProducer(t, sc)
	return newProducer(cfg, mock), mock
}

func TestProducer_SendJSON(t *testing.T) {
	p, mock := newMockProducer(t, DefaultProducerConfig(nil))
	mock.ExpectInputWithMessageCheckerFunctionAndSucceed(func(m *sarama.ProducerMessage) error {
		if m.Topic != "portfolio_cash_journal" {
			return errors.New("wrong topic")
		}
		key, _ := m.Key.Encode()
		if string(key) != "pf:f1" {
			return errors.New("wrong key")
		}
		return nil
	})

	require.NoError(t, p.SendJSON("portfolio_cash_journal", "pf:f1", map[string]int{"seq": 1}))
	require.NoError(t, p.Close())
	assert.Equal(t, int64(1), p.Stats().SentCount)
}

func TestProducer_OnError(t *testing.T) {
	var (
		mu     sync.Mutex
		failed []string
	)
	cfg := DefaultProducerConfig(nil)
	cfg.OnError = func(topic string, err error) {
		mu.Lock()
		failed = append(failed, topic)
		mu.Unlock()
	}

	p, mock := newMockProducer(t, cfg)
	mock.ExpectInputAndFail(sarama.ErrOutOfBrokers)

	require.NoError(t, p.SendRaw("portfolio.events", "", []byte("x")))
	require.NoError(t, p.Close())

	assert.Equal(t, int64(1), p.Stats().ErrorCount)
	mu.Lock()
	assert.Equal(t, []string{"portfolio.events"}, failed)
	mu.Unlock()
}

func TestProducer_SendAfterClose(t *testing.T) {
	p, _ := newMockProducer(t, DefaultProducerConfig(nil))
	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.SendRaw("t", "k", nil), ErrProducerClosed)
	assert.NoError(t, p.Close())
}
