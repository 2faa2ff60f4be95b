package worker

import (
	"context"
	"fmt"

	"github.com/3Eeeecho/go-cloudvault/internal/pkg/logger"
	"github.com/3Eeeecho/go-cloudvault/internal/pkg/mq"
)

// Manager owns the background half of the upload pipeline: the four queue
// consumers plus the expiry sweeper.
type Manager struct {
	client    *mq.RabbitMQClient
	assemble  *AssembleWorker
	validate  *ValidateWorker
	relay     *RelayWorker
	thumbnail *ThumbnailWorker
	sweeper   *Sweeper
}

func NewManager(
	client *mq.RabbitMQClient,
	assemble *AssembleWorker,
	validate *ValidateWorker,
	relay *RelayWorker,
	thumbnail *ThumbnailWorker,
	sweeper *Sweeper,
) *Manager {
	return &Manager{
		client:    client,
		assemble:  assemble,
		validate:  validate,
		relay:     relay,
		thumbnail: thumbnail,
		sweeper:   sweeper,
	}
}

// Start declares all queues, starts every consumer and launches the
// sweeper. The sweeper stops when ctx is cancelled.
func (m *Manager) Start(ctx context.Context) error {
	queues := []string{mq.QueueAssemble, mq.QueueValidate, mq.QueueRelay, mq.QueueThumbnail}
	for _, q := range queues {
		if _, err := m.client.DeclareQueue(q); err != nil {
			return fmt.Errorf("declare queue %s: %w", q, err)
		}
	}

	if err := m.assemble.Start(m.client); err != nil {
		return fmt.Errorf("start assemble worker: %w", err)
	}
	if err := m.validate.Start(m.client); err != nil {
		return fmt.Errorf("start validate worker: %w", err)
	}
	if err := m.relay.Start(m.client); err != nil {
		return fmt.Errorf("start relay worker: %w", err)
	}
	if err := m.thumbnail.Start(m.client); err != nil {
		return fmt.Errorf("start thumbnail worker: %w", err)
	}

	go m.sweeper.Run(ctx)

	logger.Info("All upload pipeline workers started")
	return nil
}
