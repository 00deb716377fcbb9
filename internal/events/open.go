package events

import (
	"fmt"

	"go.uber.org/zap"

	"civicreport/internal/config"
)

// Open returns the configured publisher wrapped in an Async queue.
func Open(cfg config.Config, logger *zap.Logger) (*Async, error) {
	var inner Publisher
	switch cfg.EventsBackend {
	case "none":
		inner = Noop{}
	case "log":
		inner = Log{Logger: logger.Named("events")}
	case "rabbitmq":
		r, err := NewRabbit(cfg.RabbitMQURL, cfg.RabbitMQQueue)
		if err != nil {
			return nil, err
		}
		logger.Info("publishing events to rabbitmq", zap.String("queue", cfg.RabbitMQQueue))
		inner = r
	default:
		return nil, fmt.Errorf("unsupported events backend %q", cfg.EventsBackend)
	}
	return NewAsync(inner, cfg.EventsBuffer, logger), nil
}
