package events

import (
	"context"
	"encoding/json"
	"time"

	"AssetTrackPlatform/internal/domain"
	"AssetTrackPlatform/pkg/logger"
	"AssetTrackPlatform/pkg/rabbitmq"
)

// Publisher отправляет события безопасности во внешнюю шину.
// Публикация асинхронная и необязательная: отказ брокера не должен
// блокировать или ломать операцию, породившую событие.
type Publisher interface {
	Publish(event *domain.SecurityEvent)
	Close()
}

// RabbitMQPublisher публикует события в RabbitMQ через внутреннюю
// очередь с фоновым воркером
type RabbitMQPublisher struct {
	producer *rabbitmq.Producer
	logger   logger.Logger

	queue chan *domain.SecurityEvent
	done  chan struct{}
}

const (
	publishQueueSize = 1024
	publishTimeout   = 5 * time.Second
)

// NewRabbitMQPublisher создает издателя и запускает фоновый воркер
func NewRabbitMQPublisher(producer *rabbitmq.Producer, log logger.Logger) *RabbitMQPublisher {
	p := &RabbitMQPublisher{
		producer: producer,
		logger:   log,
		queue:    make(chan *domain.SecurityEvent, publishQueueSize),
		done:     make(chan struct{}),
	}

	go p.run()

	return p
}

// Publish ставит событие в очередь на отправку. При переполнении
// очереди событие отбрасывается с записью в лог: журнал в БД
// остается первичным источником, шина вторична.
func (p *RabbitMQPublisher) Publish(event *domain.SecurityEvent) {
	select {
	case p.queue <- event:
	default:
		p.logger.Warn("security event publish queue full, dropping event",
			logger.String("event_id", event.ID),
			logger.String("event_type", string(event.EventType)))
	}
}

// Close останавливает воркер после отправки оставшихся событий
func (p *RabbitMQPublisher) Close() {
	close(p.queue)
	<-p.done
}

func (p *RabbitMQPublisher) run() {
	defer close(p.done)

	for event := range p.queue {
		p.send(event)
	}
}

func (p *RabbitMQPublisher) send(event *domain.SecurityEvent) {
	body, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("failed to marshal security event",
			logger.String("event_id", event.ID),
			logger.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := p.producer.Publish(ctx, body); err != nil {
		p.logger.Error("failed to publish security event",
			logger.String("event_id", event.ID),
			logger.String("event_type", string(event.EventType)),
			logger.Error(err))
	}
}

// NoopPublisher используется, когда шина событий не сконфигурирована
type NoopPublisher struct{}

// Publish ничего не делает
func (NoopPublisher) Publish(*domain.SecurityEvent) {}

// Close ничего не делает
func (NoopPublisher) Close() {}
