package config

// Queue backend names accepted by QueueConfig.Backend.
const (
	QueueBackendMemory   = "memory"
	QueueBackendRabbitMQ = "rabbitmq"
)

// QueueConfig selects and tunes the task queue backend.
type QueueConfig struct {
	Backend string `yaml:"backend"`

	// Capacity bounds the in-process backend only; the RabbitMQ backend has
	// no in-memory bound of its own.
	Capacity int `yaml:"capacity,omitempty"`

	RabbitMQURL       string `yaml:"rabbitmq_url,omitempty"`
	RabbitMQQueueName string `yaml:"rabbitmq_queue_name,omitempty"`
}
