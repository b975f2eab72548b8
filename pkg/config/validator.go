package config

import "fmt"

// validate performs comprehensive validation on loaded configuration.
func validate(cfg *Config) error {
	if len(cfg.Targets) == 0 {
		return NewValidationError("targets", "", "", fmt.Errorf("%w: at least one target is required", ErrMissingRequiredField))
	}
	for i, t := range cfg.Targets {
		if err := t.validate(); err != nil {
			return NewValidationError("target", fmt.Sprintf("%d", i), "", err)
		}
	}

	switch cfg.Queue.Backend {
	case QueueBackendMemory, QueueBackendRabbitMQ:
	default:
		return NewValidationError("queue", "", "backend", fmt.Errorf("%w: %q", ErrInvalidValue, cfg.Queue.Backend))
	}
	if cfg.Queue.Backend == QueueBackendRabbitMQ && cfg.Queue.RabbitMQURL == "" {
		return NewValidationError("queue", "", "rabbitmq_url", fmt.Errorf("%w: required when backend is rabbitmq", ErrMissingRequiredField))
	}

	if cfg.Worker.WorkerCount < 1 {
		return NewValidationError("worker", "", "worker_count", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}

	if cfg.Dialogue.MaxTurns < 1 {
		return NewValidationError("dialogue", "", "max_turns", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}

	if cfg.Producer.Enabled && cfg.Producer.PollInterval <= 0 && cfg.Producer.CronSchedule == "" {
		return NewValidationError("producer", "", "poll_interval", fmt.Errorf("%w: set poll_interval or cron_schedule when producer is enabled", ErrMissingRequiredField))
	}

	return nil
}
