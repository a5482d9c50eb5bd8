package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/docstream/internal/config"
)

// RedisOpt builds the asynq connection options from the shared Redis config.
func RedisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

type Client struct {
	client *asynq.Client
}

func NewClient(cfg config.RedisConfig) *Client {
	return &Client{
		client: asynq.NewClient(RedisOpt(cfg)),
	}
}

func (c *Client) Close() error {
	return c.client.Close()
}

// EnqueueSweep asks a worker process to sweep orphaned responses now.
func (c *Client) EnqueueSweep(payload SweepPayload) (string, error) {
	return c.enqueue(TypeResponsesSweep, payload, asynq.MaxRetry(1), asynq.Timeout(time.Minute))
}

func (c *Client) enqueue(taskType string, payload any, opts ...asynq.Option) (string, error) {
	task, err := newTask(taskType, payload)
	if err != nil {
		return "", err
	}
	info, err := c.client.Enqueue(task, opts...)
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", taskType, err)
	}
	return info.ID, nil
}

func newTask(taskType string, payload any) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(taskType, data), nil
}
