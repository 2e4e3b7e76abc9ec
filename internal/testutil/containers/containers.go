// Package containers starts throwaway PostgreSQL and RabbitMQ instances for e2e tests.
package containers

import (
	"context"
	"fmt"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	postgresPort nat.Port = "5432/tcp"
	rabbitPort   nat.Port = "5672/tcp"
)

// Instance is a running container plus the address clients should use.
type Instance struct {
	Container testcontainers.Container
	// Addr is a DSN for PostgreSQL or an amqp:// URL for RabbitMQ.
	Addr string
}

// Terminate stops and removes the container.
func (i *Instance) Terminate(ctx context.Context) error {
	if i == nil || i.Container == nil {
		return nil
	}
	return i.Container.Terminate(ctx)
}

// PostgresConfig holds the database credentials for StartPostgres. Empty fields get defaults.
type PostgresConfig struct {
	User     string
	Password string
	Database string
}

// StartPostgres starts postgres:16-alpine and returns a libpq DSN for it.
func StartPostgres(ctx context.Context, cfg PostgresConfig) (*Instance, error) {
	if cfg.User == "" {
		cfg.User = "postgres"
	}
	if cfg.Password == "" {
		cfg.Password = "postgres"
	}
	if cfg.Database == "" {
		cfg.Database = "tempglobe"
	}

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{string(postgresPort)},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort(postgresPort),
				wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			),
			Env: map[string]string{
				"POSTGRES_USER":     cfg.User,
				"POSTGRES_PASSWORD": cfg.Password,
				"POSTGRES_DB":       cfg.Database,
			},
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start PostgreSQL container: %w", err)
	}

	host, port, err := endpoint(ctx, c, postgresPort)
	if err != nil {
		return nil, err
	}

	return &Instance{
		Container: c,
		Addr: fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
			host, port, cfg.User, cfg.Password, cfg.Database),
	}, nil
}

// StartRabbitMQ starts rabbitmq:3-alpine with guest credentials and returns its amqp URL.
func StartRabbitMQ(ctx context.Context) (*Instance, error) {
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "rabbitmq:3-alpine",
			ExposedPorts: []string{string(rabbitPort)},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort(rabbitPort),
				wait.ForLog("Server startup complete"),
			),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start RabbitMQ container: %w", err)
	}

	host, port, err := endpoint(ctx, c, rabbitPort)
	if err != nil {
		return nil, err
	}

	return &Instance{
		Container: c,
		Addr:      fmt.Sprintf("amqp://guest:guest@%s:%s/", host, port),
	}, nil
}

// endpoint resolves the host and mapped port, terminating the container on failure.
func endpoint(ctx context.Context, c testcontainers.Container, port nat.Port) (string, string, error) {
	host, err := c.Host(ctx)
	if err != nil {
		if termErr := c.Terminate(ctx); termErr != nil {
			return "", "", fmt.Errorf("failed to get container host: %w (cleanup error: %w)", err, termErr)
		}
		return "", "", fmt.Errorf("failed to get container host: %w", err)
	}

	mapped, err := c.MappedPort(ctx, port)
	if err != nil {
		if termErr := c.Terminate(ctx); termErr != nil {
			return "", "", fmt.Errorf("failed to get container port: %w (cleanup error: %w)", err, termErr)
		}
		return "", "", fmt.Errorf("failed to get container port: %w", err)
	}

	return host, mapped.Port(), nil
}
