//go:build e2e

package mq_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	amqp "github.com/rabbitmq/amqp091-go"

	"procodus.dev/tempglobe/internal/testutil/containers"
	"procodus.dev/tempglobe/pkg/logger"
	"procodus.dev/tempglobe/pkg/mq"
)

var _ = Describe("MQ Client against RabbitMQ", Ordered, Label("e2e"), func() {
	var rabbit *containers.Instance

	BeforeAll(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		var err error
		rabbit, err = containers.StartRabbitMQ(ctx)
		Expect(err).NotTo(HaveOccurred())

		DeferCleanup(func() {
			Expect(rabbit.Terminate(context.Background())).To(Succeed())
		})
	})

	It("should round-trip JSON messages through the queue", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		client := mq.New("e2e-submissions", rabbit.Addr, logger.Discard())
		defer func() { _ = client.Close() }()
		Expect(client.WaitReady(ctx)).To(Succeed())

		Expect(client.PushJSON(ctx, map[string]any{"id": 3, "temperature": 12.5})).To(Succeed())

		deliveries, err := client.Consume()
		Expect(err).NotTo(HaveOccurred())

		var d amqp.Delivery
		Eventually(deliveries, 10*time.Second).Should(Receive(&d))
		Expect(d.ContentType).To(Equal("application/json"))
		Expect(d.Body).To(MatchJSON(`{"id":3,"temperature":12.5}`))
		Expect(d.Ack(false)).To(Succeed())
	})
})
