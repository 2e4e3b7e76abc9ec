package backend_test

import (
	"context"
	"encoding/json"
	"net"
	"time"

	"github.com/jonboulle/clockwork"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"procodus.dev/tempglobe/internal/backend"
	"procodus.dev/tempglobe/internal/ingest"
	"procodus.dev/tempglobe/internal/store"
	"procodus.dev/tempglobe/pkg/api"
	"procodus.dev/tempglobe/pkg/logger"
	"procodus.dev/tempglobe/pkg/metrics"
)

var _ = Describe("gRPC Service", func() {
	Describe("NewTemperatureService", func() {
		It("should require a logger", func() {
			svc, err := backend.NewTemperatureService(nil, newIngest(store.NewMemory(clockwork.NewFakeClock())), nil)
			Expect(err).To(MatchError(ContainSubstring("logger cannot be nil")))
			Expect(svc).To(BeNil())
		})

		It("should require an ingest service", func() {
			svc, err := backend.NewTemperatureService(logger.Discard(), nil, nil)
			Expect(err).To(MatchError(ContainSubstring("ingest service cannot be nil")))
			Expect(svc).To(BeNil())
		})
	})

	Context("over a connection", func() {
		var (
			mem    *store.Memory
			svc    *ingest.Service
			m      *metrics.BackendMetrics
			impl   *backend.TemperatureService
			conn   *grpc.ClientConn
			client *api.Client
		)

		BeforeEach(func() {
			mem = store.NewMemory(clockwork.NewFakeClock())
			svc = newIngest(mem)
			m = metrics.NewBackendMetricsForTesting()

			var err error
			impl, err = backend.NewTemperatureService(logger.Discard(), svc, m)
			Expect(err).NotTo(HaveOccurred())

			lis := bufconn.Listen(1 << 20)
			server := grpc.NewServer()
			api.RegisterTemperatureServiceServer(server, impl)
			go func() { _ = server.Serve(lis) }()
			DeferCleanup(server.Stop)

			conn, err = api.Dial("passthrough:///bufnet",
				grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
					return lis.DialContext(ctx)
				}),
			)
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(conn.Close)

			client = api.NewClient(conn)
		})

		Describe("Submit", func() {
			It("should store and return an accepted reading", func(ctx SpecContext) {
				resp, err := client.Submit(ctx, api.NewSubmitRequest(3, 11.25))
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.Success).To(BeTrue())
				Expect(resp.Reason).To(BeEmpty())
				Expect(resp.Measurement).NotTo(BeNil())
				Expect(resp.Measurement.LocationID).To(Equal(3))
				Expect(resp.Measurement.Temperature).To(Equal(11.25))

				Expect(testutil.ToFloat64(m.GRPCRequestsTotal.WithLabelValues("Submit", "ok"))).To(Equal(1.0))
			})

			DescribeTable("should report rejections in the response",
				func(ctx SpecContext, req *api.SubmitRequest, reason ingest.Reason) {
					resp, err := client.Submit(ctx, req)
					Expect(err).NotTo(HaveOccurred())
					Expect(resp.Success).To(BeFalse())
					Expect(resp.Reason).To(Equal(string(reason)))
					Expect(resp.Measurement).To(BeNil())
				},
				Entry("unknown location", api.NewSubmitRequest(99, 20), ingest.ReasonUnknownLocation),
				Entry("too hot", api.NewSubmitRequest(2, 150), ingest.ReasonOutOfRange),
				Entry("too cold", api.NewSubmitRequest(2, -101), ingest.ReasonOutOfRange),
			)

			DescribeTable("should reject absent or malformed fields without storing anything",
				func(ctx SpecContext, req *api.SubmitRequest, reason ingest.Reason) {
					resp, err := client.Submit(ctx, req)
					Expect(err).NotTo(HaveOccurred())
					Expect(resp.Success).To(BeFalse())
					Expect(resp.Reason).To(Equal(string(reason)))

					stored, err := mem.QueryWindow(ctx, time.Time{})
					Expect(err).NotTo(HaveOccurred())
					Expect(stored).To(BeEmpty())
				},
				Entry("empty request", &api.SubmitRequest{}, ingest.ReasonUnknownLocation),
				Entry("missing temperature", &api.SubmitRequest{LocationID: json.RawMessage(`1`)}, ingest.ReasonOutOfRange),
				Entry("missing id", &api.SubmitRequest{Temperature: json.RawMessage(`20`)}, ingest.ReasonUnknownLocation),
				Entry("boolean temperature", &api.SubmitRequest{LocationID: json.RawMessage(`1`), Temperature: json.RawMessage(`true`)}, ingest.ReasonOutOfRange),
				Entry("non-numeric id", &api.SubmitRequest{LocationID: json.RawMessage(`"tokyo"`), Temperature: json.RawMessage(`20`)}, ingest.ReasonUnknownLocation),
			)

			It("should reject a raw empty message", func(ctx SpecContext) {
				out := new(api.SubmitResponse)
				err := conn.Invoke(ctx, "/"+api.ServiceName+"/Submit", map[string]any{}, out,
					grpc.CallContentSubtype(api.CodecName))
				Expect(err).NotTo(HaveOccurred())
				Expect(out.Success).To(BeFalse())
				Expect(out.Measurement).To(BeNil())

				stored, err := mem.QueryWindow(ctx, time.Time{})
				Expect(err).NotTo(HaveOccurred())
				Expect(stored).To(BeEmpty())
			})

			It("should coerce numeric strings like the websocket transport", func(ctx SpecContext) {
				resp, err := client.Submit(ctx, &api.SubmitRequest{
					LocationID:  json.RawMessage(`"0"`),
					Temperature: json.RawMessage(`"-3.5"`),
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.Success).To(BeTrue())
				Expect(resp.Measurement.LocationID).To(Equal(0))
				Expect(resp.Measurement.Temperature).To(Equal(-3.5))
			})

			It("should report storage failures in the response", func(ctx SpecContext) {
				Expect(mem.Close()).To(Succeed())

				resp, err := client.Submit(ctx, api.NewSubmitRequest(0, 22))
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.Success).To(BeFalse())
				Expect(resp.Reason).To(Equal(string(ingest.ReasonStorageFailure)))
			})
		})

		Describe("Snapshot", func() {
			It("should return the registry and recent measurements", func(ctx SpecContext) {
				_, err := client.Submit(ctx, api.NewSubmitRequest(0, 22))
				Expect(err).NotTo(HaveOccurred())

				snap, err := client.Snapshot(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(snap.Locations).To(HaveLen(5))
				Expect(snap.Locations[2].Name).To(Equal("New York"))
				Expect(snap.Locations[2].Coordinates).To(Equal([2]float64{-73.9938438, 40.7406905}))
				Expect(snap.Measurements).To(HaveLen(1))
				Expect(snap.Measurements[0].Temperature).To(Equal(22.0))
			})

			It("should fail with Internal when the store fails", func(ctx SpecContext) {
				Expect(mem.Close()).To(Succeed())

				_, err := client.Snapshot(ctx)
				Expect(status.Code(err)).To(Equal(codes.Internal))
				Expect(testutil.ToFloat64(m.GRPCRequestsTotal.WithLabelValues("Snapshot", "error"))).To(Equal(1.0))
			})
		})

		Describe("Watch", func() {
			It("should stream measurements accepted after it opened", func(ctx SpecContext) {
				stream, err := client.Watch(ctx)
				Expect(err).NotTo(HaveOccurred())
				Eventually(svc.Connections).Should(Equal(1))
				Expect(testutil.ToFloat64(m.GRPCStreamsActive)).To(Equal(1.0))

				_, err = client.Submit(ctx, api.NewSubmitRequest(4, 39.5))
				Expect(err).NotTo(HaveOccurred())

				got, err := stream.Recv()
				Expect(err).NotTo(HaveOccurred())
				Expect(got.LocationID).To(Equal(4))
				Expect(got.Temperature).To(Equal(39.5))
			})

			It("should end open streams with Unavailable when the service stops", func(ctx SpecContext) {
				stream, err := client.Watch(ctx)
				Expect(err).NotTo(HaveOccurred())
				Eventually(svc.Connections).Should(Equal(1))

				impl.Stop()
				impl.Stop()

				_, err = stream.Recv()
				Expect(status.Code(err)).To(Equal(codes.Unavailable))
				Eventually(svc.Connections).Should(BeZero())
			})

			It("should deregister when the client cancels", func(ctx SpecContext) {
				wctx, cancel := context.WithCancel(ctx)
				_, err := client.Watch(wctx)
				Expect(err).NotTo(HaveOccurred())
				Eventually(svc.Connections).Should(Equal(1))

				cancel()
				Eventually(svc.Connections).Should(BeZero())
				Eventually(func() float64 { return testutil.ToFloat64(m.GRPCStreamsActive) }).Should(BeZero())
			})
		})
	})
})
