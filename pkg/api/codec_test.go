package api_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"procodus.dev/tempglobe/pkg/api"
)

var _ = Describe("Codec", func() {
	codec := api.Codec{}

	It("should be registered under its content-subtype", func() {
		Expect(encoding.GetCodec(api.CodecName)).To(BeAssignableToTypeOf(api.Codec{}))
	})

	It("should encode plain structs with their JSON field names", func() {
		raw, err := codec.Marshal(api.NewSubmitRequest(2, 18.5))
		Expect(err).NotTo(HaveOccurred())
		Expect(raw).To(MatchJSON(`{"id":2,"temperature":18.5}`))
	})

	It("should omit absent submit fields", func() {
		raw, err := codec.Marshal(&api.SubmitRequest{})
		Expect(err).NotTo(HaveOccurred())
		Expect(raw).To(MatchJSON(`{}`))
	})

	It("should keep submit fields as sent", func() {
		var req api.SubmitRequest
		Expect(codec.Unmarshal([]byte(`{"id":"3","temperature":-4.5}`), &req)).To(Succeed())
		Expect(string(req.LocationID)).To(Equal(`"3"`))
		Expect(string(req.Temperature)).To(Equal(`-4.5`))
	})

	It("should decode a submit response with its measurement", func() {
		var resp api.SubmitResponse
		err := codec.Unmarshal([]byte(`{"success":true,"measurement":{"id":9,"locationId":1,"temperature":-2,"timestamp":1700000000000}}`), &resp)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Success).To(BeTrue())
		Expect(resp.Measurement).To(Equal(&api.Measurement{ID: 9, LocationID: 1, Temperature: -2, Timestamp: 1700000000000}))
	})

	It("should route protobuf messages through protojson", func() {
		raw, err := codec.Marshal(&emptypb.Empty{})
		Expect(err).NotTo(HaveOccurred())
		Expect(raw).To(MatchJSON(`{}`))

		raw, err = codec.Marshal(wrapperspb.Double(21.5))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(raw)).To(Equal("21.5"))

		out := &wrapperspb.DoubleValue{}
		Expect(codec.Unmarshal([]byte("3.25"), out)).To(Succeed())
		Expect(out.GetValue()).To(Equal(3.25))
	})

	It("should report malformed input", func() {
		var resp api.SnapshotResponse
		Expect(codec.Unmarshal([]byte(`{"locations":`), &resp)).To(HaveOccurred())
	})
})
