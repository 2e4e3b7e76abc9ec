package store_test

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/tempglobe/internal/store"
)

var _ = Describe("Memory", func() {
	describeStore(func(clock clockwork.Clock) store.Store {
		return store.NewMemory(clock)
	})

	Context("after Close", func() {
		It("should fail every operation with a storage failure", func() {
			s := store.NewMemory(clockwork.NewFakeClock())
			Expect(s.Close()).To(Succeed())

			_, err := s.Insert(context.Background(), 0, 20)
			Expect(err).To(MatchError(store.ErrStorageFailure))

			_, err = s.QueryWindow(context.Background(), time.Time{})
			Expect(err).To(MatchError(store.ErrStorageFailure))
		})
	})

	Context("with a canceled context", func() {
		It("should not apply the insert", func() {
			s := store.NewMemory(clockwork.NewFakeClock())
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			_, err := s.Insert(ctx, 0, 20)
			Expect(err).To(MatchError(store.ErrStorageFailure))

			all, err := s.QueryWindow(context.Background(), time.Time{})
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(BeEmpty())
		})
	})
})
