package store_test

import (
	"context"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/tempglobe/internal/store"
	"procodus.dev/tempglobe/pkg/logger"
)

var _ = Describe("SQLite", func() {
	describeStore(func(clock clockwork.Clock) store.Store {
		path := filepath.Join(GinkgoT().TempDir(), "measurements.db")
		s, err := store.OpenSQLite(context.Background(), path, clock, logger.Discard())
		Expect(err).NotTo(HaveOccurred())
		return s
	})

	It("should create missing parent directories", func() {
		path := filepath.Join(GinkgoT().TempDir(), "nested", "dir", "m.db")
		s, err := store.OpenSQLite(context.Background(), path, clockwork.NewFakeClock(), logger.Discard())
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Close()).To(Succeed())
		Expect(path).To(BeAnExistingFile())
	})

	It("should keep data and the timestamp high-water mark across reopen", func() {
		ctx := context.Background()
		path := filepath.Join(GinkgoT().TempDir(), "m.db")
		clock := clockwork.NewFakeClockAt(epoch)

		s, err := store.OpenSQLite(ctx, path, clock, logger.Discard())
		Expect(err).NotTo(HaveOccurred())
		first, err := s.Insert(ctx, 4, 38.5)
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Close()).To(Succeed())

		// a restart with a clock that lags behind the stored data
		reopened, err := store.OpenSQLite(ctx, path, clockwork.NewFakeClockAt(epoch.Add(-time.Hour)), logger.Discard())
		Expect(err).NotTo(HaveOccurred())
		defer reopened.Close()

		second, err := reopened.Insert(ctx, 4, 39)
		Expect(err).NotTo(HaveOccurred())
		Expect(second.ID).To(BeNumerically(">", first.ID))
		Expect(second.Timestamp).To(Equal(first.Timestamp))

		all, err := reopened.QueryWindow(ctx, epoch.Add(-2*time.Hour))
		Expect(err).NotTo(HaveOccurred())
		Expect(all).To(ConsistOf(first, second))
	})

	It("should report a storage failure once closed", func() {
		ctx := context.Background()
		path := filepath.Join(GinkgoT().TempDir(), "m.db")
		s, err := store.OpenSQLite(ctx, path, clockwork.NewFakeClock(), logger.Discard())
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Close()).To(Succeed())

		_, err = s.Insert(ctx, 0, 1)
		Expect(err).To(MatchError(store.ErrStorageFailure))

		_, err = s.QueryWindow(ctx, epoch)
		Expect(err).To(MatchError(store.ErrStorageFailure))
	})
})
