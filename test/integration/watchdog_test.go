//go:build integration

package integration

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/anr_mon/internal/clock"
	"github.com/eliteGoblin/focusd/anr_mon/internal/domain"
	"github.com/eliteGoblin/focusd/anr_mon/internal/host"
	"github.com/eliteGoblin/focusd/anr_mon/internal/infra"
	"github.com/eliteGoblin/focusd/anr_mon/internal/usecase"
	"github.com/eliteGoblin/focusd/anr_mon/test/fixtures"
)

const (
	detectionTimeout = 500 * time.Millisecond
	expectedMessage  = "Application not responding for at least 500 ms."
)

type harness struct {
	loop        *host.Loop
	integration *usecase.AnrIntegration
	capturer    *fixtures.RecordingCapturer
	cancel      context.CancelFunc
	done        chan struct{}
}

func startHarness(strategy domain.Strategy, capturer domain.EventCapturer) *harness {
	logger := zap.NewNop()
	clk := clock.Real()
	loop := host.NewLoop(host.DefaultConfig(), clk, logger)

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{
		loop:   loop,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	if recorder, ok := capturer.(*fixtures.RecordingCapturer); ok {
		h.capturer = recorder
	}

	h.integration = usecase.NewAnrIntegration(usecase.AnrOptions{
		Enabled:  true,
		Timeout:  detectionTimeout,
		Strategy: strategy,
	}, loop, clk, logger)
	Expect(h.integration.Register(ctx, capturer)).To(Succeed())

	go func() {
		defer close(h.done)
		_ = loop.Run(ctx)
	}()
	// Let the first heartbeat establish a baseline.
	time.Sleep(3 * host.DefaultConfig().FrameInterval)
	return h
}

func (h *harness) stop() {
	h.integration.Close(true)
	h.cancel()
	Eventually(h.done).Should(BeClosed())
}

var _ = Describe("ANR watchdog on a real main loop", func() {
	for _, strategy := range []domain.Strategy{domain.StrategyThreaded, domain.StrategyCooperative} {
		Context(string(strategy)+" strategy", func() {
			var h *harness

			BeforeEach(func() {
				h = startHarness(strategy, fixtures.NewRecordingCapturer())
			})

			AfterEach(func() {
				h.stop()
			})

			It("reports a one second block exactly once", func() {
				onset := time.Now()
				stalled := fixtures.Stall(h.loop, time.Second)

				Eventually(h.capturer.ReportCount, 2*time.Second, 10*time.Millisecond).Should(Equal(1))
				Expect(time.Since(onset)).To(BeNumerically("<", time.Second+2*detectionTimeout))
				Eventually(stalled).Should(BeClosed())

				Consistently(h.capturer.ReportCount, time.Second, 50*time.Millisecond).Should(Equal(1))
				report := h.capturer.Reports()[0]
				Expect(report.Message).To(Equal(expectedMessage))
				Expect(report.Strategy).To(Equal(strategy))
			})

			It("ignores a block of half the timeout", func() {
				stalled := fixtures.Stall(h.loop, detectionTimeout/2)
				Eventually(stalled).Should(BeClosed())

				Consistently(h.capturer.ReportCount, time.Second, 50*time.Millisecond).Should(BeZero())
			})

			It("stays silent while the loop is responsive", func() {
				Consistently(h.capturer.ReportCount, 2*time.Second, 50*time.Millisecond).Should(BeZero())
			})

			It("does not report a block while paused", func() {
				fixtures.OnLoop(h.loop, func() { h.loop.SetPaused(true) })
				stalled := fixtures.Stall(h.loop, time.Second)
				Eventually(stalled, 2*time.Second).Should(BeClosed())

				time.Sleep(200 * time.Millisecond)
				fixtures.OnLoop(h.loop, func() { h.loop.SetPaused(false) })

				Consistently(h.capturer.ReportCount, time.Second, 50*time.Millisecond).Should(BeZero())
			})

			It("reports separate stalls as separate episodes", func() {
				Eventually(fixtures.Stall(h.loop, time.Second), 2*time.Second).Should(BeClosed())
				time.Sleep(300 * time.Millisecond)
				Eventually(fixtures.Stall(h.loop, time.Second), 2*time.Second).Should(BeClosed())

				Eventually(h.capturer.ReportCount, time.Second, 10*time.Millisecond).Should(Equal(2))
			})

			It("reports nothing after Stop", func() {
				h.integration.Close(true)

				Eventually(fixtures.Stall(h.loop, time.Second), 2*time.Second).Should(BeClosed())
				Consistently(h.capturer.ReportCount, 500*time.Millisecond, 50*time.Millisecond).Should(BeZero())
			})
		})
	}

	Context("threaded strategy with simulated time frozen", func() {
		It("still detects the block", func() {
			h := startHarness(domain.StrategyThreaded, fixtures.NewRecordingCapturer())
			defer h.stop()

			h.loop.SetTimeScale(0)
			time.Sleep(50 * time.Millisecond)
			frozenAt := h.loop.VirtualTime()
			stalled := fixtures.Stall(h.loop, time.Second)

			Eventually(h.capturer.ReportCount, 2*time.Second, 10*time.Millisecond).Should(Equal(1))
			Eventually(stalled).Should(BeClosed())
			Expect(h.loop.VirtualTime()).To(Equal(frozenAt))
		})

		It("detects the block while it is still ongoing", func() {
			h := startHarness(domain.StrategyThreaded, fixtures.NewRecordingCapturer())
			defer h.stop()

			stalled := fixtures.Stall(h.loop, 2*time.Second)

			Eventually(h.capturer.ReportCount, 1500*time.Millisecond, 10*time.Millisecond).Should(Equal(1))
			Expect(stalled).NotTo(BeClosed())
			Eventually(stalled, 2*time.Second).Should(BeClosed())
		})
	})

	Context("quitting the application", func() {
		It("stops the watchdog and ends the loop", func() {
			h := startHarness(domain.StrategyThreaded, fixtures.NewRecordingCapturer())

			h.loop.Quit()
			Eventually(h.done).Should(BeClosed())

			watchdog := h.integration.Watchdog()
			Expect(watchdog).NotTo(BeNil())
			h.integration.Close(true)
			h.cancel()
			Expect(h.capturer.ReportCount()).To(BeZero())
		})
	})

	Context("with the encrypted event cache", func() {
		It("persists the ANR event", func() {
			dataDir := GinkgoT().TempDir()
			key, err := infra.GenerateKey()
			Expect(err).NotTo(HaveOccurred())

			store, err := infra.NewEncryptedEventStore(dataDir, key, infra.DefaultEventStoreConfig(), zap.NewNop())
			Expect(err).NotTo(HaveOccurred())
			defer store.Close()

			capturer := usecase.NewEventCapturer(store, infra.NewProcessInspector(), clock.Real(), zap.NewNop())
			h := startHarness(domain.StrategyCooperative, capturer)
			defer h.stop()

			Eventually(fixtures.Stall(h.loop, time.Second), 2*time.Second).Should(BeClosed())

			Eventually(store.Count, time.Second, 20*time.Millisecond).Should(Equal(1))
			events, err := store.List(0)
			Expect(err).NotTo(HaveOccurred())
			Expect(events[0].Message).To(Equal(expectedMessage))
			Expect(events[0].Exception.Mechanism).To(Equal("AppHang"))
			Expect(events[0].Tags).To(HaveKeyWithValue("anr.strategy", "cooperative"))
			Expect(events[0].Process).NotTo(BeNil())
		})
	})
})
