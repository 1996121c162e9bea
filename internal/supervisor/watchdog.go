package supervisor

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/camerarecorder/hdmi-mixer-go/internal/common"
	"github.com/camerarecorder/hdmi-mixer-go/internal/devprobe"
	"github.com/camerarecorder/hdmi-mixer-go/internal/logging"
)

/*
Watchdog tick handlers. Probes fan out over the bounded worker pool so
four slow drivers cost one probe's latency, then all state transitions
run on the loop goroutine.

Per tick, for each camera:
  - signal lost while Running            -> park in NoSignal
  - signal returned while in NoSignal    -> bridge re-init + start
  - observed caps drifted while Running  -> rebuild at new caps
  - buffer flow stalled (Degraded)       -> rebuild within backoff
  - engine in Error                      -> one rebuild per backoff window
  - recording segment over length        -> rotate
*/

func (s *Supervisor) pollIngests(ctx context.Context) {
	probes := s.probeAll(ctx)

	for _, id := range s.cameraIDs {
		eng := s.ingests[id]
		probe, ok := probes[id]
		if !ok {
			continue
		}
		eng.SetSignal(probe.HasSignal)

		state := eng.CheckLiveness()
		switch {
		case state == common.StateRunning && !probe.HasSignal:
			eng.ParkNoSignal(ctx)
			owner := "ingest:" + id
			s.own.releaseDevice(eng.DevicePath(), owner)
			s.own.releasePublish(eng.PublishPath(), owner)
			s.events.publish(Event{Kind: EventStateChange, Engine: "ingest", CameraID: id, State: common.StateNoSignal})

		case state == common.StateNoSignal && probe.HasSignal:
			if probe.Kind == devprobe.KindHdmiBridge {
				if err := s.prober.InitBridge(ctx, eng.DevicePath()); err != nil {
					s.logger.WithFields(logging.Fields{"camera_id": id, "error": err.Error()}).Warn("bridge re-init failed")
				}
			}
			if _, err := s.startIngestLocked(ctx, id); err != nil {
				s.logger.WithFields(logging.Fields{"camera_id": id, "error": err.Error()}).Warn("ingest restart on signal return failed")
			}

		case state == common.StateRunning && probe.HasSignal && probe.Caps != eng.Caps():
			s.logger.WithFields(logging.Fields{"camera_id": id}).Info("source caps drifted, rebuilding ingest")
			s.rebuildIngest(ctx, id)

		case state == common.StateDegraded || state == common.StateError:
			if s.rebuildLimit[id].Allow() {
				s.rebuildIngest(ctx, id)
			}
		}

		if s.rec.NeedsRotation(id) {
			if _, err := s.rec.Rotate(ctx, id); err != nil {
				s.logger.WithFields(logging.Fields{"camera_id": id, "error": err.Error()}).Warn("recording rotation failed")
			}
		}
	}
}

// probeAll runs the device probes concurrently, bounded by the worker
// semaphore.
func (s *Supervisor) probeAll(ctx context.Context) map[string]devprobe.Result {
	var mu sync.Mutex
	results := map[string]devprobe.Result{}
	g, probeCtx := errgroup.WithContext(ctx)
	for _, id := range s.cameraIDs {
		id := id
		eng := s.ingests[id]
		g.Go(func() error {
			if err := s.probes.Acquire(probeCtx, 1); err != nil {
				return err
			}
			defer s.probes.Release(1)
			res := s.prober.Probe(probeCtx, eng.DevicePath())
			mu.Lock()
			results[id] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// rebuildIngest is the backoff-gated stop-then-start path. Ingest
// rebuilds for cameras the mixer references are naturally serialized
// with mixer work because both run on the loop goroutine.
func (s *Supervisor) rebuildIngest(ctx context.Context, cameraID string) {
	if err := s.stopIngestLocked(ctx, cameraID); err != nil {
		s.logger.WithFields(logging.Fields{"camera_id": cameraID, "error": err.Error()}).Warn("rebuild stop failed")
	}
	if _, err := s.startIngestLocked(ctx, cameraID); err != nil {
		s.logger.WithFields(logging.Fields{"camera_id": cameraID, "error": err.Error()}).Warn("rebuild start failed")
	}
}

func (s *Supervisor) pollMixer(ctx context.Context) {
	state := s.mix.CheckLiveness(s.cfg.Ingest.LivenessTimeout)
	if state != common.StateDegraded && state != common.StateError {
		return
	}
	if !s.rebuildLimit["mixer"].Allow() {
		return
	}
	s.logger.WithFields(logging.Fields{"state": string(state)}).Warn("mixer unhealthy, rebuilding")
	if err := s.mix.Stop(ctx); err != nil {
		s.logger.WithFields(logging.Fields{"error": err.Error()}).Warn("mixer rebuild stop failed")
	}
	if err := s.mix.Start(ctx); err != nil {
		s.logger.WithFields(logging.Fields{"error": err.Error()}).Warn("mixer rebuild start failed")
		s.events.publish(Event{Kind: EventHealth, Engine: "mixer", State: s.mix.State(), Detail: err.Error()})
		return
	}
	s.events.publish(Event{Kind: EventStateChange, Engine: "mixer", State: s.mix.State(), SceneID: s.mix.AppliedSceneID()})
}
