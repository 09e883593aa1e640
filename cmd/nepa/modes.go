package main

import (
	"context"
	"log"

	"github.com/dustin/go-humanize"

	"github.com/uva-nepa/nepa/internal/beacon"
	"github.com/uva-nepa/nepa/internal/collector"
	"github.com/uva-nepa/nepa/internal/config"
	"github.com/uva-nepa/nepa/internal/db"
	"github.com/uva-nepa/nepa/internal/flush"
	"github.com/uva-nepa/nepa/internal/session"
	"github.com/uva-nepa/nepa/internal/timeutil"
)

// runLive streams every packet to the collector in periodic batches until
// ctx ends. Capture stops before the final flush so the tail is sent too.
func runLive(ctx context.Context, cfg *config.Config, src beacon.Source, poster flush.Poster, journal *db.DB, deviceID string) error {
	buf := beacon.NewBuffer()
	capture, err := session.StartCapture(src, buf, timeutil.RealClock{}, cfg.GetBufferCapacity())
	if err != nil {
		return err
	}

	sched := flush.NewScheduler(flush.Config{
		Buffer:   buf,
		Poster:   poster,
		DeviceID: deviceID,
		Period:   cfg.GetFlushInterval(),
		OnFlush: func(f flush.Flush) {
			if err := journal.RecordFlush(context.Background(), f); err != nil {
				log.Printf("failed to record flush: %v", err)
			}
		},
	})

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	done := make(chan error, 1)
	go func() { done <- sched.Run(runCtx) }()

	<-ctx.Done()
	capture.Cancel()
	cancelRun()
	err = <-done

	stats := capture.Stats()
	log.Printf("live capture stopped: %s packets received, %s dropped, %d errors",
		humanize.Comma(stats.Received), humanize.Comma(stats.Dropped), stats.Errors)
	return err
}

// runTrack sends each packet as its own data point, labelled with section
// when one is given.
func runTrack(ctx context.Context, cfg *config.Config, src beacon.Source, poster flush.DataPointPoster, deviceID, section string) error {
	relay := &flush.Relay{Poster: poster, DeviceID: deviceID}
	relay.SetSection(section)
	relay.SetSending(true)

	capture, err := session.StartCapture(src, relay, timeutil.RealClock{}, cfg.GetBufferCapacity())
	if err != nil {
		return err
	}
	<-ctx.Done()
	capture.Cancel()
	relay.Wait()

	sent, failed := relay.Counts()
	log.Printf("tracking stopped: %s data points sent, %s failed", humanize.Comma(sent), humanize.Comma(failed))
	return nil
}

// runSession starts req and logs its progress. With once set it returns
// after the first session settles; otherwise it runs until ctx ends.
func runSession(ctx context.Context, ctrl *session.Controller, req session.Request, once bool) error {
	id, events := ctrl.Subscribe()
	defer ctrl.Unsubscribe(id)

	if _, err := ctrl.Start(req); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			logEvent(ev)
			if once && ev.Kind == session.EventFinished {
				return nil
			}
		}
	}
}

// watchSessions logs sessions toggled over HTTP until ctx ends.
func watchSessions(ctx context.Context, ctrl *session.Controller) {
	id, events := ctrl.Subscribe()
	defer ctrl.Unsubscribe(id)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			logEvent(ev)
		}
	}
}

func logEvent(ev session.Event) {
	switch ev.Kind {
	case session.EventStarted:
		log.Printf("session %s: scanning", ev.SessionID)
	case session.EventTick:
		log.Printf("session %s: %.0fs left", ev.SessionID, ev.Remaining.Seconds())
	case session.EventCollected:
		log.Printf("session %s: uploading %d fingerprints", ev.SessionID, len(ev.Result.Fingerprints))
	case session.EventFinished:
		r := ev.Result
		switch {
		case r.Skipped:
			log.Printf("session %s: nothing heard, upload skipped", ev.SessionID)
		case r.Uploaded:
			log.Printf("session %s: uploaded %d fingerprints from %s packets", ev.SessionID, len(r.Fingerprints), humanize.Comma(int64(r.Packets)))
		default:
			log.Printf("session %s: upload failed, %d fingerprints dropped", ev.SessionID, len(r.Fingerprints))
		}
	}
}

var (
	_ flush.Poster          = (*collector.Client)(nil)
	_ flush.DataPointPoster = (*collector.Client)(nil)
	_ session.Uploader      = (*collector.Client)(nil)
)
