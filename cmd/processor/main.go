// Command processor consumes snapshot messages from Pub/Sub and records each
// one in the snapshot store, where scandiff can later compare them.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"cloud.google.com/go/pubsub"
	"github.com/sirupsen/logrus"

	"github.com/censys/scandiff/pkg/config"
	"github.com/censys/scandiff/pkg/dal"
	sqlite "github.com/censys/scandiff/pkg/dal/sqlite"
	"github.com/censys/scandiff/pkg/logging"
	"github.com/censys/scandiff/pkg/processor"
	"github.com/censys/scandiff/pkg/service"
	"github.com/censys/scandiff/pkg/snapshot"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load("")
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		logrus.Fatalf("logging: %v", err)
	}

	// The Pub/Sub client only picks up the emulator from the environment.
	if cfg.PubSub.EmulatorHost != "" {
		if err := os.Setenv("PUBSUB_EMULATOR_HOST", cfg.PubSub.EmulatorHost); err != nil {
			log.Fatalf("set emulator host: %v", err)
		}
	}

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-shutdownCh
		log.Info("shutdown signal received; canceling in-flight work")
		cancel()
	}()

	var repo dal.Repository
	switch cfg.Datastore {
	case "sqlite":
		repo, err = sqlite.New(cfg.DBPath)
	default:
		log.Fatalf("unsupported datastore %q", cfg.Datastore)
	}
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer repo.Close()

	svc := service.New(repo, cfg.DiffOptions(), log)

	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		log.Fatalf("pubsub client: %v", err)
	}
	defer client.Close()

	sub := client.Subscription(cfg.PubSub.SubscriptionID)
	exists, err := sub.Exists(ctx)
	if err != nil {
		log.Fatalf("checking subscription %q: %v", cfg.PubSub.SubscriptionID, err)
	}
	if !exists {
		log.Fatalf("subscription %q not found", cfg.PubSub.SubscriptionID)
	}

	log.WithFields(logrus.Fields{
		"project":      cfg.PubSub.ProjectID,
		"subscription": cfg.PubSub.SubscriptionID,
		"emulator":     cfg.PubSub.EmulatorHost,
		"db":           cfg.DBPath,
	}).Info("processor ready")

	err = sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		entry := log.WithField("message_id", msg.ID)

		snap, err := processor.ParseSnapshot(msg.Data)
		if err != nil {
			// Redelivery cannot fix a bad payload.
			entry.WithError(err).Warn("dropping undecodable snapshot")
			msg.Ack()
			return
		}

		if _, err := svc.Store(ctx, snap); err != nil {
			if errors.Is(err, dal.ErrConflict) {
				entry.WithField("snapshot", snap.Label()).Info("duplicate snapshot ignored")
				msg.Ack()
				return
			}
			entry.WithError(err).Error("store error")
			msg.Nack()
			return
		}
		msg.Ack()

		logChanges(ctx, svc, entry, snap)
	})

	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("subscription receive error: %v", err)
	}

	log.Info("processor exiting")
}

// logChanges reports how snap differs from the host's previous capture.
// The snapshot is already stored, so failures here are only logged.
func logChanges(ctx context.Context, svc *service.Service, entry *logrus.Entry, snap *snapshot.Snapshot) {
	entry = entry.WithField("snapshot", snap.Label())
	report, err := svc.ChangesSince(ctx, snap)
	switch {
	case errors.Is(err, service.ErrNotEnoughSnapshots):
		entry.Info("first snapshot for host")
		return
	case err != nil:
		entry.WithError(err).Warn("could not diff against previous snapshot")
		return
	}

	sum := report.Summary()
	fields := logrus.Fields{
		"previous":              report.OldSnapshot.Label(),
		"ports_added":           sum.PortsAdded,
		"ports_removed":         sum.PortsRemoved,
		"services_changed":      sum.ServicesChanged,
		"vulnerabilities_added": sum.VulnerabilitiesAdded,
		"vulnerabilities_fixed": sum.VulnerabilitiesFixed,
	}
	if report.HasChanges() {
		entry.WithFields(fields).Warn("host exposure changed")
		return
	}
	entry.WithFields(fields).Info("host exposure unchanged")
}
