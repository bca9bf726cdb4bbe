package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	mqttclient "github.com/eclipse/paho.mqtt.golang"
	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"

	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/alerting"
	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/auth"
	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/broadcast"
	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/config"
	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/engine"
	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/geo"
	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/notify"
	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/pipeline"
	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/proximity"
	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/state"
	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/store"
	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/subscription"
	httptransport "github.com/Where-is-my-garbage-Truck/truck-tracker/internal/transport/http"
	mqtttransport "github.com/Where-is-my-garbage-Truck/truck-tracker/internal/transport/mqtt"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pg, err := store.NewPostgresStore(ctx, cfg)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pg.Close()

	rd, err := store.NewRedisStore(ctx, cfg)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer func() { _ = rd.Close() }()

	dispatcher := pipeline.NewDispatcher(cfg.LedgerChannelSize, cfg.MirrorChannelSize)
	ledgerWriter := pipeline.NewLedgerWriter(dispatcher.LedgerChan, pg, cfg.DBBatchSize, cfg.DBFlushIntervalMS)
	mirrorWriter := pipeline.NewMirrorWriter(dispatcher.MirrorChan, rd)

	vehicles := state.NewStore(time.Duration(cfg.ClockSkewToleranceSec) * time.Second)
	index := subscription.NewIndex()
	if err := warmRegistry(ctx, pg, vehicles, index); err != nil {
		log.Fatalf("registry warmup: %v", err)
	}

	eval := proximity.NewEvaluator(
		proximity.Thresholds{
			ApproachingM: cfg.ApproachingDistM,
			ArrivingM:    cfg.ArrivingDistM,
			HereM:        cfg.HereDistM,
		},
		geo.TrafficProfile{
			AvgSpeedKmh:      cfg.AvgTruckSpeedKmh,
			PeakMultiplier:   cfg.TrafficPeakMult,
			NormalMultiplier: cfg.TrafficNormalMult,
		},
	)
	machine := alerting.NewMachine(pg, cfg.DefaultTriggerM)
	hub := broadcast.NewHub(cfg.ListenerBufferSize)

	notifiers := notify.Multi{notify.LogNotifier{}, notify.NewRedisNotifier(rd)}
	var rabbitConn *amqp.Connection
	if cfg.RabbitURL != "" {
		rabbitConn, err = amqp.Dial(cfg.RabbitURL)
		if err != nil {
			log.Fatalf("rabbitmq: %v", err)
		}
		defer func() { _ = rabbitConn.Close() }()
		rabbit, err := notify.NewRabbitNotifier(rabbitConn)
		if err != nil {
			log.Fatalf("rabbitmq notifier: %v", err)
		}
		notifiers = append(notifiers, rabbit)
	}

	eng := engine.New(vehicles, index, eval, machine, hub, notifiers, dispatcher)

	var mqttClient mqttclient.Client
	if cfg.MQTTBroker != "" {
		opts := mqttclient.NewClientOptions().
			AddBroker(cfg.MQTTBroker).
			SetClientID(cfg.MQTTClientID)
		mqttClient = mqttclient.NewClient(opts)
		if token := mqttClient.Connect(); token.Wait() && token.Error() != nil {
			log.Fatalf("mqtt connect: %v", token.Error())
		}
		if err := mqtttransport.NewSubscriber(mqttClient, eng).Start(); err != nil {
			log.Fatalf("mqtt subscribe: %v", err)
		}
		log.Printf("mqtt ingest connected to %s", cfg.MQTTBroker)
	}

	authenticator := auth.NewAuthenticator(cfg, rd)
	router := httptransport.NewRouter(eng, authenticator, cfg.CORSOrigins)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ledgerWriter.Run(gctx)
		return nil
	})
	g.Go(func() error {
		mirrorWriter.Run(gctx)
		return nil
	})
	g.Go(func() error {
		log.Printf("http listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		// Every ingest source must stop before the dispatcher channels close.
		if mqttClient != nil {
			mqttClient.Disconnect(250)
		}
		hub.Close()
		dispatcher.Close()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("server exited: %v", err)
	}
	log.Println("shutdown complete")
}

// warmRegistry loads the vehicle, zone and subscriber registries plus the
// last persisted fix per vehicle so evaluation works immediately after a
// restart.
func warmRegistry(ctx context.Context, pg *store.PostgresStore, vehicles *state.Store, index *subscription.Index) error {
	zones, err := pg.LoadZones(ctx)
	if err != nil {
		return fmt.Errorf("load zones: %w", err)
	}
	for _, z := range zones {
		index.SetZone(z)
	}

	vs, err := pg.LoadVehicles(ctx)
	if err != nil {
		return fmt.Errorf("load vehicles: %w", err)
	}
	historySince := time.Now().Add(-24 * time.Hour)
	for _, v := range vs {
		vehicles.Register(v)
		if v.ZoneID != "" {
			index.AssignVehicle(v.ZoneID, v.ID)
		}
		history, err := pg.LoadHistory(ctx, v.ID, historySince)
		if err == nil && len(history) > 0 {
			vehicles.SeedHistory(v.ID, history)
			continue
		}
		// Last fix older than the history window: warm just the latest.
		last, err := pg.LoadLatest(ctx, v.ID)
		if err != nil {
			continue
		}
		vehicles.SeedLatest(last)
	}

	subs, err := pg.LoadSubscribers(ctx)
	if err != nil {
		return fmt.Errorf("load subscribers: %w", err)
	}
	for _, s := range subs {
		index.Upsert(s)
	}

	log.Printf("registry warmed: %d zones, %d vehicles, %d subscribers", len(zones), len(vs), len(subs))
	return nil
}
