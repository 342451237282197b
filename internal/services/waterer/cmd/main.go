package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/LeonardoBeccarini/pot_waterer/internal/config"
	"github.com/LeonardoBeccarini/pot_waterer/internal/hal"
	"github.com/LeonardoBeccarini/pot_waterer/internal/metrics"
	"github.com/LeonardoBeccarini/pot_waterer/internal/services/event"
	"github.com/LeonardoBeccarini/pot_waterer/internal/services/waterer"
	"github.com/LeonardoBeccarini/pot_waterer/internal/timing"
	"github.com/LeonardoBeccarini/pot_waterer/pkg/broker"
	"github.com/LeonardoBeccarini/pot_waterer/pkg/dedup"
)

// umidità iniziale dei vasi simulati (scala 0..1023)
var simSeeds = []float64{180, 420, 150}

func newBoard(cfg *config.Config) (hal.Board, error) {
	if cfg.Board == config.BoardPeriph {
		return hal.NewPeriphBoard(hal.PeriphConfig{I2CBus: cfg.I2CBus, ADSAddress: cfg.ADSAddress})
	}
	b := hal.NewSimBoard(2*time.Millisecond, cfg.OutputPins()...)
	for i, st := range cfg.Stations {
		b.Attach(st.ChannelSelect, st.Valve, hal.NewSoilModel(simSeeds[i%len(simSeeds)], cfg.TimeScale))
	}
	log.Printf("waterer: simulated board, %d stations, time scale x%v", len(cfg.Stations), cfg.TimeScale)
	return b, nil
}

func main() {
	envFile := os.Getenv("WATERER_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	cfg, err := config.Load(envFile)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- Hardware ----
	board, err := newBoard(cfg)
	if err != nil {
		log.Fatalf("board: %v", err)
	}
	defer board.Close()
	// stato iniziale: tutte le uscite basse, nessuna valvola aperta
	if err := hal.ForceLow(board, cfg.OutputPins()...); err != nil {
		log.Fatalf("init outputs: %v", err)
	}

	m := metrics.New()
	sensor := hal.NewMoistureSensor(board, cfg.SensorRetries)
	act := hal.NewActuator(board, sensor, cfg.Indicator)
	clock := timing.New(hal.SystemTimer{}, cfg.Second())

	// ---- Event sinks (opzionali) ----
	sinks := event.MultiSink{event.LogSink{}}
	probe := event.Probe{
		MaxLoopAge:  cfg.Scale(cfg.MaxLoopAge),
		MinErrorAge: 30 * time.Second,
	}

	var pub *broker.Publisher
	if cfg.MQTTEnabled {
		client, err := broker.NewConn(ctx, &cfg.Broker)
		if err != nil {
			log.Printf("waterer: MQTT disabled: %v", err)
		} else {
			pub = broker.NewPublisher(client, 5*time.Second)
			sinks = append(sinks, event.NewMQTTSink(pub, event.DefaultTopics(cfg.EventTopicPrefix)))
			probe.Broker = pub
		}
	}

	var influx influxdb2.Client
	if cfg.InfluxEnabled {
		opts := influxdb2.DefaultOptions().SetBatchSize(20).SetFlushInterval(1000)
		influx = influxdb2.NewClientWithOptions(cfg.InfluxURL, cfg.InfluxToken, opts)
		writer := event.NewWriter(influx.WriteAPI(cfg.InfluxOrg, cfg.InfluxBucket))
		sinks = append(sinks, writer)
		probe.Writer = writer
		log.Printf("waterer: journaling events to %s bucket=%s", cfg.InfluxURL, cfg.InfluxBucket)
	}

	sink := event.NewFaultFilter(sinks, dedup.New(cfg.Scale(cfg.FaultDedupTTL), 1000))

	// ---- Sequencer + driver ----
	seq := waterer.NewSequencer(sensor, act, clock, waterer.Limits{
		MaxWateringDuration: cfg.Scale(cfg.MaxWatering),
		MaxSamples:          cfg.MaxSamples,
	})
	seq.SetSink(sink)
	seq.SetMetrics(m)

	drv := waterer.NewDriver(cfg.Stations, seq, clock, waterer.BreakerConfig{
		Failures: uint32(cfg.BreakerFailures),
		Timeout:  cfg.Scale(cfg.BreakerTimeout),
	}, m)
	drv.SetSink(sink)
	probe.Loop = drv

	// ---- HTTP ----
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.Handle("/healthz", event.NewHealthHandler(probe))
	mux.Handle("/readyz", event.NewReadyHandler(probe))
	if influx != nil {
		mux.Handle("/events/watering/latest", event.NewWateringLatestHandler(influx, cfg.InfluxOrg, cfg.InfluxBucket))
	}
	hs := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("waterer: HTTP listening on :%d", cfg.HTTPPort)
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	}()

	// ---- gRPC health ----
	lis, err := net.Listen("tcp", ":"+strconv.Itoa(cfg.GRPCPort))
	if err != nil {
		log.Fatalf("listen grpc :%d: %v", cfg.GRPCPort, err)
	}
	grpcServer := grpc.NewServer()
	gh := event.NewGRPCHealth(probe)
	healthpb.RegisterHealthServer(grpcServer, gh.Server())
	go gh.Run(ctx, 10*time.Second)
	go func() {
		log.Printf("waterer: gRPC health on :%d", cfg.GRPCPort)
		if err := grpcServer.Serve(lis); err != nil {
			log.Printf("grpc serve error: %v", err)
		}
	}()

	// ---- Loop ----
	done := make(chan error, 1)
	go func() { done <- drv.RunForever(ctx) }()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigc:
		log.Println("waterer: shutting down...")
		cancel()
		<-done
	case err := <-done:
		log.Printf("waterer: loop stopped: %v", err)
		cancel()
	}

	// nessuna valvola resta aperta dopo l'uscita
	if open := act.OpenValves(); len(open) > 0 {
		log.Printf("waterer: closing valves left open: %v", open)
	}
	if err := act.CloseAll(cfg.Stations); err != nil {
		log.Printf("waterer: close valves: %v", err)
	}
	if err := hal.ForceLow(board, cfg.OutputPins()...); err != nil {
		log.Printf("waterer: force outputs low: %v", err)
	}

	shCtx, shCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shCancel()
	_ = hs.Shutdown(shCtx)
	grpcServer.GracefulStop()

	if probe.Writer != nil {
		probe.Writer.Flush()
		influx.Close()
	}
	if pub != nil {
		pub.Close()
	}
}
