// Command worker runs the workflow execution worker: it consumes trigger
// events from the Pulse stream, executes workflows node by node, persists
// step checkpoints in MongoDB, and publishes node-status events for the UI.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"
	"goa.design/clue/log"
	"golang.org/x/time/rate"

	clientspulse "github.com/nodeloom/nodeloom/clients/pulse"
	enginepulse "github.com/nodeloom/nodeloom/engine/pulse"
	"github.com/nodeloom/nodeloom/executor"
	"github.com/nodeloom/nodeloom/runner"
	storemongo "github.com/nodeloom/nodeloom/store/mongo"
	storemongoclient "github.com/nodeloom/nodeloom/store/mongo/clients/mongo"
	streampulse "github.com/nodeloom/nodeloom/stream/pulse"
)

func main() {
	var (
		redisAddrF = flag.String("redis-addr", "localhost:6379", "Redis address backing Pulse streams")
		redisPassF = flag.String("redis-password", "", "Redis password")
		mongoURIF  = flag.String("mongo-uri", "mongodb://localhost:27017", "MongoDB connection URI")
		mongoDBF   = flag.String("mongo-db", "nodeloom", "MongoDB database name")
		streamF    = flag.String("stream", "", "Trigger event stream name (defaults to workflow/events)")
		sinkF      = flag.String("sink", "", "Consumer group name (defaults to workflow-runners)")
		httpRPSF   = flag.Float64("http-rps", 0, "Max outbound HTTP requests per second across HTTP_REQUEST nodes (0 = unlimited)")
		dbgF       = flag.Bool("debug", false, "Enable debug logs")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}

	connectCtx, cancelConnect := context.WithTimeout(ctx, 10*time.Second)
	defer cancelConnect()
	mongoClient, err := mongodriver.Connect(connectCtx, mongooptions.Client().ApplyURI(*mongoURIF))
	if err != nil {
		log.Fatalf(ctx, err, "connect mongo")
	}
	defer func() {
		if err := mongoClient.Disconnect(context.Background()); err != nil {
			log.Error(ctx, err, log.KV{K: "msg", V: "disconnect mongo"})
		}
	}()

	rdb := redis.NewClient(&redis.Options{Addr: *redisAddrF, Password: *redisPassF})
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Error(ctx, err, log.KV{K: "msg", V: "close redis"})
		}
	}()

	workflowClient, err := storemongoclient.New(storemongoclient.Options{
		Client:   mongoClient,
		Database: *mongoDBF,
	})
	if err != nil {
		log.Fatalf(ctx, err, "create mongo workflow client")
	}
	db, err := storemongo.New(storemongo.Options{Client: workflowClient})
	if err != nil {
		log.Fatalf(ctx, err, "create workflow store")
	}

	pulseClient, err := clientspulse.New(clientspulse.Options{Redis: rdb})
	if err != nil {
		log.Fatalf(ctx, err, "create pulse client")
	}
	events, err := streampulse.NewSink(streampulse.Options{Client: pulseClient})
	if err != nil {
		log.Fatalf(ctx, err, "create status sink")
	}

	var httpOpts executor.HTTPRequestOptions
	if *httpRPSF > 0 {
		httpOpts.Limiter = rate.NewLimiter(rate.Limit(*httpRPSF), 1)
	}
	run, err := runner.New(runner.Options{
		Store:    db,
		Registry: executor.DefaultWithHTTP(httpOpts),
		Events:   events,
	})
	if err != nil {
		log.Fatalf(ctx, err, "create runner")
	}

	eng, err := enginepulse.New(enginepulse.Options{
		Client:      pulseClient,
		Checkpoints: db,
		Stream:      *streamF,
		SinkName:    *sinkF,
	})
	if err != nil {
		log.Fatalf(ctx, err, "create engine")
	}
	if err := run.Register(ctx, eng); err != nil {
		log.Fatalf(ctx, err, "register workflow function")
	}

	errc := make(chan error)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		errc <- eng.Run(ctx)
	}()

	log.Printf(ctx, "exiting (%v)", <-errc)
	cancel()
	log.Printf(ctx, "exited")
}
