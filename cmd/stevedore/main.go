package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	raven "github.com/getsentry/raven-go"

	"github.com/navlib/stevedore/dispatch"
	"github.com/navlib/stevedore/queue"
	"github.com/navlib/stevedore/respcache"
	"github.com/navlib/stevedore/server"
	"github.com/navlib/stevedore/shard"
	"github.com/navlib/stevedore/upstream"
)

// stevedoreConfig matches the TOML configuration file. Every field has a
// usable default so an empty file gives a development server with an
// in-memory cache and queue.
type stevedoreConfig struct {
	// the service
	PortNumber  string
	PProfPort   string
	ExternalURL string
	SentryDSN   string

	// the response cache
	Mysql         string // DSN; empty selects the embedded QL database
	CacheFile     string // QL file, or "memory"
	CacheLocation string // overflow store location, e.g. "s3:/bucket/prefix"
	MaxInline     int    // bytes; payloads larger than this overflow

	// the shard fleet
	ShardsSmall  int
	ShardsMedium int
	ShardsLarge  int

	// the fulfilment queue
	QueueRegion string // AWS region; empty selects an in-memory queue

	// upstream services
	CatalogURL   string
	CatalogKey   string
	FileBatchURL string
	FileBatchKey string
	RetryCount   int
}

func main() {
	var configFile = flag.String("config-file", "", "location of the configuration file")
	flag.Parse()

	config := stevedoreConfig{
		CacheFile:    "memory",
		ShardsSmall:  1,
		ShardsMedium: 1,
		ShardsLarge:  1,
	}
	if *configFile != "" {
		log.Println("Reading config file", *configFile)
		if _, err := toml.DecodeFile(*configFile, &config); err != nil {
			log.Fatalln("Error reading config file:", err.Error())
		}
	}
	if config.SentryDSN != "" {
		raven.SetDSN(config.SentryDSN)
	}

	log.Println("==========")
	log.Println("Starting stevedore")

	var table respcache.Table
	var err error
	if config.Mysql != "" {
		log.Println("Using MySQL cache table", config.Mysql)
		table, err = respcache.NewMysqlTable(config.Mysql)
	} else {
		log.Println("Using QL cache table", config.CacheFile)
		table, err = respcache.NewQlTable(config.CacheFile)
	}
	if err != nil {
		log.Fatalln("Error opening cache table:", err.Error())
	}

	overflow := parselocation(config.CacheLocation, "")
	if overflow == nil {
		log.Fatalln("Error parsing cache location", config.CacheLocation)
	}
	cache := respcache.New(table, overflow)
	cache.MaxInline = config.MaxInline

	shards, err := shard.New(config.ShardsSmall, config.ShardsMedium, config.ShardsLarge)
	if err != nil {
		log.Fatalln("Error configuring shards:", err.Error())
	}

	var q queue.Queue
	if config.QueueRegion != "" {
		log.Println("Using SQS in region", config.QueueRegion)
		q = queue.NewSQS(session.New(&aws.Config{
			Region: aws.String(config.QueueRegion),
		}))
	} else {
		log.Println("Using in-memory queue")
		q = queue.NewMemory()
	}

	// one retrying client shared by both upstream services
	httpClient := &http.Client{
		Timeout: 60 * time.Second,
		Transport: &upstream.Transport{
			MaxRetries: config.RetryCount,
		},
	}
	batches := &upstream.FileBatchClient{
		BaseURL: config.FileBatchURL,
		APIKey:  config.FileBatchKey,
		HTTP:    httpClient,
	}
	var catalog server.CatalogResolver
	if config.CatalogURL != "" {
		log.Println("Using catalog service", config.CatalogURL)
		catalog = &upstream.CatalogClient{
			BaseURL: config.CatalogURL,
			APIKey:  config.CatalogKey,
			HTTP:    httpClient,
		}
	}

	s := &server.RESTServer{
		PortNumber:  config.PortNumber,
		PProfPort:   config.PProfPort,
		ExternalURL: config.ExternalURL,
		Cache:       cache,
		Catalog:     catalog,
		Dispatcher: &dispatch.Dispatcher{
			Cache:   cache,
			Batches: batches,
			Handoff: &queue.Handoff{Q: q, Shards: shards},
		},
	}

	// set up signal handlers
	sig := make(chan os.Signal, 5)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for range sig {
			log.Println("Received interrupt, shutting down")
			s.Stop()
		}
	}()

	err = s.Run()
	if err != nil {
		log.Println("Server exit:", err.Error())
	}
	log.Println("Exiting")
}
