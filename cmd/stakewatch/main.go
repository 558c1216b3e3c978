// package main: stakewatch bot
//
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tarancss/stakewatch/api"
	"github.com/tarancss/stakewatch/bot"
	"github.com/tarancss/stakewatch/explorer"
	"github.com/tarancss/stakewatch/lib/audit"
	"github.com/tarancss/stakewatch/lib/block/cryptoid"
	"github.com/tarancss/stakewatch/lib/cache"
	"github.com/tarancss/stakewatch/lib/config"
	"github.com/tarancss/stakewatch/lib/logging"
	"github.com/tarancss/stakewatch/lib/metrics"
	"github.com/tarancss/stakewatch/lib/msg"
	"github.com/tarancss/stakewatch/lib/msg/amqp"
	"github.com/tarancss/stakewatch/lib/notify"
	"github.com/tarancss/stakewatch/lib/retry"
	"github.com/tarancss/stakewatch/lib/store/db"
)

const (
	metricsPortDefault = "9100"
	shutdownTimeout    = 30 * time.Second
)

func main() {
	// get command line flags
	confPath := flag.String("c", "", "flag to get configuration from json file")
	monitor := flag.Bool("m", false, "flag to serve the status API and Prometheus metrics")
	flag.Parse()

	// extract configuration
	conf, err := config.ExtractConfiguration(*confPath)
	if err != nil {
		logrus.WithError(err).Fatal("cannot load configuration")
	}

	logger := logging.New(conf.LogLevel)
	log := logrus.NewEntry(logger).WithField("service", "stakewatch")

	if err = conf.Validate(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	log.WithFields(logrus.Fields{
		"dbtype":   conf.DbType,
		"interval": conf.Interval,
		"retries":  conf.Retries,
		"mbtype":   conf.MbType,
	}).Info("configuration loaded")

	// capture CTRL+C or docker's SIGTERM for gracious exit
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// connect to database
	dbConn, err := db.New(conf.DbType, conf.DbConn, conf.DbName)
	if err != nil {
		log.WithError(err).Fatal("cannot connect to database")
	}

	defer func() {
		if err := db.Close(conf.DbType, dbConn); err != nil {
			log.WithError(err).Warn("error closing database")
		}
	}()

	// load Prometheus monitor
	var met *metrics.Metrics
	if *monitor || conf.MetricsPort != "" {
		met = metrics.New()
	}

	// audit trail
	var hook notify.Sink
	if conf.WebhookURL != "" {
		hook = notify.NewWebhook(conf.WebhookURL, conf.TimeoutDuration())
	} else {
		log.Warn("no audit webhook configured, audit entries are only logged")
	}

	aud := audit.New(hook, conf.AdminID, log.WithField("component", "audit"))

	// balance source
	rc := retry.New(retry.Policy{Attempts: conf.Retries, Unit: time.Second, Timeout: conf.TimeoutDuration()}, aud,
		log.WithField("component", "retry"), retry.WithObserver(met))
	src := cryptoid.New(conf.APIURL, conf.APIKey, conf.RateLimit)

	// load cache, the bot works without it
	var c *cache.Cache
	if conf.RedisURL != "" {
		if c, err = cache.New(ctx, conf.RedisURL, cache.Options{
			PriceTTL: conf.PriceTTLDuration(),
			CmdLimit: conf.CmdLimit,
		}); err != nil {
			log.WithError(err).Warn("cannot connect to redis, running without cache")
		}
	}

	defer c.Close()

	// load message broker
	var mb msg.MsgBroker

	switch conf.MbType {
	case "amqp":
		r, err := amqp.New(conf.MbConn, log.WithField("component", "amqp"))
		if err != nil {
			time.Sleep(10 * time.Second) // wait 10s for AMQP to be ready and try to reconnect

			if r, err = amqp.New(conf.MbConn, log.WithField("component", "amqp")); err != nil {
				log.WithError(err).Fatal("cannot connect to message broker")
			}
		}

		if err = r.Setup(nil); err != nil {
			log.WithError(err).Fatal("cannot set up message broker")
		}

		defer func() {
			if err := r.Close(); err != nil {
				log.WithError(err).Warn("error closing message broker")
			}
		}()

		mb = r
	case "":
	default:
		log.Warnf("Unknown message broker type: %s", conf.MbType)
	}

	// command front end and chat transport
	b := bot.New(dbConn, src, rc, aud, bot.Options{MaxWallets: conf.MaxWallets, Cache: c, Metrics: met},
		log.WithField("component", "bot"))

	dc, err := bot.NewDiscord(ctx, conf.Token, b, log.WithField("component", "discord"))
	if err != nil {
		log.WithError(err).Fatal("cannot create discord client")
	}

	if err = dc.Open(); err != nil {
		log.WithError(err).Fatal("cannot connect to discord")
	}

	defer dc.Close()

	// create explorer service
	e := explorer.New(dbConn, src, rc, dc, aud, explorer.Options{
		Interval: conf.IntervalDuration(),
		Reward:   conf.RewardAmount(),
		Broker:   mb,
		Metrics:  met,
	}, log.WithField("component", "explorer"))
	e.Start(ctx)

	// status API
	var a *api.API

	if met != nil {
		port := conf.MetricsPort
		if port == "" {
			port = metricsPortDefault
		}

		a = api.New(dbConn, met, log.WithField("component", "api"))
		a.Init("", port)
	}

	<-ctx.Done()
	log.Info("Program killed !")

	// do last actions and wait for all write operations to end
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err = e.Stop(sctx); err != nil {
		log.WithError(err).Warn("explorer did not stop cleanly")
	}

	if a != nil {
		if err = a.Stop(sctx); err != nil {
			log.WithError(err).Warn("error stopping status API")
		}
	}
}
