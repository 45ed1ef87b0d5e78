package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/alecthomas/kong"
	exchange "github.com/goliatone/go-exchange"
	"github.com/goliatone/go-exchange/config"
	"github.com/goliatone/go-exchange/engine"
	"github.com/goliatone/go-exchange/processor"
	"github.com/goliatone/go-exchange/producer"
)

type globals struct {
	ConfigFile string `help:"Path to a YAML or JSON configuration file." name:"config" type:"existingfile" short:"c"`
	LogLevel   string `help:"Override logging.level." name:"log-level"`
	Backend    string `help:"Override logging.backend (glog, zap or fmt)."`
	JSON       bool   `help:"Emit JSON logs."`
}

func (g *globals) load() (config.Config, error) {
	cfg := config.Default()
	if g.ConfigFile != "" {
		loaded, err := config.Load(g.ConfigFile)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	if g.LogLevel != "" {
		cfg.Logging.Level = g.LogLevel
	}
	if g.Backend != "" {
		cfg.Logging.Backend = g.Backend
	}
	if g.JSON {
		cfg.Logging.JSON = true
	}
	return cfg, cfg.Validate()
}

type runCmd struct {
	Body    string        `help:"Body of the exchange sent." default:"hello"`
	Count   int           `help:"Number of exchanges to send." default:"3"`
	Delay   time.Duration `help:"Delay of the asynchronous stage." default:"10ms"`
	Timeout time.Duration `help:"Overall timeout for the run." default:"5s"`
}

func (r *runCmd) Run(g *globals, out io.Writer) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	logger, err := engine.NewLogger(cfg.Logging, os.Stderr)
	if err != nil {
		return err
	}

	e, err := engine.New(cfg, engine.WithLogger(logger))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.Timeout)
	defer cancel()

	if err := e.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := e.Stop(context.Background()); err != nil {
			logger.Error("engine stop: %v", err)
		}
	}()

	ep := e.Endpoint("direct:demo", func(_ context.Context, ep producer.Endpoint) (producer.Producer, error) {
		return producer.NewBase(ep, processor.NewPipeline(
			e.Stage("suffix", processor.ToAsync(suffix("-sync"))),
			e.Stage("delayed", delayed(r.Delay, "-async")),
		)), nil
	})

	e.Route("direct:demo.#", ep)

	for i := 0; i < r.Count; i++ {
		ex := e.CreateExchange(
			exchange.WithPattern(exchange.InOnly),
			exchange.WithBody(fmt.Sprintf("%s-%d", r.Body, i)),
		)
		if err := e.SendTo(ctx, fmt.Sprintf("direct:demo.%d", i), ex); err != nil {
			return err
		}
		if ex.IsFailed() {
			logger.Error("exchange %s failed: %v", ex.ID(), ex.Failure())
		}
		fmt.Fprintf(out, "%s %v elapsed=%s\n", ex.ID(), ex.In().Body(), ex.Elapsed())
		e.ReleaseExchange(ex)
	}

	stats := e.Stats()
	fmt.Fprintf(out, "producers: %s\n", stats.Producers)
	fmt.Fprintf(out, "await: total=%d completed=%d timed_out=%d interrupted=%d in_flight=%d\n",
		stats.Await.Total, stats.Await.Completed, stats.Await.TimedOut, stats.Await.Interrupted, stats.Await.InFlight)
	return nil
}

type configCmd struct{}

func (c *configCmd) Run(g *globals, out io.Writer) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	data, err := config.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = out.Write(data)
	return err
}

type cli struct {
	globals

	Run    runCmd    `cmd:"" help:"Send exchanges through a two stage demo route."`
	Config configCmd `cmd:"" name:"config" help:"Print the effective configuration."`
}

func suffix(s string) processor.Func {
	return func(_ context.Context, ex *exchange.Exchange) error {
		body, _ := ex.In().Body().(string)
		ex.In().SetBody(body + s)
		return nil
	}
}

func delayed(d time.Duration, s string) processor.AsyncProcessor {
	return processor.AsyncFunc(func(ctx context.Context, ex *exchange.Exchange, cb processor.Callback) bool {
		go func() {
			select {
			case <-time.After(d):
				body, _ := ex.In().Body().(string)
				ex.In().SetBody(body + s)
			case <-ctx.Done():
				ex.SetFailure(ctx.Err())
			}
			cb.Done(false)
		}()
		return false
	})
}

func main() {
	var c cli
	kctx := kong.Parse(&c,
		kong.Name("exchange"),
		kong.Description("Run the message exchange engine."),
		kong.UsageOnError(),
		kong.BindTo(os.Stdout, (*io.Writer)(nil)),
	)
	err := kctx.Run(&c.globals)
	kctx.FatalIfErrorf(err)
}
